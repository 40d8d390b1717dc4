package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags a conversation entry.
type Kind string

const (
	KindUser   Kind = "user"
	KindAgent  Kind = "agent"
	KindSystem Kind = "system"
)

// Message is one immutable conversation entry. The set of implementations is
// closed: UserMessage, AgentMessage and SystemMessage.
type Message interface {
	Kind() Kind
	Text() string
	Time() time.Time
	stamped(at time.Time) Message
}

// UserMessage is a prompt typed by the user.
type UserMessage struct {
	Content string
	At      time.Time
}

// AgentMessage is a persona's contribution to a turn.
type AgentMessage struct {
	AgentID      string
	AgentName    string
	Role         string
	Model        string
	Content      string
	At           time.Time
	ResponseTime time.Duration
	Moderator    bool
}

// SystemMessage records an event such as a failed generation. AgentName is
// set when the message stands in for a persona's missing response.
type SystemMessage struct {
	Content   string
	At        time.Time
	AgentName string
}

func (m UserMessage) Kind() Kind      { return KindUser }
func (m UserMessage) Text() string    { return m.Content }
func (m UserMessage) Time() time.Time { return m.At }
func (m UserMessage) stamped(at time.Time) Message {
	m.At = at
	return m
}

func (m AgentMessage) Kind() Kind      { return KindAgent }
func (m AgentMessage) Text() string    { return m.Content }
func (m AgentMessage) Time() time.Time { return m.At }
func (m AgentMessage) stamped(at time.Time) Message {
	m.At = at
	return m
}

func (m SystemMessage) Kind() Kind      { return KindSystem }
func (m SystemMessage) Text() string    { return m.Content }
func (m SystemMessage) Time() time.Time { return m.At }
func (m SystemMessage) stamped(at time.Time) Message {
	m.At = at
	return m
}

type userWire struct {
	Type      Kind      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type agentWire struct {
	Type                Kind      `json:"type"`
	AgentID             string    `json:"agent_id"`
	AgentName           string    `json:"agent_name"`
	Role                string    `json:"role"`
	Model               string    `json:"model"`
	Content             string    `json:"content"`
	Timestamp           time.Time `json:"timestamp"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
	ResponseLength      int       `json:"response_length"`
	IsModerator         bool      `json:"is_moderator"`
}

type systemWire struct {
	Type      Kind      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agent_name,omitempty"`
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(userWire{Type: KindUser, Content: m.Content, Timestamp: m.At})
}

func (m AgentMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(agentWire{
		Type:                KindAgent,
		AgentID:             m.AgentID,
		AgentName:           m.AgentName,
		Role:                m.Role,
		Model:               m.Model,
		Content:             m.Content,
		Timestamp:           m.At,
		ResponseTimeSeconds: roundSeconds(m.ResponseTime),
		ResponseLength:      len(m.Content),
		IsModerator:         m.Moderator,
	})
}

func (m SystemMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(systemWire{Type: KindSystem, Content: m.Content, Timestamp: m.At, AgentName: m.AgentName})
}

// roundSeconds reports d in seconds with two decimals.
func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}

// DecodeMessage parses one JSON-encoded message, dispatching on its type tag.
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("session: decode message: %w", err)
	}
	switch head.Type {
	case KindUser:
		var w userWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("session: decode user message: %w", err)
		}
		return UserMessage{Content: w.Content, At: w.Timestamp}, nil
	case KindAgent:
		var w agentWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("session: decode agent message: %w", err)
		}
		return AgentMessage{
			AgentID:      w.AgentID,
			AgentName:    w.AgentName,
			Role:         w.Role,
			Model:        w.Model,
			Content:      w.Content,
			At:           w.Timestamp,
			ResponseTime: time.Duration(w.ResponseTimeSeconds * float64(time.Second)),
			Moderator:    w.IsModerator,
		}, nil
	case KindSystem:
		var w systemWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("session: decode system message: %w", err)
		}
		return SystemMessage{Content: w.Content, At: w.Timestamp, AgentName: w.AgentName}, nil
	default:
		return nil, fmt.Errorf("session: decode message: unknown type %q", head.Type)
	}
}
