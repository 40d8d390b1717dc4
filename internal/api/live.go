package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	// closeSessionNotFound is sent when a socket names an unknown session.
	closeSessionNotFound = 4004
)

type clientFrame struct {
	Type string `json:"type"`
}

// handleEchoSocket is a global socket that echoes every text frame.
func (s *Server) handleEchoSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(gin.H{"type": "echo", "message": string(data)}); err != nil {
			return
		}
	}
}

// handleSessionSocket streams a session's live events. All writes happen on
// this goroutine; the reader goroutine only queues replies.
func (s *Server) handleSessionSocket(c *gin.Context) {
	id := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	snap, err := s.orch.Snapshot(id)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeSessionNotFound, "Session not found"),
			time.Now().Add(writeWait))
		return
	}

	sub := s.hub.Subscribe(id)
	defer sub.Close()

	replies := make(chan any, 8)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(readerDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame clientFrame
			if json.Unmarshal(data, &frame) != nil || frame.Type != "ping" {
				continue
			}
			select {
			case replies <- gin.H{"type": "pong"}:
			case <-stop:
				return
			}
		}
	}()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}
	if !write(gin.H{
		"type":                "session_info",
		"session_id":          id,
		"team_size":           snap.Team.Len(),
		"document_count":      len(snap.DocumentIDs),
		"conversation_length": len(snap.Conversation),
	}) {
		return
	}

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if !write(ev) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-readerDone:
			return
		}
	}
}

// handleSSE streams a session's live events as server-sent events.
func (s *Server) handleSSE(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.orch.Snapshot(id); err != nil {
		s.fail(c, err)
		return
	}
	sub := s.hub.Subscribe(id)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "connected", gin.H{"type": "connected", "session_id": id})
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeSSE(c.Writer, string(ev.Type), ev)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
