// Package persona defines review team members and validates team composition.
package persona

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxTeamSize bounds the number of members in one session.
	MaxTeamSize = 10
	maxNameLen  = 50
	maxRoleLen  = 200
	maxIDLen    = 100
)

// Persona is one configured reviewer. Personas are immutable once a team is built.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Model        string `json:"model"`
	IsModerator  bool   `json:"is_moderator"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Team is an ordered set of personas with exactly one moderator.
type Team struct {
	members   []Persona
	moderator int
}

// TeamOpts controls team validation.
type TeamOpts struct {
	// ModeratorName designates the moderator when no member sets IsModerator.
	ModeratorName string
	// Tiers lists the accepted model tiers. Empty accepts any tier.
	Tiers []string
	// DefaultTier fills Model when a member leaves it empty.
	DefaultTier string
}

// TeamError describes every problem found while building a team.
type TeamError struct {
	Problems []string
}

func (e *TeamError) Error() string {
	return "persona: invalid team: " + strings.Join(e.Problems, "; ")
}

// NewTeam validates members and returns a Team. The input slice is copied.
func NewTeam(members []Persona, opts TeamOpts) (Team, error) {
	var problems []string
	if len(members) == 0 {
		return Team{}, &TeamError{Problems: []string{"team has no members"}}
	}
	if len(members) > MaxTeamSize {
		problems = append(problems, fmt.Sprintf("team has %d members, at most %d allowed", len(members), MaxTeamSize))
	}

	known := make(map[string]bool, len(opts.Tiers))
	for _, t := range opts.Tiers {
		known[t] = true
	}

	out := make([]Persona, len(members))
	seen := make(map[string]bool, len(members))
	flagged := -1
	flaggedCount := 0
	for i, m := range members {
		m.Name = strings.TrimSpace(m.Name)
		m.Role = strings.TrimSpace(m.Role)
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			m.ID = Slug(m.Name)
		}
		if m.Model == "" {
			m.Model = opts.DefaultTier
		}

		switch {
		case m.Name == "":
			problems = append(problems, fmt.Sprintf("member %d: name is required", i+1))
		case len(m.Name) > maxNameLen:
			problems = append(problems, fmt.Sprintf("member %d: name longer than %d characters", i+1, maxNameLen))
		}
		switch {
		case m.Role == "":
			problems = append(problems, fmt.Sprintf("member %d: role is required", i+1))
		case len(m.Role) > maxRoleLen:
			problems = append(problems, fmt.Sprintf("member %d: role longer than %d characters", i+1, maxRoleLen))
		}
		if len(m.ID) > maxIDLen {
			problems = append(problems, fmt.Sprintf("member %d: id longer than %d characters", i+1, maxIDLen))
		}
		if m.ID != "" {
			if seen[m.ID] {
				problems = append(problems, fmt.Sprintf("member %d: duplicate id %q", i+1, m.ID))
			}
			seen[m.ID] = true
		}
		if len(known) > 0 && !known[m.Model] {
			problems = append(problems, fmt.Sprintf("member %d: unknown model tier %q", i+1, m.Model))
		}
		if m.IsModerator {
			flagged = i
			flaggedCount++
		}
		out[i] = m
	}

	moderator := flagged
	switch {
	case flaggedCount > 1:
		problems = append(problems, fmt.Sprintf("team has %d moderators, exactly one required", flaggedCount))
	case flaggedCount == 0 && opts.ModeratorName != "":
		for i, m := range out {
			if m.Name == opts.ModeratorName {
				if moderator >= 0 {
					problems = append(problems, fmt.Sprintf("more than one member is named %q", opts.ModeratorName))
					break
				}
				moderator = i
			}
		}
	}
	if moderator < 0 && flaggedCount <= 1 {
		problems = append(problems, "team has no moderator")
	}
	peers := len(out)
	if moderator >= 0 {
		out[moderator].IsModerator = true
		peers--
	}
	if peers == 0 {
		problems = append(problems, "team needs at least one non-moderator member")
	}

	if len(problems) > 0 {
		return Team{}, &TeamError{Problems: problems}
	}
	return Team{members: out, moderator: moderator}, nil
}

// Members returns a copy of all personas in declaration order.
func (t Team) Members() []Persona {
	return append([]Persona(nil), t.members...)
}

// Len returns the number of members, moderator included.
func (t Team) Len() int { return len(t.members) }

// Moderator returns the designated moderator.
func (t Team) Moderator() Persona {
	return t.members[t.moderator]
}

// Peers returns the non-moderator personas in declaration order.
func (t Team) Peers() []Persona {
	peers := make([]Persona, 0, len(t.members)-1)
	for i, m := range t.members {
		if i != t.moderator {
			peers = append(peers, m)
		}
	}
	return peers
}

// Lookup finds a persona by name.
func (t Team) Lookup(name string) (Persona, bool) {
	for _, m := range t.members {
		if m.Name == name {
			return m, true
		}
	}
	return Persona{}, false
}

// Slug derives a lower-case, dash-separated identifier from a display name.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
