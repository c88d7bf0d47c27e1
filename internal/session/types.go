package session

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversational entry kept in session history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Escalation tracks an in-progress human-handoff slot-filling episode.
// Filled fields are never overwritten within the same episode.
type Escalation struct {
	Active   bool   `json:"active"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Question string `json:"question"`
	// Lang is detected from the triggering message and fixes the prompt
	// language for the whole episode.
	Lang string `json:"lang,omitempty"`
}

// Complete reports whether all three slots are filled.
func (e Escalation) Complete() bool {
	return e.Name != "" && e.Phone != "" && e.Question != ""
}

// Session holds per-visitor conversation state, keyed by the sid cookie.
type Session struct {
	ID             string     `json:"session_id"`
	History        []Message  `json:"history"`
	Escalation     Escalation `json:"escalation"`
	Greeted        bool       `json:"greeted"`
	LastSeq        int        `json:"last_seq"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}
