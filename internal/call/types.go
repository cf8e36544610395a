package call

import (
	"fmt"
	"time"
)

// Status tracks the overall call lifecycle. Monotonic except for the rollback
// from transferring to active when a transfer fails.
type Status string

const (
	StatusActive       Status = "active"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
)

// CustomerStatus tracks whether the customer is on hold pending a merge.
// escalated means customer audio is disabled both ways and hold audio plays.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerEscalated CustomerStatus = "escalated"
	CustomerPassive   CustomerStatus = "passive"
)

// SupervisorStatus tracks the receiving agent's half of the handshake. It is
// independent of CustomerStatus because the consult room and the customer
// room fail independently.
type SupervisorStatus string

const (
	SupervisorInactive    SupervisorStatus = "inactive"
	SupervisorSummarizing SupervisorStatus = "summarizing"
	SupervisorMerged      SupervisorStatus = "merged"
	SupervisorFailed      SupervisorStatus = "failed"
)

// Entry is one speaker-tagged utterance in the conversation history.
type Entry struct {
	ID      string    `json:"id"`
	Speaker string    `json:"speaker"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Line renders the entry the way the summarizer and agent prompts consume it.
func (e Entry) Line() string {
	return fmt.Sprintf("[%s] %s: %s", e.At.Format("15:04:05"), e.Speaker, e.Message)
}

// Session is one customer call. RoomID and CreatedAt are immutable after
// creation; everything else is mutated by the orchestrator under the
// session's lock.
type Session struct {
	RoomID           string           `json:"room_id"`
	CallerID         string           `json:"caller_id"`
	AgentAID         string           `json:"agent_a_id,omitempty"`
	AgentBID         string           `json:"agent_b_id,omitempty"`
	ConsultRoomID    string           `json:"consult_room_id,omitempty"`
	History          []Entry          `json:"conversation_history"`
	Status           Status           `json:"status"`
	CustomerStatus   CustomerStatus   `json:"customer_status"`
	SupervisorStatus SupervisorStatus `json:"supervisor_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HistoryLines renders the conversation history for summarization.
func (s *Session) HistoryLines() []string {
	lines := make([]string, 0, len(s.History))
	for _, e := range s.History {
		lines = append(lines, e.Line())
	}
	return lines
}
