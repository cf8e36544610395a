package protocol

// EventType identifies call lifecycle events delivered on the per-call
// websocket feed.
type EventType string

const (
	TypeCallInitiated        EventType = "call_initiated"
	TypeAgentConnected       EventType = "agent_connected"
	TypeConversationAppended EventType = "conversation_appended"
	TypeHoldEngaged          EventType = "hold_engaged"
	TypeHoldReleased         EventType = "hold_released"
	TypeTransferStarted      EventType = "transfer_started"
	TypeTransferFailed       EventType = "transfer_failed"
	TypeCallsMerged          EventType = "calls_merged"
	TypeCallEnded            EventType = "call_ended"
)

// CallEvent is the websocket payload for one lifecycle event.
type CallEvent struct {
	Type             EventType `json:"type"`
	RoomID           string    `json:"room_id"`
	Status           string    `json:"status,omitempty"`
	CustomerStatus   string    `json:"customer_status,omitempty"`
	SupervisorStatus string    `json:"supervisor_status,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	TSMs             int64     `json:"ts_ms"`
}
