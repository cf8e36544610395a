package call

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/handoff/internal/agent"
	"github.com/antoniostano/handoff/internal/apperr"
	"github.com/antoniostano/handoff/internal/observability"
	"github.com/antoniostano/handoff/internal/policy"
	"github.com/antoniostano/handoff/internal/protocol"
	"github.com/antoniostano/handoff/internal/room"
	"github.com/antoniostano/handoff/internal/summary"
	"github.com/antoniostano/handoff/internal/token"
	"github.com/antoniostano/handoff/internal/transcript"
)

const (
	holdNotice    = "Please hold while I connect you to another support agent."
	failureNotice = "We're unable to connect you to another agent right now. Let's continue."
	handoffNotice = "You are now connected to another support agent. I'll be leaving the call."
)

// Orchestrator drives the warm transfer state machine. Every transition for
// a session runs under that session's transition lock, so explicit API calls
// and transport-delivered events can never interleave for one call.
type Orchestrator struct {
	registry   *Registry
	rooms      room.Directory
	tokens     *token.Issuer
	summarizer summary.Summarizer
	agents     agent.Factory
	hold       agent.HoldPlayer
	archive    transcript.Store
	events     *EventHub
	metrics    *observability.Metrics
	holdTrack  string

	mu       sync.Mutex
	runtimes map[string]*callRuntime
}

// callRuntime holds the per-call handles that never leave the process:
// agent session handles, the hold playback handle, and the watcher flags
// that decide whether transport events still matter.
type callRuntime struct {
	agentA       agent.Session
	agentB       agent.Session
	holdHandle   *agent.PlayHandle
	consultArmed bool
	watchRoom    bool
}

func NewOrchestrator(
	registry *Registry,
	rooms room.Directory,
	tokens *token.Issuer,
	summarizer summary.Summarizer,
	agents agent.Factory,
	hold agent.HoldPlayer,
	archive transcript.Store,
	events *EventHub,
	metrics *observability.Metrics,
	holdTrack string,
) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		rooms:      rooms,
		tokens:     tokens,
		summarizer: summarizer,
		agents:     agents,
		hold:       hold,
		archive:    archive,
		events:     events,
		metrics:    metrics,
		holdTrack:  holdTrack,
		runtimes:   make(map[string]*callRuntime),
	}
}

type InitiateCallResult struct {
	RoomID      string `json:"room_id"`
	CallerToken string `json:"caller_token"`
	Status      string `json:"status"`
}

type ConnectAgentResult struct {
	RoomID     string `json:"room_id"`
	AgentToken string `json:"agent_token"`
	AgentType  string `json:"agent_type"`
	Status     string `json:"status"`
}

type TransferResult struct {
	OriginalRoomID string `json:"original_room_id"`
	TransferRoomID string `json:"transfer_room_id,omitempty"`
	AgentAToken    string `json:"agent_a_token,omitempty"`
	AgentBToken    string `json:"agent_b_token,omitempty"`
	CallSummary    string `json:"call_summary,omitempty"`
	Status         string `json:"status"`
}

type CompleteResult struct {
	RoomID      string `json:"room_id"`
	AgentBToken string `json:"agent_b_token,omitempty"`
	Status      string `json:"status"`
}

// InitiateCall creates the customer room, registers the session and mints
// the caller's capability token.
func (o *Orchestrator) InitiateCall(ctx context.Context, callerID string) (InitiateCallResult, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return InitiateCallResult{}, apperr.New(apperr.KindInvalidArgument, "caller_id is required")
	}

	roomID := fmt.Sprintf("call_%s_%d", callerID, time.Now().Unix())
	if err := o.rooms.CreateRoom(ctx, roomID); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("transport", "create_room").Inc()
		return InitiateCallResult{}, apperr.Wrap(apperr.KindUnavailable, "create customer room", err)
	}

	sess := Session{
		RoomID:           roomID,
		CallerID:         callerID,
		Status:           StatusActive,
		CustomerStatus:   CustomerActive,
		SupervisorStatus: SupervisorInactive,
	}
	if err := o.registry.Create(sess); err != nil {
		return InitiateCallResult{}, err
	}

	tok, err := o.tokens.Mint("caller_"+callerID, callerID, token.ParticipantGrants(roomID), 0)
	if err != nil {
		return InitiateCallResult{}, err
	}

	o.metrics.TokensIssued.WithLabelValues("caller").Inc()
	o.metrics.ActiveCalls.Set(float64(o.registry.ActiveCount()))
	o.publish(protocol.TypeCallInitiated, sess, "")

	return InitiateCallResult{RoomID: roomID, CallerToken: tok, Status: "call_initiated"}, nil
}

// ConnectAgent mints a customer-room token for an agent and records it on
// the session. Connecting Agent A also starts the support persona session.
func (o *Orchestrator) ConnectAgent(ctx context.Context, roomID, agentID, agentType string) (ConnectAgentResult, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return ConnectAgentResult{}, apperr.New(apperr.KindInvalidArgument, "agent_id is required")
	}
	agentType = strings.ToUpper(strings.TrimSpace(agentType))
	if agentType == "" {
		agentType = "A"
	}
	if agentType != "A" && agentType != "B" {
		return ConnectAgentResult{}, apperr.Newf(apperr.KindInvalidArgument, "agent_type must be A or B, got %q", agentType)
	}

	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return ConnectAgentResult{}, err
	}
	defer unlock()

	tok, err := o.tokens.Mint("agent_"+agentID, agentID, token.ParticipantGrants(roomID), 0)
	if err != nil {
		return ConnectAgentResult{}, err
	}

	snap, err := o.registry.Update(roomID, func(s *Session) error {
		if agentType == "A" {
			s.AgentAID = agentID
		} else {
			s.AgentBID = agentID
		}
		return nil
	})
	if err != nil {
		return ConnectAgentResult{}, err
	}

	if agentType == "A" {
		rt := o.runtime(roomID)
		if rt.agentA == nil {
			sess, err := o.agents.Start(ctx, agent.SupportPersona(), roomID, "agent_"+agentID)
			if err != nil {
				return ConnectAgentResult{}, apperr.Wrap(apperr.KindUnavailable, "start support agent session", err)
			}
			rt.agentA = sess
		}
	}

	o.metrics.TokensIssued.WithLabelValues("agent").Inc()
	o.publish(protocol.TypeAgentConnected, snap, "agent "+agentID+" as "+agentType)

	return ConnectAgentResult{RoomID: roomID, AgentToken: tok, AgentType: agentType, Status: "agent_connected"}, nil
}

// StartTransfer escalates the customer, briefs a receiving agent in a fresh
// consult room and arms the consult-room failure watcher. Guarded: a
// transfer already in flight makes this a silent no-op. Any failure after
// escalation rolls the customer back to active and runs the failure path,
// so no partial state survives claiming an in-progress transfer.
func (o *Orchestrator) StartTransfer(ctx context.Context, roomID, agentBID string) (TransferResult, error) {
	agentBID = strings.TrimSpace(agentBID)
	if agentBID == "" {
		return TransferResult{}, apperr.New(apperr.KindInvalidArgument, "agent_b_id is required")
	}

	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return TransferResult{}, err
	}
	defer unlock()

	snap, err := o.registry.Get(roomID)
	if err != nil {
		return TransferResult{}, err
	}
	if snap.CustomerStatus != CustomerActive {
		return TransferResult{OriginalRoomID: roomID, Status: "transfer_in_progress"}, nil
	}

	rt := o.runtime(roomID)

	if rt.agentA != nil {
		_ = rt.agentA.Say(ctx, holdNotice)
	}

	if _, err := o.registry.Update(roomID, func(s *Session) error {
		s.CustomerStatus = CustomerEscalated
		s.SupervisorStatus = SupervisorInactive
		return nil
	}); err != nil {
		return TransferResult{}, err
	}

	res, err := o.startConsult(ctx, roomID, agentBID, snap, rt)
	if err != nil {
		_, _ = o.registry.Update(roomID, func(s *Session) error {
			s.CustomerStatus = CustomerActive
			return nil
		})
		o.failTransferLocked(ctx, roomID, rt, err.Error())
		return TransferResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) startConsult(ctx context.Context, roomID, agentBID string, snap Session, rt *callRuntime) (TransferResult, error) {
	if err := o.engageHold(ctx, roomID, rt); err != nil {
		return TransferResult{}, apperr.Wrap(apperr.KindUnavailable, "engage hold", err)
	}

	consultRoom := fmt.Sprintf("transfer_%s_%d", roomID, time.Now().Unix())
	if err := o.rooms.CreateRoom(ctx, consultRoom); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("transport", "create_room").Inc()
		return TransferResult{}, apperr.Wrap(apperr.KindUnavailable, "create consult room", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = o.rooms.DeleteRoom(ctx, consultRoom)
		}
	}()

	started := time.Now()
	summaryText := o.summarizer.Summarize(ctx, snap.HistoryLines())
	o.metrics.ObserveSummaryLatency(time.Since(started))

	var agentAToken string
	if snap.AgentAID != "" {
		tok, err := o.tokens.Mint("agent_"+snap.AgentAID, snap.AgentAID, token.ParticipantGrants(consultRoom), 0)
		if err != nil {
			return TransferResult{}, err
		}
		agentAToken = tok
	}
	agentBToken, err := o.tokens.Mint("agent_"+agentBID, agentBID, token.ParticipantGrants(consultRoom), 0)
	if err != nil {
		return TransferResult{}, err
	}

	receiving, err := o.agents.Start(ctx, agent.ReceivingPersona(summaryText), consultRoom, "agent_"+agentBID)
	if err != nil {
		return TransferResult{}, apperr.Wrap(apperr.KindUnavailable, "start receiving agent session", err)
	}
	rt.agentB = receiving
	rt.consultArmed = true

	next, err := o.registry.Update(roomID, func(s *Session) error {
		s.Status = StatusTransferring
		s.SupervisorStatus = SupervisorSummarizing
		s.AgentBID = agentBID
		s.ConsultRoomID = consultRoom
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	committed = true
	o.metrics.TokensIssued.WithLabelValues("agent").Add(2)
	o.metrics.TransferEvents.WithLabelValues("started").Inc()
	o.publish(protocol.TypeTransferStarted, next, "consult room "+consultRoom)

	return TransferResult{
		OriginalRoomID: roomID,
		TransferRoomID: consultRoom,
		AgentAToken:    agentAToken,
		AgentBToken:    agentBToken,
		CallSummary:    summaryText,
		Status:         "transfer_initiated",
	}, nil
}

// MergeCalls moves the receiving agent into the customer room and releases
// Agent A. Guarded: a no-op unless the receiving agent is currently being
// briefed. The consult watcher is disarmed before the move so the resulting
// consult-room teardown is not mistaken for a failure.
func (o *Orchestrator) MergeCalls(ctx context.Context, roomID string) (CompleteResult, error) {
	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return CompleteResult{}, err
	}
	defer unlock()

	snap, err := o.registry.Get(roomID)
	if err != nil {
		return CompleteResult{}, err
	}
	if snap.SupervisorStatus != SupervisorSummarizing {
		return CompleteResult{RoomID: roomID, Status: "transfer_not_ready"}, nil
	}

	rt := o.runtime(roomID)
	rt.consultArmed = false

	identity := "agent_" + snap.AgentBID
	if err := o.rooms.MoveParticipant(ctx, identity, snap.ConsultRoomID, roomID); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("transport", "move_participant").Inc()
		o.failTransferLocked(ctx, roomID, rt, "merge failed: "+err.Error())
		return CompleteResult{}, err
	}

	o.disengageHold(ctx, roomID, rt)

	// From here on, either remaining party leaving ends the call.
	rt.watchRoom = true

	if rt.agentA != nil {
		_ = rt.agentA.Say(ctx, handoffNotice)
		_ = rt.agentA.Close(ctx)
		rt.agentA = nil
	}
	if rt.agentB != nil {
		// The consult-room handle is redundant once the agent has moved.
		_ = rt.agentB.Close(ctx)
		rt.agentB = nil
	}

	var agentBToken string
	if snap.AgentBID != "" {
		tok, err := o.tokens.Mint(identity, snap.AgentBID, token.ParticipantGrants(roomID), 0)
		if err != nil {
			log.Printf("mint customer-room token for %s failed: %v", identity, err)
		} else {
			agentBToken = tok
			o.metrics.TokensIssued.WithLabelValues("agent").Inc()
		}
	}

	next, err := o.registry.Update(roomID, func(s *Session) error {
		s.Status = StatusCompleted
		s.CustomerStatus = CustomerPassive
		s.SupervisorStatus = SupervisorMerged
		s.AgentAID = ""
		s.ConsultRoomID = ""
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	if snap.ConsultRoomID != "" {
		_ = o.rooms.DeleteRoom(ctx, snap.ConsultRoomID)
	}

	o.metrics.TransferEvents.WithLabelValues("merged").Inc()
	o.metrics.ActiveCalls.Set(float64(o.registry.ActiveCount()))
	o.publish(protocol.TypeCallsMerged, next, "")

	return CompleteResult{RoomID: roomID, AgentBToken: agentBToken, Status: "transfer_completed"}, nil
}

// FailTransfer runs the failure path explicitly.
func (o *Orchestrator) FailTransfer(ctx context.Context, roomID string) error {
	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return err
	}
	defer unlock()

	o.failTransferLocked(ctx, roomID, o.runtime(roomID), "failure requested")
	return nil
}

// failTransferLocked releases the receiving-agent side and restores the
// customer. Idempotent and re-entrant safe: it can interrupt the happy path
// at any point without double-releasing resources or repeating the spoken
// notice. Callers hold the session's transition lock.
func (o *Orchestrator) failTransferLocked(ctx context.Context, roomID string, rt *callRuntime, detail string) {
	snap, err := o.registry.Get(roomID)
	if err != nil {
		return
	}
	if snap.SupervisorStatus == SupervisorFailed && rt.agentB == nil && rt.holdHandle == nil {
		return
	}

	rt.consultArmed = false
	consultRoom := snap.ConsultRoomID

	o.disengageHold(ctx, roomID, rt)

	if rt.agentB != nil {
		_ = rt.agentB.Close(ctx)
		rt.agentB = nil
	}

	next, err := o.registry.Update(roomID, func(s *Session) error {
		s.SupervisorStatus = SupervisorFailed
		s.CustomerStatus = CustomerActive
		if s.Status != StatusCompleted {
			s.Status = StatusActive
		}
		s.ConsultRoomID = ""
		return nil
	})
	if err != nil {
		return
	}

	if rt.agentA != nil {
		_ = rt.agentA.Say(ctx, failureNotice)
	}

	if consultRoom != "" {
		_ = o.rooms.DeleteRoom(ctx, consultRoom)
	}

	o.metrics.TransferEvents.WithLabelValues("failed").Inc()
	o.publish(protocol.TypeTransferFailed, next, detail)
	log.Printf("transfer failed for %s: %s", roomID, detail)
}

// ConsultRoomClosed handles the transport's notification that a consult room
// disconnected. Stale notifications (after a merge disarmed the watcher, or
// for a consult room from an earlier attempt) are ignored.
func (o *Orchestrator) ConsultRoomClosed(ctx context.Context, roomID, consultRoom string) {
	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return
	}
	defer unlock()

	snap, err := o.registry.Get(roomID)
	if err != nil {
		return
	}
	rt := o.runtime(roomID)
	if !rt.consultArmed || snap.ConsultRoomID != consultRoom {
		return
	}
	o.failTransferLocked(ctx, roomID, rt, "consult room closed: "+consultRoom)
}

// ParticipantDisconnected ends a merged call when a non-agent participant
// leaves the customer room.
func (o *Orchestrator) ParticipantDisconnected(ctx context.Context, roomID, identity, kind string) {
	unlock, err := o.registry.Lock(roomID)
	if err != nil {
		return
	}
	defer unlock()

	rt := o.runtime(roomID)
	if !rt.watchRoom || kind == "agent" {
		return
	}
	rt.watchRoom = false

	_ = o.rooms.DeleteRoom(ctx, roomID)
	next, err := o.registry.Update(roomID, func(s *Session) error {
		s.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return
	}

	o.metrics.ActiveCalls.Set(float64(o.registry.ActiveCount()))
	o.publish(protocol.TypeCallEnded, next, "participant "+identity+" disconnected")
}

// AppendConversation records one utterance on the session and archives a
// PII-redacted copy. The archive write is best-effort.
func (o *Orchestrator) AppendConversation(ctx context.Context, roomID, speaker, message string) error {
	if strings.TrimSpace(speaker) == "" || strings.TrimSpace(message) == "" {
		return apperr.New(apperr.KindInvalidArgument, "speaker and message are required")
	}

	entry := Entry{
		ID:      uuid.NewString(),
		Speaker: speaker,
		Message: message,
		At:      time.Now().UTC(),
	}
	snap, err := o.registry.Update(roomID, func(s *Session) error {
		s.History = append(s.History, entry)
		return nil
	})
	if err != nil {
		return err
	}

	content, changed := policy.RedactPII(entry.Line())
	if err := o.archive.SaveEntry(ctx, transcript.EntryRecord{
		RoomID:    roomID,
		Speaker:   speaker,
		Content:   content,
		Redacted:  changed,
		CreatedAt: entry.At,
	}); err != nil {
		log.Printf("transcript archive write failed for %s: %v", roomID, err)
	}

	o.publish(protocol.TypeConversationAppended, snap, "")
	return nil
}

// SessionInfo returns a snapshot of the session.
func (o *Orchestrator) SessionInfo(roomID string) (Session, error) {
	return o.registry.Get(roomID)
}

// Release drops the per-call runtime state. Wired to registry eviction.
func (o *Orchestrator) Release(roomID string) {
	o.mu.Lock()
	rt, ok := o.runtimes[roomID]
	delete(o.runtimes, roomID)
	o.mu.Unlock()
	if ok && rt.holdHandle != nil {
		rt.holdHandle.Stop()
	}
}

func (o *Orchestrator) engageHold(ctx context.Context, roomID string, rt *callRuntime) error {
	if rt.agentA != nil {
		if err := rt.agentA.SetAudioEnabled(ctx, false, false); err != nil {
			return err
		}
	}
	handle, err := o.hold.Play(ctx, roomID, o.holdTrack)
	if err != nil {
		// Keep the invariant: no hold handle means no muted customer.
		if rt.agentA != nil {
			_ = rt.agentA.SetAudioEnabled(ctx, true, true)
		}
		return err
	}
	rt.holdHandle = handle
	o.events.Publish(protocol.CallEvent{Type: protocol.TypeHoldEngaged, RoomID: roomID})
	return nil
}

func (o *Orchestrator) disengageHold(ctx context.Context, roomID string, rt *callRuntime) {
	if rt.holdHandle == nil {
		return
	}
	rt.holdHandle.Stop()
	rt.holdHandle = nil
	if rt.agentA != nil {
		_ = rt.agentA.SetAudioEnabled(ctx, true, true)
	}
	o.events.Publish(protocol.CallEvent{Type: protocol.TypeHoldReleased, RoomID: roomID})
}

func (o *Orchestrator) runtime(roomID string) *callRuntime {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[roomID]
	if !ok {
		rt = &callRuntime{}
		o.runtimes[roomID] = rt
	}
	return rt
}

func (o *Orchestrator) publish(t protocol.EventType, s Session, detail string) {
	o.metrics.CallEvents.WithLabelValues(string(t)).Inc()
	o.events.Publish(protocol.CallEvent{
		Type:             t,
		RoomID:           s.RoomID,
		Status:           string(s.Status),
		CustomerStatus:   string(s.CustomerStatus),
		SupervisorStatus: string(s.SupervisorStatus),
		Detail:           detail,
	})
}
