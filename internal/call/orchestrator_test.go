package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/handoff/internal/agent"
	"github.com/antoniostano/handoff/internal/apperr"
	"github.com/antoniostano/handoff/internal/observability"
	"github.com/antoniostano/handoff/internal/room"
	"github.com/antoniostano/handoff/internal/summary"
	"github.com/antoniostano/handoff/internal/token"
	"github.com/antoniostano/handoff/internal/transcript"
)

var metricsSeq atomic.Int64

type orchEnv struct {
	orch    *Orchestrator
	reg     *Registry
	rooms   *room.MockDirectory
	agents  *agent.MockFactory
	hold    *agent.MockHoldPlayer
	archive *transcript.InMemoryStore
	hub     *EventHub
}

func newOrchEnv(t *testing.T) *orchEnv {
	t.Helper()
	e := &orchEnv{
		reg:     NewRegistry(30 * time.Minute),
		rooms:   room.NewMockDirectory(),
		agents:  agent.NewMockFactory(),
		hold:    agent.NewMockHoldPlayer(),
		archive: transcript.NewInMemoryStore(),
		hub:     NewEventHub(),
	}
	e.orch = NewOrchestrator(
		e.reg,
		e.rooms,
		token.NewIssuer("test-key", "test-secret", time.Hour),
		summary.NewService(summary.NewMockProvider(), time.Second),
		e.agents,
		e.hold,
		e.archive,
		e.hub,
		observability.NewMetrics(fmt.Sprintf("calltest%d", metricsSeq.Add(1))),
		"hold.mp3",
	)
	return e
}

// startCall initiates a call with a connected Agent A and a short history.
func (e *orchEnv) startCall(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	res, err := e.orch.InitiateCall(ctx, "alice")
	if err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}
	if _, err := e.orch.ConnectAgent(ctx, res.RoomID, "ann", "A"); err != nil {
		t.Fatalf("ConnectAgent: %v", err)
	}
	for _, m := range []string{"my card was charged twice", "let me check that", "order 4411"} {
		if err := e.orch.AppendConversation(ctx, res.RoomID, "caller", m); err != nil {
			t.Fatalf("AppendConversation: %v", err)
		}
	}
	return res.RoomID
}

func (e *orchEnv) agentA(t *testing.T) *agent.MockSession {
	t.Helper()
	started := e.agents.Started()
	if len(started) == 0 {
		t.Fatalf("no agent sessions started")
	}
	return started[0]
}

func (e *orchEnv) startTransfer(t *testing.T, roomID string) TransferResult {
	t.Helper()
	res, err := e.orch.StartTransfer(context.Background(), roomID, "bob")
	if err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	e.rooms.AddParticipant(res.TransferRoomID, "agent_bob")
	return res
}

func saidCount(s *agent.MockSession, text string) int {
	n := 0
	for _, line := range s.Said() {
		if line == text {
			n++
		}
	}
	return n
}

func TestInitiateCall(t *testing.T) {
	e := newOrchEnv(t)
	res, err := e.orch.InitiateCall(context.Background(), "alice")
	if err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}
	if !strings.HasPrefix(res.RoomID, "call_alice_") {
		t.Fatalf("RoomID = %q, want call_alice_<ts>", res.RoomID)
	}
	if res.CallerToken == "" {
		t.Fatalf("missing caller token")
	}
	if !e.rooms.HasRoom(res.RoomID) {
		t.Fatalf("customer room was not created")
	}

	s, err := e.orch.SessionInfo(res.RoomID)
	if err != nil {
		t.Fatalf("SessionInfo: %v", err)
	}
	if s.Status != StatusActive || s.CustomerStatus != CustomerActive || s.SupervisorStatus != SupervisorInactive {
		t.Fatalf("fresh session state = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
}

func TestInitiateCallValidation(t *testing.T) {
	e := newOrchEnv(t)
	if _, err := e.orch.InitiateCall(context.Background(), "  "); !apperr.IsKind(err, apperr.KindInvalidArgument) {
		t.Fatalf("kind = %v, want invalid argument", apperr.KindOf(err))
	}
}

func TestInitiateCallTransportDown(t *testing.T) {
	e := newOrchEnv(t)
	e.rooms.CreateErr = errors.New("transport down")
	if _, err := e.orch.InitiateCall(context.Background(), "alice"); !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("kind = %v, want unavailable", apperr.KindOf(err))
	}
	if e.reg.ActiveCount() != 0 {
		t.Fatalf("session registered despite room creation failure")
	}
}

func TestConnectAgent(t *testing.T) {
	e := newOrchEnv(t)
	ctx := context.Background()
	init, err := e.orch.InitiateCall(ctx, "alice")
	if err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}

	res, err := e.orch.ConnectAgent(ctx, init.RoomID, "ann", "")
	if err != nil {
		t.Fatalf("ConnectAgent: %v", err)
	}
	if res.AgentType != "A" || res.AgentToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	s, _ := e.orch.SessionInfo(init.RoomID)
	if s.AgentAID != "ann" {
		t.Fatalf("AgentAID = %q", s.AgentAID)
	}

	started := e.agents.Started()
	if len(started) != 1 {
		t.Fatalf("sessions started = %d, want 1", len(started))
	}
	if started[0].Persona.Kind != agent.PersonaSupport || started[0].Room != init.RoomID {
		t.Fatalf("support session = %+v", started[0])
	}

	if _, err := e.orch.ConnectAgent(ctx, init.RoomID, "ann", "C"); !apperr.IsKind(err, apperr.KindInvalidArgument) {
		t.Fatalf("bad agent_type kind = %v", apperr.KindOf(err))
	}
	if _, err := e.orch.ConnectAgent(ctx, "nope", "ann", "A"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("unknown room kind = %v", apperr.KindOf(err))
	}
}

func TestStartTransfer(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)

	res, err := e.orch.StartTransfer(context.Background(), roomID, "bob")
	if err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if !strings.HasPrefix(res.TransferRoomID, "transfer_"+roomID) {
		t.Fatalf("TransferRoomID = %q", res.TransferRoomID)
	}
	if res.AgentAToken == "" || res.AgentBToken == "" {
		t.Fatalf("missing consult tokens: %+v", res)
	}
	if res.CallSummary == "" || res.CallSummary == summary.NoContextSummary {
		t.Fatalf("CallSummary = %q, want generated summary", res.CallSummary)
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusTransferring || s.CustomerStatus != CustomerEscalated || s.SupervisorStatus != SupervisorSummarizing {
		t.Fatalf("state = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
	if s.AgentBID != "bob" || s.ConsultRoomID != res.TransferRoomID {
		t.Fatalf("session = %+v", s)
	}

	if !e.hold.HoldActive(roomID) {
		t.Fatalf("hold audio not playing in customer room")
	}
	if !e.rooms.HasRoom(res.TransferRoomID) {
		t.Fatalf("consult room was not created")
	}

	a := e.agentA(t)
	if in, out, set := a.AudioEnabled(); !set || in || out {
		t.Fatalf("agent A audio = in:%v out:%v set:%v, want muted", in, out, set)
	}
	if saidCount(a, holdNotice) != 1 {
		t.Fatalf("hold notice spoken %d times", saidCount(a, holdNotice))
	}

	started := e.agents.Started()
	if len(started) != 2 {
		t.Fatalf("sessions started = %d, want support + receiving", len(started))
	}
	recv := started[1]
	if recv.Persona.Kind != agent.PersonaReceiving || recv.Room != res.TransferRoomID {
		t.Fatalf("receiving session = %+v", recv)
	}
	if !strings.Contains(recv.Persona.Instructions(), res.CallSummary) {
		t.Fatalf("receiving persona missing handoff summary")
	}
}

func TestStartTransferDuplicateIsNoOp(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.startTransfer(t, roomID)

	res, err := e.orch.StartTransfer(context.Background(), roomID, "carol")
	if err != nil {
		t.Fatalf("duplicate StartTransfer: %v", err)
	}
	if res.Status != "transfer_in_progress" || res.TransferRoomID != "" {
		t.Fatalf("duplicate result = %+v", res)
	}

	if e.rooms.RoomCount() != 2 {
		t.Fatalf("rooms = %d, want customer + one consult", e.rooms.RoomCount())
	}
	if len(e.agents.Started()) != 2 {
		t.Fatalf("agent sessions = %d, want 2", len(e.agents.Started()))
	}
	if e.hold.Plays() != 1 {
		t.Fatalf("hold playbacks = %d, want 1", e.hold.Plays())
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.AgentBID != "bob" {
		t.Fatalf("AgentBID = %q, second request took over the transfer", s.AgentBID)
	}
}

func TestStartTransferRollsBackOnConsultFailure(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.rooms.CreateErr = errors.New("transport down")

	if _, err := e.orch.StartTransfer(context.Background(), roomID, "bob"); !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("kind = %v, want unavailable", apperr.KindOf(err))
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusActive || s.CustomerStatus != CustomerActive || s.SupervisorStatus != SupervisorFailed {
		t.Fatalf("state after rollback = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
	if s.ConsultRoomID != "" {
		t.Fatalf("ConsultRoomID = %q after rollback", s.ConsultRoomID)
	}
	if e.hold.HoldActive(roomID) {
		t.Fatalf("hold audio left playing after rollback")
	}
	if in, out, set := e.agentA(t).AudioEnabled(); !set || !in || !out {
		t.Fatalf("agent A audio not restored: in:%v out:%v set:%v", in, out, set)
	}

	// The customer is back to active, so a retry must be allowed.
	e.rooms.CreateErr = nil
	if _, err := e.orch.StartTransfer(context.Background(), roomID, "bob"); err != nil {
		t.Fatalf("retry StartTransfer: %v", err)
	}
}

func TestStartTransferRollsBackOnAgentFailure(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.agents.StartErr = errors.New("worker pool exhausted")

	if _, err := e.orch.StartTransfer(context.Background(), roomID, "bob"); !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("kind = %v, want unavailable", apperr.KindOf(err))
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.CustomerStatus != CustomerActive || s.SupervisorStatus != SupervisorFailed {
		t.Fatalf("state after rollback = %s/%s", s.CustomerStatus, s.SupervisorStatus)
	}
	if e.hold.HoldActive(roomID) {
		t.Fatalf("hold audio left playing after rollback")
	}
}

func TestMergeCalls(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	tr := e.startTransfer(t, roomID)

	res, err := e.orch.MergeCalls(context.Background(), roomID)
	if err != nil {
		t.Fatalf("MergeCalls: %v", err)
	}
	if res.Status != "transfer_completed" || res.AgentBToken == "" {
		t.Fatalf("result = %+v", res)
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusCompleted || s.CustomerStatus != CustomerPassive || s.SupervisorStatus != SupervisorMerged {
		t.Fatalf("state = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
	if s.AgentAID != "" {
		t.Fatalf("AgentAID = %q, want released", s.AgentAID)
	}

	if !e.rooms.HasParticipant(roomID, "agent_bob") {
		t.Fatalf("agent B was not moved into the customer room")
	}
	if e.rooms.HasRoom(tr.TransferRoomID) {
		t.Fatalf("consult room survived the merge")
	}
	if e.hold.HoldActive(roomID) {
		t.Fatalf("hold audio still playing after merge")
	}

	a := e.agentA(t)
	if saidCount(a, handoffNotice) != 1 {
		t.Fatalf("handoff notice spoken %d times", saidCount(a, handoffNotice))
	}
	if a.CloseCount() != 1 {
		t.Fatalf("agent A close count = %d", a.CloseCount())
	}
	if recv := e.agents.Started()[1]; recv.CloseCount() != 1 {
		t.Fatalf("receiving session close count = %d", recv.CloseCount())
	}
}

func TestMergeCallsNotReady(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)

	res, err := e.orch.MergeCalls(context.Background(), roomID)
	if err != nil {
		t.Fatalf("MergeCalls: %v", err)
	}
	if res.Status != "transfer_not_ready" {
		t.Fatalf("status = %q", res.Status)
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusActive || s.CustomerStatus != CustomerActive {
		t.Fatalf("no-op merge mutated state: %s/%s", s.Status, s.CustomerStatus)
	}
}

func TestMergeCallsMoveFailure(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.startTransfer(t, roomID)
	e.rooms.MoveErr = apperr.New(apperr.KindUnavailable, "transport down")

	if _, err := e.orch.MergeCalls(context.Background(), roomID); !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("kind = %v, want unavailable", apperr.KindOf(err))
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusActive || s.CustomerStatus != CustomerActive || s.SupervisorStatus != SupervisorFailed {
		t.Fatalf("state after failed merge = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
	if s.AgentAID != "ann" {
		t.Fatalf("AgentAID = %q, agent A must stay on the call", s.AgentAID)
	}
	if e.hold.HoldActive(roomID) {
		t.Fatalf("customer left on hold after failed merge")
	}
	if saidCount(e.agentA(t), failureNotice) != 1 {
		t.Fatalf("failure notice spoken %d times", saidCount(e.agentA(t), failureNotice))
	}
}

func TestFailTransferIdempotent(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.startTransfer(t, roomID)

	ctx := context.Background()
	if err := e.orch.FailTransfer(ctx, roomID); err != nil {
		t.Fatalf("FailTransfer: %v", err)
	}
	if err := e.orch.FailTransfer(ctx, roomID); err != nil {
		t.Fatalf("second FailTransfer: %v", err)
	}

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusActive || s.CustomerStatus != CustomerActive || s.SupervisorStatus != SupervisorFailed {
		t.Fatalf("state = %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
	if e.hold.HoldActive(roomID) {
		t.Fatalf("hold audio still playing after failure")
	}
	if n := saidCount(e.agentA(t), failureNotice); n != 1 {
		t.Fatalf("failure notice spoken %d times, want once", n)
	}
	if recv := e.agents.Started()[1]; recv.CloseCount() != 1 {
		t.Fatalf("receiving session close count = %d, want 1", recv.CloseCount())
	}
}

func TestConsultRoomClosedFailsTransfer(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	tr := e.startTransfer(t, roomID)

	e.orch.ConsultRoomClosed(context.Background(), roomID, tr.TransferRoomID)

	s, _ := e.orch.SessionInfo(roomID)
	if s.SupervisorStatus != SupervisorFailed || s.CustomerStatus != CustomerActive {
		t.Fatalf("state = %s/%s, want failed transfer", s.SupervisorStatus, s.CustomerStatus)
	}
}

func TestConsultRoomClosedStaleAfterMerge(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	tr := e.startTransfer(t, roomID)
	if _, err := e.orch.MergeCalls(context.Background(), roomID); err != nil {
		t.Fatalf("MergeCalls: %v", err)
	}

	e.orch.ConsultRoomClosed(context.Background(), roomID, tr.TransferRoomID)

	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusCompleted || s.CustomerStatus != CustomerPassive || s.SupervisorStatus != SupervisorMerged {
		t.Fatalf("stale consult-closed event mutated state: %s/%s/%s", s.Status, s.CustomerStatus, s.SupervisorStatus)
	}
}

func TestConsultRoomClosedWrongRoom(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.startTransfer(t, roomID)

	e.orch.ConsultRoomClosed(context.Background(), roomID, "transfer_other_999")

	s, _ := e.orch.SessionInfo(roomID)
	if s.SupervisorStatus != SupervisorSummarizing {
		t.Fatalf("mismatched consult room failed the transfer: %s", s.SupervisorStatus)
	}
}

func TestParticipantDisconnectedEndsMergedCall(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)
	e.startTransfer(t, roomID)
	if _, err := e.orch.MergeCalls(context.Background(), roomID); err != nil {
		t.Fatalf("MergeCalls: %v", err)
	}

	e.orch.ParticipantDisconnected(context.Background(), roomID, "caller_alice", "participant")

	if e.rooms.HasRoom(roomID) {
		t.Fatalf("customer room survived end of call")
	}
}

func TestParticipantDisconnectedIgnoredBeforeMerge(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)

	e.orch.ParticipantDisconnected(context.Background(), roomID, "caller_alice", "participant")

	if !e.rooms.HasRoom(roomID) {
		t.Fatalf("customer room deleted before the watch was armed")
	}
	s, _ := e.orch.SessionInfo(roomID)
	if s.Status != StatusActive {
		t.Fatalf("status = %s, want active", s.Status)
	}
}

func TestAppendConversation(t *testing.T) {
	e := newOrchEnv(t)
	ctx := context.Background()
	init, err := e.orch.InitiateCall(ctx, "alice")
	if err != nil {
		t.Fatalf("InitiateCall: %v", err)
	}

	if err := e.orch.AppendConversation(ctx, init.RoomID, "caller", "reach me at alice@example.com"); err != nil {
		t.Fatalf("AppendConversation: %v", err)
	}

	s, _ := e.orch.SessionInfo(init.RoomID)
	if len(s.History) != 1 || s.History[0].Message != "reach me at alice@example.com" {
		t.Fatalf("history = %+v", s.History)
	}

	recs, err := e.archive.Recent(ctx, init.RoomID, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("archived records = %d, want 1", len(recs))
	}
	if !recs[0].Redacted || strings.Contains(recs[0].Content, "alice@example.com") {
		t.Fatalf("archived content not redacted: %+v", recs[0])
	}

	if err := e.orch.AppendConversation(ctx, init.RoomID, "", "hi"); !apperr.IsKind(err, apperr.KindInvalidArgument) {
		t.Fatalf("empty speaker kind = %v", apperr.KindOf(err))
	}
	if err := e.orch.AppendConversation(ctx, "nope", "caller", "hi"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("unknown room kind = %v", apperr.KindOf(err))
	}
}

func TestHoldInvariantAcrossTransferCycle(t *testing.T) {
	e := newOrchEnv(t)
	roomID := e.startCall(t)

	check := func(stage string) {
		s, err := e.orch.SessionInfo(roomID)
		if err != nil {
			t.Fatalf("%s: SessionInfo: %v", stage, err)
		}
		if (s.CustomerStatus == CustomerEscalated) != e.hold.HoldActive(roomID) {
			t.Fatalf("%s: customer=%s hold=%v", stage, s.CustomerStatus, e.hold.HoldActive(roomID))
		}
	}

	check("before transfer")
	e.startTransfer(t, roomID)
	check("after start")
	if err := e.orch.FailTransfer(context.Background(), roomID); err != nil {
		t.Fatalf("FailTransfer: %v", err)
	}
	check("after failure")

	e.startTransfer(t, roomID)
	check("after restart")
	if _, err := e.orch.MergeCalls(context.Background(), roomID); err != nil {
		t.Fatalf("MergeCalls: %v", err)
	}
	check("after merge")
}
