package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antoniostano/handoff/internal/room"
)

// Session is a handle on a conversational agent presence in one room. The
// media-side work (speech, listening) happens in out-of-process agent
// workers; this handle only carries control signals to them.
type Session interface {
	// Say asks the agent to speak the given line.
	Say(ctx context.Context, text string) error
	// SetAudioEnabled toggles the customer-facing input/output audio. Used
	// by hold control.
	SetAudioEnabled(ctx context.Context, input, output bool) error
	// Close releases the session. Idempotent.
	Close(ctx context.Context) error
}

// Factory starts agent sessions.
type Factory interface {
	Start(ctx context.Context, persona Persona, roomName, identity string) (Session, error)
}

// signal is the JSON envelope published through room metadata for the worker
// processes to pick up.
type signal struct {
	Type     string `json:"type"`
	Identity string `json:"identity,omitempty"`
	Text     string `json:"text,omitempty"`
	Input    *bool  `json:"input,omitempty"`
	Output   *bool  `json:"output,omitempty"`
	Persona  string `json:"persona,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	TSMs     int64  `json:"ts_ms"`
}

// SignalFactory drives agent workers over the room-metadata signal channel.
type SignalFactory struct {
	dir room.Directory
}

func NewSignalFactory(dir room.Directory) *SignalFactory {
	return &SignalFactory{dir: dir}
}

func (f *SignalFactory) Start(ctx context.Context, persona Persona, roomName, identity string) (Session, error) {
	s := &signalSession{dir: f.dir, room: roomName, identity: identity}
	err := s.publish(ctx, signal{
		Type:     "agent_start",
		Identity: identity,
		Persona:  string(persona.Kind),
		Prompt:   persona.Instructions(),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type signalSession struct {
	dir      room.Directory
	room     string
	identity string

	mu     sync.Mutex
	closed bool
}

func (s *signalSession) Say(ctx context.Context, text string) error {
	return s.publish(ctx, signal{Type: "agent_say", Identity: s.identity, Text: text})
}

func (s *signalSession) SetAudioEnabled(ctx context.Context, input, output bool) error {
	return s.publish(ctx, signal{Type: "audio_state", Identity: s.identity, Input: &input, Output: &output})
}

func (s *signalSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.publish(ctx, signal{Type: "agent_leave", Identity: s.identity})
}

func (s *signalSession) publish(ctx context.Context, sig signal) error {
	sig.TSMs = time.Now().UnixMilli()
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.dir.UpdateMetadata(ctx, s.room, string(raw))
}
