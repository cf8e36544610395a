package agent

import (
	"context"
	"sync"
)

// MockFactory records started sessions for tests.
type MockFactory struct {
	mu       sync.Mutex
	StartErr error
	started  []*MockSession
}

func NewMockFactory() *MockFactory { return &MockFactory{} }

func (f *MockFactory) Start(_ context.Context, persona Persona, roomName, identity string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	s := &MockSession{Persona: persona, Room: roomName, Identity: identity}
	f.started = append(f.started, s)
	return s, nil
}

func (f *MockFactory) Started() []*MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockSession, len(f.started))
	copy(out, f.started)
	return out
}

// MockSession records control signals for assertions.
type MockSession struct {
	Persona  Persona
	Room     string
	Identity string

	mu         sync.Mutex
	said       []string
	audioIn    bool
	audioOut   bool
	audioSet   bool
	closeCount int
}

func (s *MockSession) Say(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return nil
}

func (s *MockSession) SetAudioEnabled(_ context.Context, input, output bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioIn, s.audioOut, s.audioSet = input, output, true
	return nil
}

func (s *MockSession) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

func (s *MockSession) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.said))
	copy(out, s.said)
	return out
}

func (s *MockSession) AudioEnabled() (input, output, set bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioIn, s.audioOut, s.audioSet
}

func (s *MockSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// MockHoldPlayer tracks which rooms currently have hold audio playing.
type MockHoldPlayer struct {
	mu      sync.Mutex
	PlayErr error
	active  map[string]int
	plays   int
}

func NewMockHoldPlayer() *MockHoldPlayer {
	return &MockHoldPlayer{active: make(map[string]int)}
}

func (p *MockHoldPlayer) Play(_ context.Context, roomName, track string) (*PlayHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	p.active[roomName]++
	p.plays++
	return NewPlayHandle(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.active[roomName]--
	}), nil
}

// HoldActive reports whether hold audio is currently playing in the room.
func (p *MockHoldPlayer) HoldActive(roomName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[roomName] > 0
}

// Plays returns the total number of playbacks started.
func (p *MockHoldPlayer) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}
