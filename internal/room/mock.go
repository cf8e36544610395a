package room

import (
	"context"
	"sync"

	"github.com/antoniostano/handoff/internal/apperr"
)

// MockDirectory is an in-memory transport for local development and tests.
// Failure injection fields let orchestrator tests exercise the rollback
// paths.
type MockDirectory struct {
	mu       sync.Mutex
	rooms    map[string]map[string]bool // room -> identities
	metadata map[string][]string        // room -> metadata history

	CreateErr error
	MoveErr   error
	DeleteErr error
}

func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		rooms:    make(map[string]map[string]bool),
		metadata: make(map[string][]string),
	}
}

func (d *MockDirectory) CreateRoom(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return d.CreateErr
	}
	if _, ok := d.rooms[name]; !ok {
		d.rooms[name] = make(map[string]bool)
	}
	return nil
}

func (d *MockDirectory) MoveParticipant(_ context.Context, identity, sourceRoom, destRoom string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MoveErr != nil {
		return d.MoveErr
	}
	src, ok := d.rooms[sourceRoom]
	if !ok || !src[identity] {
		return apperr.Newf(apperr.KindNotFound, "participant %q not in room %q", identity, sourceRoom)
	}
	dst, ok := d.rooms[destRoom]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "destination room %q does not exist", destRoom)
	}
	delete(src, identity)
	dst[identity] = true
	return nil
}

func (d *MockDirectory) UpdateMetadata(_ context.Context, name, metadata string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata[name] = append(d.metadata[name], metadata)
	return nil
}

func (d *MockDirectory) DeleteRoom(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeleteErr != nil {
		return d.DeleteErr
	}
	delete(d.rooms, name)
	return nil
}

// AddParticipant seeds a participant into a room, simulating a join through
// the transport.
func (d *MockDirectory) AddParticipant(name, identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[name]; !ok {
		d.rooms[name] = make(map[string]bool)
	}
	d.rooms[name][identity] = true
}

func (d *MockDirectory) HasRoom(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[name]
	return ok
}

func (d *MockDirectory) HasParticipant(name, identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rooms[name][identity]
}

func (d *MockDirectory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func (d *MockDirectory) Metadata(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.metadata[name]))
	copy(out, d.metadata[name])
	return out
}
