package room

import "context"

// Directory is a thin façade over the media transport's room lifecycle.
// Implementations must be idempotent where the contract says so: creating a
// room that already exists and deleting one that is already gone are both
// success.
type Directory interface {
	// CreateRoom provisions a room. "Already exists" is treated as success
	// because room names are generated by this service and collide only
	// under retry.
	CreateRoom(ctx context.Context, name string) error

	// MoveParticipant relocates an identity between rooms. Returns NotFound
	// when the identity is not present in the source room and Unavailable
	// when the transport is unreachable. Callers must not assume the move
	// happened without a nil return.
	MoveParticipant(ctx context.Context, identity, sourceRoom, destRoom string) error

	// UpdateMetadata publishes a best-effort signal to out-of-process agents
	// watching the room.
	UpdateMetadata(ctx context.Context, name, metadata string) error

	// DeleteRoom tears a room down. Best-effort: "already gone" is success.
	DeleteRoom(ctx context.Context, name string) error
}
