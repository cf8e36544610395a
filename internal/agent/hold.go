package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antoniostano/handoff/internal/room"
)

// PlayHandle controls one looping hold-audio playback. Stop is idempotent so
// the failure path can release it regardless of where the happy path was
// interrupted.
type PlayHandle struct {
	once sync.Once
	stop func()
}

func NewPlayHandle(stop func()) *PlayHandle {
	return &PlayHandle{stop: stop}
}

func (h *PlayHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
}

// HoldPlayer starts looping hold audio in a room.
type HoldPlayer interface {
	Play(ctx context.Context, roomName, track string) (*PlayHandle, error)
}

// SignalHoldPlayer drives the hold loop in the media worker via the room
// metadata channel.
type SignalHoldPlayer struct {
	dir room.Directory
}

func NewSignalHoldPlayer(dir room.Directory) *SignalHoldPlayer {
	return &SignalHoldPlayer{dir: dir}
}

type holdSignal struct {
	Type  string `json:"type"`
	Track string `json:"track,omitempty"`
	Loop  bool   `json:"loop,omitempty"`
	On    bool   `json:"on"`
	TSMs  int64  `json:"ts_ms"`
}

func (p *SignalHoldPlayer) Play(ctx context.Context, roomName, track string) (*PlayHandle, error) {
	if err := p.publish(ctx, roomName, holdSignal{Type: "hold_audio", Track: track, Loop: true, On: true}); err != nil {
		return nil, err
	}
	return NewPlayHandle(func() {
		// The stop signal must go out even if the caller's context is gone:
		// a customer left listening to hold music is worse than a late
		// metadata write.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.publish(ctx, roomName, holdSignal{Type: "hold_audio", On: false})
	}), nil
}

func (p *SignalHoldPlayer) publish(ctx context.Context, roomName string, sig holdSignal) error {
	sig.TSMs = time.Now().UnixMilli()
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return p.dir.UpdateMetadata(ctx, roomName, string(raw))
}
