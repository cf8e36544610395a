package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, msg := range []string{"hello", "my bill is wrong", "let me check"} {
		if err := s.SaveEntry(ctx, EntryRecord{RoomID: "call_1", Speaker: "caller", Content: msg}); err != nil {
			t.Fatalf("SaveEntry error = %v", err)
		}
	}

	got, err := s.Recent(ctx, "call_1", 2)
	if err != nil {
		t.Fatalf("Recent error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "my bill is wrong" || got[1].Content != "let me check" {
		t.Fatalf("unexpected tail: %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record should have generated ID and timestamp: %+v", got[0])
	}
}

func TestInMemoryStoreUnknownRoom(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Recent(context.Background(), "missing", 10)
	if err != nil || got != nil {
		t.Fatalf("Recent(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("empty DATABASE_URL should yield in-memory store, got %T", s)
	}
}
