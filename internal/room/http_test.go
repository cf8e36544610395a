package room

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/handoff/internal/apperr"
	"github.com/antoniostano/handoff/internal/token"
)

func newTestIssuer() *token.Issuer {
	return token.NewIssuer("api-key", "api-secret", time.Hour)
}

func TestCreateRoomTreatsConflictAsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/CreateRoom") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"msg":"room already exists"}`))
	}))
	defer ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	if err := d.CreateRoom(context.Background(), "transfer_call_1"); err != nil {
		t.Fatalf("CreateRoom on existing room = %v, want nil", err)
	}
}

func TestMoveParticipantNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"msg":"participant does not exist"}`))
	}))
	defer ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	err := d.MoveParticipant(context.Background(), "agent_bob", "consult", "customer")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("error kind = %q, want %q (err=%v)", apperr.KindOf(err), apperr.KindNotFound, err)
	}
}

func TestMoveParticipantUnreachableIsUnavailable(t *testing.T) {
	// Point at a closed listener.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	err := d.MoveParticipant(context.Background(), "agent_bob", "consult", "customer")
	if !apperr.IsKind(err, apperr.KindUnavailable) {
		t.Fatalf("error kind = %q, want %q (err=%v)", apperr.KindOf(err), apperr.KindUnavailable, err)
	}
}

func TestCallRetriesRetryableStatus(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	if err := d.CreateRoom(context.Background(), "r"); err != nil {
		t.Fatalf("CreateRoom after retries = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDeleteRoomAlreadyGone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	if err := d.DeleteRoom(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteRoom on missing room = %v, want nil", err)
	}
}

func TestCallSendsBearerAuth(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	d := NewHTTPDirectory(ts.URL, newTestIssuer())
	if err := d.UpdateMetadata(context.Background(), "r", `{"type":"hold_audio"}`); err != nil {
		t.Fatalf("UpdateMetadata error = %v", err)
	}
	if !strings.HasPrefix(auth, "Bearer ") || len(auth) < 20 {
		t.Fatalf("missing bearer admin token, got %q", auth)
	}
}

func TestMockDirectoryMove(t *testing.T) {
	d := NewMockDirectory()
	_ = d.CreateRoom(context.Background(), "consult")
	_ = d.CreateRoom(context.Background(), "customer")
	d.AddParticipant("consult", "agent_bob")

	if err := d.MoveParticipant(context.Background(), "agent_bob", "consult", "customer"); err != nil {
		t.Fatalf("MoveParticipant error = %v", err)
	}
	if d.HasParticipant("consult", "agent_bob") || !d.HasParticipant("customer", "agent_bob") {
		t.Fatalf("participant not relocated")
	}

	err := d.MoveParticipant(context.Background(), "agent_bob", "consult", "customer")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("second move kind = %q, want %q", apperr.KindOf(err), apperr.KindNotFound)
	}
}
