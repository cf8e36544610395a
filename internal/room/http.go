package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/handoff/internal/apperr"
	"github.com/antoniostano/handoff/internal/reliability"
	"github.com/antoniostano/handoff/internal/token"
)

// adminTokenTTL bounds server-to-server credentials to single operations.
const adminTokenTTL = time.Minute

// HTTPDirectory speaks the transport's Twirp-style RoomService endpoints,
// authenticating each call with a short-lived admin token.
type HTTPDirectory struct {
	baseURL string
	issuer  *token.Issuer
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, issuer *token.Issuer) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type moveParticipantRequest struct {
	Room            string `json:"room"`
	Identity        string `json:"identity"`
	DestinationRoom string `json:"destination_room"`
}

type updateMetadataRequest struct {
	Room     string `json:"room"`
	Metadata string `json:"metadata"`
}

type deleteRoomRequest struct {
	Room string `json:"room"`
}

func (d *HTTPDirectory) CreateRoom(ctx context.Context, name string) error {
	err := d.call(ctx, "CreateRoom", name, createRoomRequest{Name: name})
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

func (d *HTTPDirectory) MoveParticipant(ctx context.Context, identity, sourceRoom, destRoom string) error {
	return d.call(ctx, "MoveParticipant", sourceRoom, moveParticipantRequest{
		Room:            sourceRoom,
		Identity:        identity,
		DestinationRoom: destRoom,
	})
}

func (d *HTTPDirectory) UpdateMetadata(ctx context.Context, name, metadata string) error {
	return d.call(ctx, "UpdateRoomMetadata", name, updateMetadataRequest{Room: name, Metadata: metadata})
}

func (d *HTTPDirectory) DeleteRoom(ctx context.Context, name string) error {
	err := d.call(ctx, "DeleteRoom", name, deleteRoomRequest{Room: name})
	if err != nil && apperr.IsKind(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

func (d *HTTPDirectory) call(ctx context.Context, method, room string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	auth, err := d.issuer.Mint("handoff-service", "", token.AdminGrants(room), adminTokenTTL)
	if err != nil {
		return fmt.Errorf("mint admin token: %w", err)
	}

	url := d.baseURL + "/twirp/livekit.RoomService/" + method

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindUnavailable, method, ctx.Err())
			case <-time.After(reliability.Backoff(attempt, 100*time.Millisecond, time.Second)):
			}
		}

		retryable, err := d.attempt(ctx, url, auth, body, method)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (d *HTTPDirectory) attempt(ctx context.Context, url, auth string, body []byte, method string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth)

	res, err := d.client.Do(req)
	if err != nil {
		return true, apperr.Wrap(apperr.KindUnavailable, "transport unreachable", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return false, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	msg := fmt.Sprintf("%s status %d: %s", method, res.StatusCode, strings.TrimSpace(string(detail)))

	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, apperr.New(apperr.KindNotFound, msg)
	case res.StatusCode == http.StatusConflict:
		return false, apperr.New(apperr.KindConflict, msg)
	case res.StatusCode == http.StatusBadRequest:
		return false, apperr.New(apperr.KindInvalidArgument, msg)
	case reliability.IsRetryableStatus(res.StatusCode):
		return true, apperr.New(apperr.KindUnavailable, msg)
	default:
		return false, apperr.New(apperr.KindUnavailable, msg)
	}
}

func isAlreadyExists(err error) bool {
	if apperr.IsKind(err, apperr.KindConflict) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
