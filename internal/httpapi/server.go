package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/handoff/internal/apperr"
	"github.com/antoniostano/handoff/internal/call"
	"github.com/antoniostano/handoff/internal/config"
	"github.com/antoniostano/handoff/internal/observability"
	"github.com/antoniostano/handoff/internal/token"
)

// Orchestrator is the call state machine surface the API exposes.
type Orchestrator interface {
	InitiateCall(ctx context.Context, callerID string) (call.InitiateCallResult, error)
	ConnectAgent(ctx context.Context, roomID, agentID, agentType string) (call.ConnectAgentResult, error)
	StartTransfer(ctx context.Context, roomID, agentBID string) (call.TransferResult, error)
	MergeCalls(ctx context.Context, roomID string) (call.CompleteResult, error)
	FailTransfer(ctx context.Context, roomID string) error
	AppendConversation(ctx context.Context, roomID, speaker, message string) error
	SessionInfo(roomID string) (call.Session, error)
	ConsultRoomClosed(ctx context.Context, roomID, consultRoom string)
	ParticipantDisconnected(ctx context.Context, roomID, identity, kind string)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	events       *call.EventHub
	issuer       *token.Issuer
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, events *call.EventHub, issuer *token.Issuer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		events:       events,
		issuer:       issuer,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot tap a call's event feed
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls/initiate", s.handleInitiateCall)
	r.Post("/v1/calls/{room_id}/connect-agent", s.handleConnectAgent)
	r.Post("/v1/calls/{room_id}/initiate-transfer", s.handleInitiateTransfer)
	r.Post("/v1/calls/{room_id}/complete-transfer", s.handleCompleteTransfer)
	r.Post("/v1/calls/{room_id}/fail-transfer", s.handleFailTransfer)
	r.Post("/v1/calls/{room_id}/conversation", s.handleAppendConversation)
	r.Get("/v1/calls/{room_id}/info", s.handleCallInfo)
	r.Get("/v1/calls/{room_id}/events/ws", s.handleEventsWS)

	r.Post("/v1/tokens", s.handleMintToken)
	r.Post("/v1/webhooks/transport", s.handleTransportWebhook)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"transport_mode":  s.cfg.RoomDirectoryMode,
		"summarizer_mode": s.cfg.SummarizerMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"transport_mode":  s.cfg.RoomDirectoryMode,
		"summarizer_mode": s.cfg.SummarizerMode,
	})
}

type initiateCallRequest struct {
	CallerID string `json:"caller_id"`
}

func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	var req initiateCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.InitiateCall(r.Context(), req.CallerID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

type connectAgentRequest struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

func (s *Server) handleConnectAgent(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	var req connectAgentRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.ConnectAgent(r.Context(), roomID, req.AgentID, req.AgentType)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type initiateTransferRequest struct {
	AgentBID string `json:"agent_b_id"`
}

func (s *Server) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	var req initiateTransferRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.StartTransfer(r.Context(), roomID, req.AgentBID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	res, err := s.orchestrator.MergeCalls(r.Context(), roomID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFailTransfer(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	if err := s.orchestrator.FailTransfer(r.Context(), roomID); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"room_id": roomID,
		"status":  "transfer_failed",
	})
}

type conversationRequest struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

func (s *Server) handleAppendConversation(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.orchestrator.AppendConversation(r.Context(), roomID, req.Speaker, req.Message); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"room_id": roomID,
		"status":  "appended",
	})
}

func (s *Server) handleCallInfo(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	sess, err := s.orchestrator.SessionInfo(roomID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleEventsWS streams the call's lifecycle events over a websocket. The
// feed is one-way: inbound frames are read only to service control messages
// and detect the peer going away.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	if _, err := s.orchestrator.SessionInfo(roomID); err != nil {
		respondAppError(w, err)
		return
	}

	events, cancelSub := s.events.Subscribe(roomID)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancelSub()
		return
	}
	defer conn.Close()
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			s.metrics.WSMessages.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

type tokenRequest struct {
	Identity   string `json:"identity"`
	Name       string `json:"name"`
	Room       string `json:"room"`
	Admin      bool   `json:"admin"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token            string `json:"token"`
	Identity         string `json:"identity"`
	Room             string `json:"room"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Room) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "room is required")
		return
	}

	grants := token.ParticipantGrants(req.Room)
	audience := "participant"
	if req.Admin {
		grants = token.AdminGrants(req.Room)
		audience = "admin"
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	signed, err := s.issuer.Mint(req.Identity, req.Name, grants, ttl)
	if err != nil {
		respondAppError(w, err)
		return
	}

	effective := ttl
	if effective == 0 {
		effective = s.cfg.TokenDefaultTTL
	}
	s.metrics.TokensIssued.WithLabelValues(audience).Inc()

	respondJSON(w, http.StatusOK, tokenResponse{
		Token:            signed,
		Identity:         req.Identity,
		Room:             req.Room,
		ExpiresInSeconds: int64(effective / time.Second),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondAppError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case apperr.KindNotFound:
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.KindConflict:
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.KindUnavailable:
		respondError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
