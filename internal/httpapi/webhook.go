package httpapi

import (
	"net/http"
	"strings"
)

// transportWebhook is the subset of the media transport's webhook payload the
// orchestrator reacts to.
type transportWebhook struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
	} `json:"room"`
	Participant struct {
		Identity string `json:"identity"`
		Kind     string `json:"kind"`
	} `json:"participant"`
}

// handleTransportWebhook translates transport room events into orchestrator
// transitions. The endpoint always acknowledges: the transport retries on
// non-2xx, and stale or irrelevant events are the orchestrator's to ignore.
func (s *Server) handleTransportWebhook(w http.ResponseWriter, r *http.Request) {
	var ev transportWebhook
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	roomName := strings.TrimSpace(ev.Room.Name)
	switch ev.Event {
	case "room_finished":
		if parent := consultParent(roomName); parent != "" {
			s.orchestrator.ConsultRoomClosed(r.Context(), parent, roomName)
		}
	case "participant_left":
		if consultParent(roomName) == "" {
			s.orchestrator.ParticipantDisconnected(r.Context(), roomName, ev.Participant.Identity, ev.Participant.Kind)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// consultParent extracts the customer room name from a consult room name
// ("transfer_<room>_<ts>"). Returns "" for rooms that are not consult rooms.
func consultParent(consultRoom string) string {
	rest, ok := strings.CutPrefix(consultRoom, "transfer_")
	if !ok {
		return ""
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return ""
	}
	return rest[:i]
}
