package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/call"
	"mentorcall/internal/group"
	"mentorcall/internal/history"
	"mentorcall/internal/signal"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, errorBody{Error: err.Error()})
}

// writeCallError maps domain errors onto HTTP statuses.
func writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, call.ErrNoSession):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, call.ErrCallKeyBusy), errors.Is(err, call.ErrMediaBusy),
		errors.Is(err, call.ErrInvalidState),
		errors.Is(err, group.ErrAlreadyInRoom):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, group.ErrNotInRoom):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

// decodeJSON mirrors the strictness of the signaling codec: unknown fields
// and trailing data are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after json body")
	}
	return nil
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	servers := s.cfg.ICEServers
	if s.turnrest != nil {
		injected, err := s.turnrest.Inject(servers)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		servers = injected
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.engine.Snapshot()
	if calls == nil {
		calls = []call.SessionInfo{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

type startCallRequest struct {
	TargetID string          `json:"targetId"`
	CallKey  signal.CallKey  `json:"callKey"`
	CallType signal.CallType `json:"callType"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.engine.StartCall(req.TargetID, req.CallKey, req.CallType)
	if err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, call.SessionInfo{
		Key:       sess.Key(),
		PeerID:    sess.PeerID(),
		CallType:  sess.CallType(),
		State:     sess.State(),
		CreatedAt: sess.CreatedAt(),
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	key := signal.CallKey(r.PathValue("key"))
	if err := s.engine.Accept(key); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	key := signal.CallKey(r.PathValue("key"))
	if err := s.engine.Decline(key); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	// Ending an unknown key is a success: teardown is idempotent.
	s.engine.End(signal.CallKey(r.PathValue("key")))
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type trackToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetAudio(w http.ResponseWriter, r *http.Request) {
	s.handleTrackToggle(w, r, func(sess *call.Session, enabled bool) error {
		return sess.SetAudioEnabled(enabled)
	})
}

func (s *Server) handleSetVideo(w http.ResponseWriter, r *http.Request) {
	s.handleTrackToggle(w, r, func(sess *call.Session, enabled bool) error {
		return sess.SetVideoEnabled(enabled)
	})
}

func (s *Server) handleTrackToggle(w http.ResponseWriter, r *http.Request, toggle func(*call.Session, bool) error) {
	var req trackToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.engine.Session(signal.CallKey(r.PathValue("key")))
	if !ok {
		writeError(w, http.StatusNotFound, call.ErrNoSession)
		return
	}
	if err := toggle(sess, req.Enabled); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type pendingCallView struct {
	Key        signal.CallKey  `json:"callKey"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName,omitempty"`
	CallType   signal.CallType `json:"callType"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.notifier.Pending()
	out := make([]pendingCallView, 0, len(pending))
	for _, req := range pending {
		out = append(out, pendingCallView{
			Key:        req.Key,
			SenderID:   req.SenderID,
			SenderName: req.SenderName,
			CallType:   req.CallType,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.coordinator.Rooms()
	if rooms == nil {
		rooms = []group.RoomInfo{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type roomRequest struct {
	CallType signal.CallType `json:"callType"`
}

func (s *Server) handleStartRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coordinator.StartGroupCall(r.PathValue("roomId"), req.CallType); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coordinator.JoinGroupCall(r.PathValue("roomId"), req.CallType); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEndRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.EndGroupCall(r.PathValue("roomId")); err != nil {
		writeCallError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calls": entries})
}
