package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"kibaeon/internal/broadcast"
	"kibaeon/internal/metrics"
	"kibaeon/internal/rooms"
	"kibaeon/internal/wshub"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// Pinger is the slice of the database the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Rooms       *rooms.Registry
	Hub         *wshub.Hub
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Metrics // nil disables /metrics and counting
	DB          Pinger           // nil if no database configured
	Log         *zap.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createRoomRequest struct {
	RoomName   string `json:"roomName"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPrivate  bool   `json:"isPrivate"`
	Password   string `json:"password"`
	Nickname   string `json:"nickname"`
}

type joinRoomRequest struct {
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type targetRequest struct {
	UserID string `json:"userId"`
}

// playerID resolves the caller from the player_id cookie or the X-Player-ID
// header. A caller with neither gets a fresh id in a cookie.
func playerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie("player_id"); err == nil && c.Value != "" {
		return c.Value
	}
	if id := strings.TrimSpace(r.Header.Get("X-Player-ID")); id != "" {
		return id
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "player_id",
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// nickname prefers the request body, then the player_name cookie.
func nickname(r *http.Request, fromBody string) string {
	if n := strings.TrimSpace(fromBody); n != "" {
		return n
	}
	if c, err := r.Cookie("player_name"); err == nil {
		return c.Value
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rooms.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, rooms.ErrInvalidPassword), errors.Is(err, rooms.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrNotAMember), errors.Is(err, rooms.ErrNotInRoom):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrAlreadyInRoom), errors.Is(err, rooms.ErrRoomFull),
		errors.Is(err, rooms.ErrRoomInProgress), errors.Is(err, rooms.ErrNotAllReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: rooms.Kind(err), Message: err.Error()})
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed body: %v", rooms.ErrInvalidParameters, err)
}

func (s *Server) observe(op string, err error) {
	if s.Metrics != nil {
		s.Metrics.Observe(op, err)
	}
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID := playerID(w, r)
	snap, err := s.Rooms.CreateRoom(rooms.CreateParams{
		CreatorID:  userID,
		Nickname:   nickname(r, req.Nickname),
		RoomName:   req.RoomName,
		MaxPlayers: req.MaxPlayers,
		Private:    req.IsPrivate,
		Password:   req.Password,
	})
	s.observe("create", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rooms.ListRooms())
}

func (s *Server) handleMyRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Rooms.GetRoomForUser(playerID(w, r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Rooms.GetRoom(chi.URLParam(r, "roomId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Summary())
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	nav := s.Rooms.Reconcile(playerID(w, r), chi.URLParam(r, "roomId"))
	writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID := playerID(w, r)
	snap, err := s.Rooms.JoinRoom(userID, nickname(r, req.Nickname), chi.URLParam(r, "roomId"), req.Password)
	s.observe("join", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	_, err := s.Rooms.LeaveRoom(playerID(w, r), chi.URLParam(r, "roomId"))
	s.observe("leave", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	req := readyRequest{Ready: true}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.Rooms.SetReady(playerID(w, r), chi.URLParam(r, "roomId"), req.Ready)
	s.observe("ready", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Rooms.StartGame(playerID(w, r), chi.URLParam(r, "roomId"))
	s.observe("start", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.Rooms.KickPlayer(playerID(w, r), chi.URLParam(r, "roomId"), req.UserID)
	s.observe("kick", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTransferHost(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.Rooms.TransferHost(playerID(w, r), chi.URLParam(r, "roomId"), req.UserID)
	s.observe("transfer_host", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	err := s.Rooms.CloseRoom(playerID(w, r), chi.URLParam(r, "roomId"))
	s.observe("close", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams lifecycle events as server-sent events. The optional
// roomId query parameter narrows the stream to one room.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	roomID := r.URL.Query().Get("roomId")

	msgChan := s.Broadcaster.Subscribe()
	defer s.Broadcaster.Unsubscribe(msgChan)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-msgChan:
			if !ok {
				return
			}
			if roomID != "" && ev.RoomID != roomID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.Log.Error("marshalling event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Kind)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "db_error", Error: err.Error()})
			return
		}
	}
	if err := s.Rooms.Verify(); err != nil {
		s.Log.Error("registry invariant violated", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "inconsistent", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
