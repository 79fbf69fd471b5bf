package server

import (
	"context"
	"encoding/json"
	"kibaeon/internal/wshub"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const wsReadTimeout = 60 * time.Second

// handleWS upgrades the caller to a WebSocket that receives their room's
// events. An open socket also keeps the caller's seat through presence.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := playerID(w, r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.Log.Debug("websocket accept failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := wshub.NewClient(userID, conn)
	s.Hub.Register(c, func() string {
		snap, err := s.Rooms.GetRoomForUser(userID)
		if err != nil {
			return ""
		}
		if state, err := json.Marshal(snap); err == nil {
			if data, err := json.Marshal(wshub.ServerMessage{Type: "room", RoomID: snap.RoomID, State: state}); err == nil {
				c.Send <- data
			}
		}
		return snap.RoomID
	})
	defer s.Hub.Unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.WritePump(ctx)

	pong, _ := json.Marshal(wshub.ServerMessage{Type: "pong"})
	for {
		readCtx, readCancel := context.WithTimeout(ctx, wsReadTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.Log.Debug("websocket read ended", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}

		var msg wshub.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case c.Send <- pong:
			default:
			}
		}
	}
}
