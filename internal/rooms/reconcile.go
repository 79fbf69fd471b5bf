package rooms

type NavAction string

const (
	NavStay     NavAction = "stay"
	NavRedirect NavAction = "redirect"
	NavLobby    NavAction = "lobby"
)

// Navigation tells a client where a user belongs after it asked for a room.
type Navigation struct {
	Action NavAction `json:"action"`
	RoomID string    `json:"roomId,omitempty"`
}

// Reconcile compares the room a client navigated to with the room the user
// actually occupies. A mismatch redirects to the real room, and a user who
// is in no room goes back to the lobby.
func (r *Registry) Reconcile(userID, requestedRoomID string) Navigation {
	snap, err := r.GetRoomForUser(userID)
	if err != nil {
		return Navigation{Action: NavLobby}
	}
	if snap.RoomID != requestedRoomID {
		return Navigation{Action: NavRedirect, RoomID: snap.RoomID}
	}
	return Navigation{Action: NavStay, RoomID: snap.RoomID}
}
