package events

import "time"

type Kind string

const (
	RoomCreated  Kind = "room_created"
	PlayerJoined Kind = "player_joined"
	PlayerLeft   Kind = "player_left"
	PlayerKicked Kind = "player_kicked"
	HostChanged  Kind = "host_changed"
	ReadyChanged Kind = "ready_changed"
	GameStarted  Kind = "game_started"
	RoomDeleted  Kind = "room_deleted"
)

// Event describes one committed room mutation. Version is the room version
// after the mutation, so consumers can discard stale deliveries.
type Event struct {
	Kind    Kind      `json:"kind"`
	RoomID  string    `json:"roomId"`
	UserID  string    `json:"userId,omitempty"`
	HostID  string    `json:"hostId,omitempty"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

type Bus struct {
	Events chan Event
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{
		Events: make(chan Event, size),
	}
}

// Publish enqueues ev without blocking. It reports false when the buffer is
// full and the event was dropped.
func (b *Bus) Publish(ev Event) bool {
	select {
	case b.Events <- ev:
		return true
	default:
		return false
	}
}
