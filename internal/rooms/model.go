package rooms

import (
	"fmt"
	"kibaeon/internal/players"
	"sync"
	"time"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusPlaying Status = "PLAYING"
)

func (s Status) valid() bool {
	return s == StatusWaiting || s == StatusPlaying
}

// room is the authoritative state of one room. Every field below mu is
// guarded by it.
type room struct {
	mu sync.Mutex

	id           string
	name         string
	hostID       string
	maxPlayers   int
	private      bool
	passwordHash []byte
	createdAt    time.Time

	status    Status
	startedAt *time.Time
	roster    *players.Roster
	version   int64
	deleted   bool
}

// Snapshot is a consistent copy of a room taken under its lock.
type Snapshot struct {
	RoomID       string           `json:"roomId"`
	RoomName     string           `json:"roomName"`
	HostID       string           `json:"hostId"`
	HostNickname string           `json:"hostNickname"`
	PlayerIDs    []string         `json:"playerIds"`
	Players      []players.Player `json:"players"`
	ReadyStatus  map[string]bool  `json:"readyStatus"`
	MaxPlayers   int              `json:"maxPlayers"`
	Private      bool             `json:"privateRoom"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	Version      int64            `json:"version"`

	// PasswordHash is carried for persistence only.
	PasswordHash []byte `json:"-"`
}

// Summary is the lobby list view of a room. It never carries password data.
type Summary struct {
	RoomID       string    `json:"roomId"`
	RoomName     string    `json:"roomName"`
	HostID       string    `json:"hostId"`
	HostNickname string    `json:"hostNickname"`
	PlayerIDs    []string  `json:"playerIds"`
	MaxPlayers   int       `json:"maxPlayers"`
	Private      bool      `json:"privateRoom"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasMember reports whether id is on the snapshot's roster.
func (s Snapshot) HasMember(id string) bool {
	for _, p := range s.PlayerIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (s Snapshot) Summary() Summary {
	return Summary{
		RoomID:       s.RoomID,
		RoomName:     s.RoomName,
		HostID:       s.HostID,
		HostNickname: s.HostNickname,
		PlayerIDs:    s.PlayerIDs,
		MaxPlayers:   s.MaxPlayers,
		Private:      s.Private,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
	}
}

func (rm *room) snapshot() Snapshot {
	list := rm.roster.GetList()
	ready := make(map[string]bool, len(list))
	for _, p := range list {
		ready[p.ID] = p.Ready
	}
	snap := Snapshot{
		RoomID:      rm.id,
		RoomName:    rm.name,
		HostID:      rm.hostID,
		PlayerIDs:   rm.roster.IDs(),
		Players:     list,
		ReadyStatus: ready,
		MaxPlayers:  rm.maxPlayers,
		Private:     rm.private,
		Status:      rm.status,
		CreatedAt:   rm.createdAt,
		Version:     rm.version,
	}
	if host := rm.roster.Get(rm.hostID); host != nil {
		snap.HostNickname = host.Nickname
	}
	if rm.startedAt != nil {
		t := *rm.startedAt
		snap.StartedAt = &t
	}
	if len(rm.passwordHash) > 0 {
		snap.PasswordHash = append([]byte(nil), rm.passwordHash...)
	}
	return snap
}

func (rm *room) isFull() bool {
	return rm.roster.Count() >= rm.maxPlayers
}

// check validates the per-room invariants.
func (rm *room) check() error {
	n := rm.roster.Count()
	if n > rm.maxPlayers {
		return fmt.Errorf("room %s: %d members exceeds max %d", rm.id, n, rm.maxPlayers)
	}
	if n == 0 && !rm.deleted {
		return fmt.Errorf("room %s: live room has no members", rm.id)
	}
	if n > 0 && !rm.roster.Has(rm.hostID) {
		return fmt.Errorf("room %s: host %s is not a member", rm.id, rm.hostID)
	}
	if !rm.status.valid() {
		return fmt.Errorf("room %s: unknown status %q", rm.id, rm.status)
	}
	return nil
}
