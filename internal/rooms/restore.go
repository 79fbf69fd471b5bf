package rooms

import (
	"errors"
	"fmt"
	"kibaeon/internal/players"

	"go.uber.org/zap"
)

// Restore loads persisted rooms into an empty or partially filled registry.
// A snapshot that would break an invariant is skipped. This covers an empty
// roster, a host who is not a member, too many members, and a user who
// already sits in another room. Restore returns the number of rooms loaded and
// the joined errors for the skipped ones.
func (r *Registry) Restore(snaps []Snapshot) (int, error) {
	var errs []error
	restored := 0
	for _, s := range snaps {
		rm, err := roomFromSnapshot(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.adopt(rm); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	if len(errs) > 0 {
		r.log.Warn("skipped persisted rooms", zap.Int("restored", restored), zap.Int("skipped", len(errs)))
	}
	return restored, errors.Join(errs...)
}

func (r *Registry) adopt(rm *room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.rooms[rm.id]; dup {
		return fmt.Errorf("restoring room %s: already loaded", rm.id)
	}
	for _, id := range rm.roster.IDs() {
		if cur, ok := r.userRoom[id]; ok {
			return fmt.Errorf("restoring room %s: %w: user %s is in room %s", rm.id, ErrAlreadyInRoom, id, cur)
		}
	}
	r.rooms[rm.id] = rm
	for _, id := range rm.roster.IDs() {
		r.userRoom[id] = rm.id
	}
	return nil
}

func roomFromSnapshot(s Snapshot) (*room, error) {
	if s.RoomID == "" {
		return nil, fmt.Errorf("restoring room: %w: empty room id", ErrInvalidParameters)
	}
	rm := &room{
		id:         s.RoomID,
		name:       s.RoomName,
		hostID:     s.HostID,
		maxPlayers: s.MaxPlayers,
		private:    s.Private,
		createdAt:  s.CreatedAt,
		status:     s.Status,
		roster:     players.NewRoster(),
		version:    s.Version,
	}
	if len(s.PasswordHash) > 0 {
		rm.passwordHash = append([]byte(nil), s.PasswordHash...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		rm.startedAt = &t
	}

	list := s.Players
	if len(list) == 0 {
		for i, id := range s.PlayerIDs {
			list = append(list, players.Player{ID: id, Nickname: id, JoinedSeq: int64(i + 1), Ready: s.ReadyStatus[id]})
		}
	}
	for _, p := range list {
		if !rm.roster.Restore(p) {
			return nil, fmt.Errorf("restoring room %s: duplicate member %s", s.RoomID, p.ID)
		}
	}

	switch {
	case rm.maxPlayers < MinPlayers:
		return nil, fmt.Errorf("restoring room %s: %w: max players %d", s.RoomID, ErrInvalidParameters, rm.maxPlayers)
	case rm.private && len(rm.passwordHash) == 0:
		return nil, fmt.Errorf("restoring room %s: %w: private room without password", s.RoomID, ErrInvalidParameters)
	}
	if err := rm.check(); err != nil {
		return nil, fmt.Errorf("restoring: %w", err)
	}
	return rm, nil
}
