package rooms

import (
	"context"
	"fmt"
	"kibaeon/internal/events"
	"kibaeon/internal/players"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	MinPlayers        = 2
	DefaultMaxPlayers = 8

	defaultPersistTimeout = 5 * time.Second
)

type Options struct {
	// MaxPlayers is the largest capacity a room may be created with.
	MaxPlayers int
	Persister  Persister
	Bus        *events.Bus
	Logger     *zap.Logger
	// HashCost is the bcrypt cost for room passwords. Zero means the
	// library default.
	HashCost       int
	PersistTimeout time.Duration
	Now            func() time.Time
	// NewID allocates room ids. It defaults to GenerateCode.
	NewID func() (string, error)
}

// Registry owns every room and the user→room index.
//
// Lock order is room.mu, then Registry.mu. Registry.mu is never held while
// acquiring a room lock. The index is only written while the affected room's
// lock is held, so a room's roster and the index entries that point at it
// always change together.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	userRoom map[string]string

	maxPlayers     int
	persist        Persister
	bus            *events.Bus
	log            *zap.Logger
	hashCost       int
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() (string, error)
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		rooms:          make(map[string]*room),
		userRoom:       make(map[string]string),
		maxPlayers:     opts.MaxPlayers,
		persist:        opts.Persister,
		bus:            opts.Bus,
		log:            opts.Logger,
		hashCost:       opts.HashCost,
		persistTimeout: opts.PersistTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
	}
	if r.maxPlayers < MinPlayers {
		r.maxPlayers = DefaultMaxPlayers
	}
	if r.persist == nil {
		r.persist = nopPersister{}
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.persistTimeout <= 0 {
		r.persistTimeout = defaultPersistTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = GenerateCode
	}
	return r
}

type CreateParams struct {
	CreatorID  string
	Nickname   string
	RoomName   string
	MaxPlayers int
	Private    bool
	Password   string
}

// LeaveResult is the outcome of a departure. Room is the updated state unless
// Deleted is set, in which case the departing user was the last member.
type LeaveResult struct {
	Room    Snapshot
	Deleted bool
}

func (r *Registry) CreateRoom(p CreateParams) (Snapshot, error) {
	name := strings.TrimSpace(p.RoomName)
	switch {
	case p.CreatorID == "":
		return Snapshot{}, fmt.Errorf("%w: creator id is required", ErrInvalidParameters)
	case name == "":
		return Snapshot{}, fmt.Errorf("%w: room name is required", ErrInvalidParameters)
	case p.MaxPlayers < MinPlayers || p.MaxPlayers > r.maxPlayers:
		return Snapshot{}, fmt.Errorf("%w: max players must be between %d and %d", ErrInvalidParameters, MinPlayers, r.maxPlayers)
	case p.Private && p.Password == "":
		return Snapshot{}, fmt.Errorf("%w: private rooms need a password", ErrInvalidParameters)
	}

	var hash []byte
	if p.Private {
		var err error
		if hash, err = hashPassword(p.Password, r.hashCost); err != nil {
			return Snapshot{}, err
		}
	}

	rm := &room{
		name:         name,
		hostID:       p.CreatorID,
		maxPlayers:   p.MaxPlayers,
		private:      p.Private,
		passwordHash: hash,
		createdAt:    r.now(),
		status:       StatusWaiting,
		roster:       players.NewRoster(),
		version:      1,
	}
	rm.roster.Add(p.CreatorID, nicknameOr(p.Nickname, p.CreatorID))

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := r.register(rm, p.CreatorID); err != nil {
		return Snapshot{}, err
	}

	snap := rm.snapshot()
	r.save(snap)
	r.emit(events.RoomCreated, rm, p.CreatorID)
	r.log.Info("room created",
		zap.String("room_id", rm.id),
		zap.String("user_id", p.CreatorID),
		zap.Int("max_players", rm.maxPlayers),
		zap.Bool("private", rm.private),
	)
	return snap, nil
}

// register allocates an id for rm and indexes creatorID to it. The caller
// holds rm.mu.
func (r *Registry) register(rm *room, creatorID string) error {
	for range codeAttempts {
		id, err := r.newID()
		if err != nil {
			return fmt.Errorf("generating room code: %w", err)
		}

		r.mu.Lock()
		if cur, ok := r.userRoom[creatorID]; ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: user %s is in room %s", ErrAlreadyInRoom, creatorID, cur)
		}
		if _, taken := r.rooms[id]; taken {
			r.mu.Unlock()
			continue
		}
		rm.id = id
		r.rooms[id] = rm
		r.userRoom[creatorID] = id
		r.mu.Unlock()
		return nil
	}
	return fmt.Errorf("failed to generate unique room code after %d attempts", codeAttempts)
}

func (r *Registry) JoinRoom(userID, nickname, roomID, password string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	rm := r.lookup(roomID)
	if rm == nil {
		if cur := r.indexed(userID); cur != "" {
			return Snapshot{}, fmt.Errorf("%w: user %s is in room %s", ErrAlreadyInRoom, userID, cur)
		}
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	// private and passwordHash never change after creation, so the slow
	// comparison runs before taking the lock.
	passwordOK := !rm.private || passwordMatches(rm.passwordHash, password)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.userRoom[userID]; ok {
		r.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: user %s is in room %s", ErrAlreadyInRoom, userID, cur)
	}
	var err error
	switch {
	case rm.deleted:
		err = fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	case rm.status != StatusWaiting:
		err = fmt.Errorf("%w: %s", ErrRoomInProgress, roomID)
	case rm.isFull():
		err = fmt.Errorf("%w: %s has %d/%d players", ErrRoomFull, roomID, rm.roster.Count(), rm.maxPlayers)
	case !passwordOK:
		err = fmt.Errorf("%w: %s", ErrInvalidPassword, roomID)
	}
	if err != nil {
		r.mu.Unlock()
		r.log.Debug("join rejected", zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
		return Snapshot{}, err
	}
	r.userRoom[userID] = rm.id
	r.mu.Unlock()

	rm.roster.Add(userID, nicknameOr(nickname, userID))
	rm.version++

	snap := rm.snapshot()
	r.save(snap)
	r.emit(events.PlayerJoined, rm, userID)
	r.log.Info("player joined",
		zap.String("room_id", rm.id),
		zap.String("user_id", userID),
		zap.Int("players", rm.roster.Count()),
	)
	return snap, nil
}

func (r *Registry) LeaveRoom(userID, roomID string) (LeaveResult, error) {
	rm, err := r.lockMember(roomID, userID)
	if err != nil {
		return LeaveResult{}, err
	}
	defer rm.mu.Unlock()
	return r.removeMember(rm, userID, events.PlayerLeft), nil
}

// KickPlayer removes targetID on behalf of the host. The host cannot kick
// themself; they leave instead.
func (r *Registry) KickPlayer(hostID, roomID, targetID string) (Snapshot, error) {
	rm, err := r.lockHost(roomID, hostID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rm.mu.Unlock()
	if targetID == hostID {
		return Snapshot{}, fmt.Errorf("%w: the host cannot kick themself", ErrInvalidParameters)
	}
	if !rm.roster.Has(targetID) {
		return Snapshot{}, fmt.Errorf("%w: %s is not in room %s", ErrNotAMember, targetID, roomID)
	}
	res := r.removeMember(rm, targetID, events.PlayerKicked)
	return res.Room, nil
}

func (r *Registry) TransferHost(hostID, roomID, newHostID string) (Snapshot, error) {
	rm, err := r.lockHost(roomID, hostID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rm.mu.Unlock()
	if !rm.roster.Has(newHostID) {
		return Snapshot{}, fmt.Errorf("%w: %s is not in room %s", ErrNotAMember, newHostID, roomID)
	}
	if newHostID == rm.hostID {
		return rm.snapshot(), nil
	}
	rm.hostID = newHostID
	rm.version++

	snap := rm.snapshot()
	r.save(snap)
	r.emit(events.HostChanged, rm, hostID)
	r.log.Info("host transferred",
		zap.String("room_id", rm.id),
		zap.String("from", hostID),
		zap.String("to", newHostID),
	)
	return snap, nil
}

func (r *Registry) SetReady(userID, roomID string, ready bool) (Snapshot, error) {
	rm, err := r.lockMember(roomID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rm.mu.Unlock()
	if rm.status != StatusWaiting {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomInProgress, roomID)
	}
	if rm.roster.Get(userID).Ready == ready {
		return rm.snapshot(), nil
	}
	rm.roster.SetReady(userID, ready)
	rm.version++

	snap := rm.snapshot()
	r.save(snap)
	r.emit(events.ReadyChanged, rm, userID)
	return snap, nil
}

// StartGame moves a room from WAITING to PLAYING. Only the host may start,
// and every other member must be ready.
func (r *Registry) StartGame(userID, roomID string) (Snapshot, error) {
	rm, err := r.lockHost(roomID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	defer rm.mu.Unlock()
	if rm.status != StatusWaiting {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomInProgress, roomID)
	}
	if rm.roster.Count() < MinPlayers || !rm.roster.AllReady(rm.hostID) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotAllReady, roomID)
	}
	now := r.now()
	rm.status = StatusPlaying
	rm.startedAt = &now
	rm.version++

	snap := rm.snapshot()
	r.save(snap)
	r.emit(events.GameStarted, rm, userID)
	r.log.Info("game started", zap.String("room_id", rm.id), zap.Int("players", rm.roster.Count()))
	return snap, nil
}

// CloseRoom destroys a room on behalf of its host, evicting every member.
func (r *Registry) CloseRoom(hostID, roomID string) error {
	rm, err := r.lockHost(roomID, hostID)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()
	r.destroy(rm)
	return nil
}

// DeleteRoom removes a room and clears its members' index entries. Deleting
// an absent room is a no-op.
func (r *Registry) DeleteRoom(roomID string) {
	rm := r.lookup(roomID)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return
	}
	r.destroy(rm)
}

func (r *Registry) GetRoom(roomID string) (Snapshot, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return rm.snapshot(), nil
}

// GetRoomForUser returns the room userID currently occupies. The answer is
// taken under the room's lock, and it is only returned if the user is still
// on that room's roster. Otherwise the index is read again.
func (r *Registry) GetRoomForUser(userID string) (Snapshot, error) {
	for {
		r.mu.Lock()
		id, ok := r.userRoom[userID]
		rm := r.rooms[id]
		r.mu.Unlock()
		if !ok || rm == nil {
			return Snapshot{}, ErrNotInRoom
		}

		rm.mu.Lock()
		if !rm.deleted && rm.roster.Has(userID) {
			snap := rm.snapshot()
			rm.mu.Unlock()
			return snap, nil
		}
		rm.mu.Unlock()
	}
}

// ListRooms returns summaries of every live room, oldest first.
func (r *Registry) ListRooms() []Summary {
	r.mu.Lock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(list))
	for _, rm := range list {
		rm.mu.Lock()
		if !rm.deleted {
			out = append(out, rm.snapshot().Summary())
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

// Stats returns the number of live rooms and of users seated in them.
func (r *Registry) Stats() (roomCount, playerCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.userRoom)
}

// Verify checks every registry invariant and returns the first violation.
func (r *Registry) Verify() error {
	r.mu.Lock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	for user, id := range r.userRoom {
		if _, ok := r.rooms[id]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("user %s indexed to missing room %s", user, id)
		}
	}
	r.mu.Unlock()

	for _, rm := range list {
		if err := r.verifyRoom(rm); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) verifyRoom(rm *room) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return nil
	}
	if err := rm.check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	indexed := 0
	for user, id := range r.userRoom {
		if id != rm.id {
			continue
		}
		indexed++
		if !rm.roster.Has(user) {
			return fmt.Errorf("user %s indexed to room %s but not on its roster", user, rm.id)
		}
	}
	if indexed != rm.roster.Count() {
		return fmt.Errorf("room %s has %d members but %d index entries", rm.id, rm.roster.Count(), indexed)
	}
	return nil
}

// removeMember takes userID off rm's roster. The caller holds rm.mu and has
// checked membership.
func (r *Registry) removeMember(rm *room, userID string, kind events.Kind) LeaveResult {
	rm.roster.Remove(userID)

	r.mu.Lock()
	if r.userRoom[userID] == rm.id {
		delete(r.userRoom, userID)
	}
	empty := rm.roster.Count() == 0
	if empty {
		rm.deleted = true
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()

	rm.version++
	if empty {
		r.drop(rm.id)
		r.emit(kind, rm, userID)
		r.emit(events.RoomDeleted, rm, userID)
		r.log.Info("room deleted", zap.String("room_id", rm.id), zap.String("last_user_id", userID))
		return LeaveResult{Deleted: true}
	}

	hostChanged := false
	if rm.hostID == userID {
		rm.hostID = rm.roster.Earliest("").ID
		hostChanged = true
	}

	snap := rm.snapshot()
	r.save(snap)
	r.emit(kind, rm, userID)
	if hostChanged {
		r.emit(events.HostChanged, rm, userID)
		r.log.Info("host succeeded",
			zap.String("room_id", rm.id),
			zap.String("from", userID),
			zap.String("to", rm.hostID),
		)
	}
	r.log.Info("player removed",
		zap.String("room_id", rm.id),
		zap.String("user_id", userID),
		zap.String("reason", string(kind)),
		zap.Int("players", rm.roster.Count()),
	)
	return LeaveResult{Room: snap}
}

// destroy deletes rm and evicts every member. The caller holds rm.mu.
func (r *Registry) destroy(rm *room) {
	r.mu.Lock()
	for _, id := range rm.roster.IDs() {
		if r.userRoom[id] == rm.id {
			delete(r.userRoom, id)
		}
	}
	delete(r.rooms, rm.id)
	rm.deleted = true
	r.mu.Unlock()

	rm.version++
	r.drop(rm.id)
	r.emit(events.RoomDeleted, rm, "")
	r.log.Info("room closed", zap.String("room_id", rm.id), zap.Int("evicted", rm.roster.Count()))
}

func (r *Registry) lookup(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

func (r *Registry) indexed(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userRoom[userID]
}

// lockMember returns roomID's room locked, provided userID is on its roster.
func (r *Registry) lockMember(roomID, userID string) (*room, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if !rm.roster.Has(userID) {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not in room %s", ErrNotAMember, userID, roomID)
	}
	return rm, nil
}

// lockHost is lockMember that also requires userID to be the host.
func (r *Registry) lockHost(roomID, userID string) (*room, error) {
	rm, err := r.lockMember(roomID, userID)
	if err != nil {
		return nil, err
	}
	if rm.hostID != userID {
		rm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not the host of %s", ErrNotHost, userID, roomID)
	}
	return rm, nil
}

func (r *Registry) save(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
	defer cancel()
	if err := r.persist.SaveRoom(ctx, snap); err != nil {
		r.log.Error("persisting room", zap.String("room_id", snap.RoomID), zap.Int64("version", snap.Version), zap.Error(err))
	}
}

func (r *Registry) drop(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
	defer cancel()
	if err := r.persist.DeleteRoom(ctx, roomID); err != nil {
		r.log.Error("deleting persisted room", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (r *Registry) emit(kind events.Kind, rm *room, userID string) {
	if r.bus == nil {
		return
	}
	ev := events.Event{
		Kind:    kind,
		RoomID:  rm.id,
		UserID:  userID,
		HostID:  rm.hostID,
		Version: rm.version,
		At:      r.now(),
	}
	if !r.bus.Publish(ev) {
		r.log.Warn("event bus full, dropping event", zap.String("room_id", rm.id), zap.String("kind", string(kind)))
	}
}

func nicknameOr(nickname, fallback string) string {
	if n := strings.TrimSpace(nickname); n != "" {
		return n
	}
	return fallback
}
