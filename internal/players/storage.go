package players

// Roster keeps a room's members in join order. It has no lock of its own:
// the owning room serializes every call.
type Roster struct {
	players []*Player
	nextSeq int64
}

func NewRoster() *Roster {
	return &Roster{nextSeq: 1}
}

// Add appends a member with the next join sequence. It returns nil if id is
// already on the roster.
func (r *Roster) Add(id, nickname string) *Player {
	if r.indexOf(id) >= 0 {
		return nil
	}
	p := &Player{ID: id, Nickname: nickname, JoinedSeq: r.nextSeq}
	r.nextSeq++
	r.players = append(r.players, p)
	return p
}

// Restore inserts a member with an explicit join sequence, keeping the roster
// ordered by sequence. Used when rebuilding rooms from storage.
func (r *Roster) Restore(p Player) bool {
	if r.indexOf(p.ID) >= 0 {
		return false
	}
	cp := p
	i := len(r.players)
	for i > 0 && r.players[i-1].JoinedSeq > cp.JoinedSeq {
		i--
	}
	r.players = append(r.players, nil)
	copy(r.players[i+1:], r.players[i:])
	r.players[i] = &cp
	if cp.JoinedSeq >= r.nextSeq {
		r.nextSeq = cp.JoinedSeq + 1
	}
	return true
}

func (r *Roster) Get(id string) *Player {
	if i := r.indexOf(id); i >= 0 {
		return r.players[i]
	}
	return nil
}

func (r *Roster) Has(id string) bool {
	return r.indexOf(id) >= 0
}

func (r *Roster) Remove(id string) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.players = append(r.players[:i], r.players[i+1:]...)
	return true
}

func (r *Roster) Count() int {
	return len(r.players)
}

// Earliest returns the member with the smallest join sequence, optionally
// skipping one id. It returns nil when no candidate remains.
func (r *Roster) Earliest(except string) *Player {
	for _, p := range r.players {
		if p.ID != except {
			return p
		}
	}
	return nil
}

// GetList returns copies in join order.
func (r *Roster) GetList() []Player {
	list := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		list = append(list, *p)
	}
	return list
}

func (r *Roster) IDs() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

func (r *Roster) SetReady(id string, isReady bool) *Player {
	if p := r.Get(id); p != nil {
		p.Ready = isReady
		return p
	}
	return nil
}

// AllReady reports whether every member other than except is ready. A roster
// with no such members is not ready.
func (r *Roster) AllReady(except string) bool {
	n := 0
	for _, p := range r.players {
		if p.ID == except {
			continue
		}
		if !p.Ready {
			return false
		}
		n++
	}
	return n > 0
}

// NextSeq is the sequence the next Add will assign.
func (r *Roster) NextSeq() int64 {
	return r.nextSeq
}

func (r *Roster) indexOf(id string) int {
	for i, p := range r.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}
