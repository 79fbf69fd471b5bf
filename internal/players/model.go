package players

// Player is one member of a room roster.
type Player struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	JoinedSeq int64  `json:"joinedSeq"`
	Ready     bool   `json:"ready"`
}
