package rooms

import "errors"

var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrAlreadyInRoom     = errors.New("already in a room")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomInProgress    = errors.New("room is in progress")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrNotAMember        = errors.New("not a member of the room")
	ErrNotInRoom         = errors.New("not in any room")
	ErrNotHost           = errors.New("only the host can do that")
	ErrNotAllReady       = errors.New("not every player is ready")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidParameters, "InvalidParameters"},
	{ErrAlreadyInRoom, "AlreadyInRoom"},
	{ErrRoomNotFound, "RoomNotFound"},
	{ErrRoomFull, "RoomFull"},
	{ErrRoomInProgress, "RoomInProgress"},
	{ErrInvalidPassword, "InvalidPassword"},
	{ErrNotAMember, "NotAMember"},
	{ErrNotInRoom, "NotInRoom"},
	{ErrNotHost, "NotHost"},
	{ErrNotAllReady, "NotAllReady"},
}

// Kind names the failure class of err for transports and metrics. It returns
// "" for nil and "Internal" for errors outside the room taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
