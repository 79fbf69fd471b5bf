package rooms

import "context"

// Persister mirrors committed room state into a durable store. The registry
// calls it while still holding the room's lock, so writes for one room arrive
// in commit order.
type Persister interface {
	SaveRoom(ctx context.Context, snap Snapshot) error
	DeleteRoom(ctx context.Context, roomID string) error
}

type nopPersister struct{}

func (nopPersister) SaveRoom(context.Context, Snapshot) error { return nil }
func (nopPersister) DeleteRoom(context.Context, string) error { return nil }
