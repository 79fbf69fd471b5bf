package db

import (
	"context"
	"database/sql"
	"fmt"
	"kibaeon/internal/players"
	"kibaeon/internal/rooms"
	"time"

	"go.uber.org/zap"
)

// SaveRoom upserts a room and replaces its member rows. A snapshot older than
// the stored version is ignored.
func (d *DB) SaveRoom(ctx context.Context, snap rooms.Snapshot) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, host_id, max_players, private, password_hash, status, created_at, started_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			host_id = EXCLUDED.host_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			version = EXCLUDED.version,
			updated_at = now()
		WHERE rooms.version < EXCLUDED.version
	`, snap.RoomID, snap.RoomName, snap.HostID, snap.MaxPlayers, snap.Private, nullBytes(snap.PasswordHash),
		string(snap.Status), snap.CreatedAt, snap.StartedAt, snap.Version)
	if err != nil {
		return fmt.Errorf("upserting room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		d.log.Debug("skipping stale room snapshot", zap.String("room_id", snap.RoomID), zap.Int64("version", snap.Version))
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = $1`, snap.RoomID); err != nil {
		return fmt.Errorf("clearing room members: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO room_members (room_id, user_id, nickname, joined_seq, ready)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range snap.Players {
		if _, err := stmt.ExecContext(ctx, snap.RoomID, p.ID, p.Nickname, p.JoinedSeq, p.Ready); err != nil {
			return fmt.Errorf("inserting room member: %w", err)
		}
	}

	return tx.Commit()
}

func (d *DB) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

// LoadRooms reads every stored room with its members in join order.
func (d *DB) LoadRooms(ctx context.Context) ([]rooms.Snapshot, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, name, host_id, max_players, private, password_hash, status, created_at, started_at, version
		FROM rooms ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("loading rooms: %w", err)
	}
	defer rows.Close()

	var snaps []rooms.Snapshot
	byID := make(map[string]int)
	for rows.Next() {
		var (
			s         rooms.Snapshot
			status    string
			hash      []byte
			startedAt sql.NullTime
		)
		if err := rows.Scan(&s.RoomID, &s.RoomName, &s.HostID, &s.MaxPlayers, &s.Private, &hash,
			&status, &s.CreatedAt, &startedAt, &s.Version); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		s.Status = rooms.Status(status)
		s.PasswordHash = hash
		if startedAt.Valid {
			t := startedAt.Time
			s.StartedAt = &t
		}
		byID[s.RoomID] = len(snaps)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}

	members, err := d.conn.QueryContext(ctx, `
		SELECT room_id, user_id, nickname, joined_seq, ready
		FROM room_members ORDER BY room_id, joined_seq
	`)
	if err != nil {
		return nil, fmt.Errorf("loading room members: %w", err)
	}
	defer members.Close()

	for members.Next() {
		var roomID string
		var p players.Player
		if err := members.Scan(&roomID, &p.ID, &p.Nickname, &p.JoinedSeq, &p.Ready); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		i, ok := byID[roomID]
		if !ok {
			continue
		}
		s := &snaps[i]
		s.Players = append(s.Players, p)
		s.PlayerIDs = append(s.PlayerIDs, p.ID)
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("iterating room members: %w", err)
	}
	return snaps, nil
}

// PurgeStale removes rooms not written since before cutoff. It is run before
// a restore so rooms abandoned by a crashed process do not come back.
func (d *DB) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM rooms WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging stale rooms: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		d.log.Info("purged stale rooms", zap.Int64("count", n))
	}
	return n, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ rooms.Persister = (*DB)(nil)
