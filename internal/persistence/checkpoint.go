package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckpointStore records (sequence, state hash) pairs and reads the command
// log back for recovery. A checkpoint holds no state of its own: recovery
// replays the log from genesis and the checkpoint only confirms the replay
// arrived at the same hash.
type CheckpointStore struct {
	db *sql.DB
}

// Checkpoint is the engine's position in the hash chain.
type Checkpoint struct {
	Sequence  int64
	StateHash [32]byte
	Verified  bool
	CreatedAt time.Time
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// SaveCheckpoint persists a checkpoint. Re-saving the same sequence
// overwrites the hash and clears the verified flag.
func (cs *CheckpointStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := cs.db.ExecContext(ctx, `
		INSERT INTO event_log.checkpoints
			(checkpoint_id, sequence, state_hash, verified, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (sequence) DO UPDATE SET state_hash = $3, verified = FALSE
	`, uuid.New(), cp.Sequence, cp.StateHash[:], cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.Sequence, err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint, or nil when none has
// been written.
func (cs *CheckpointStore) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var (
		cp   Checkpoint
		hash []byte
	)
	err := cs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, verified, created_at
		FROM event_log.checkpoints
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&cp.Sequence, &hash, &cp.Verified, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(hash) != len(cp.StateHash) {
		return nil, fmt.Errorf("checkpoint %d: state hash has %d bytes", cp.Sequence, len(hash))
	}
	copy(cp.StateHash[:], hash)
	return &cp, nil
}

// MarkVerified flags a checkpoint whose hash a replay reproduced.
func (cs *CheckpointStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := cs.db.ExecContext(ctx, `
		UPDATE event_log.checkpoints SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads up to limit logged commands starting at
// fromSequence, in sequence order.
func (cs *CheckpointStore) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, series_id, caller,
		       payload, events, state_hash, prev_hash, timestamp
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.SeriesID, &c.Caller,
			&c.Payload, &c.Events, &c.StateHash, &c.PrevHash, &c.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log, or 0
// for an empty log.
func (cs *CheckpointStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := cs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// ErrNotPersisted is returned when a checkpoint is ahead of the durable
// command log.
var ErrNotPersisted = errors.New("checkpoint ahead of the command log")

// SaveIfPersisted saves cp only once the command log holds its sequence, so
// a crash can never leave a checkpoint that recovery cannot reach.
func (cs *CheckpointStore) SaveIfPersisted(ctx context.Context, cp Checkpoint) error {
	persisted, err := cs.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read command log head: %w", err)
	}
	if persisted < cp.Sequence {
		return fmt.Errorf("%w: sequence %d, persisted %d", ErrNotPersisted, cp.Sequence, persisted)
	}
	return cs.SaveCheckpoint(ctx, cp)
}
