package persistence

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/core"
	"OptionSettle/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReplayPageSize is the number of commands loaded per query during
// recovery.
const DefaultReplayPageSize = 1000

// RecoveryResult summarises a start-up replay.
type RecoveryResult struct {
	Replayed           int64
	LastSequence       int64
	LastTimestamp      time.Time
	StateHash          [32]byte
	CheckpointVerified bool
}

// Recoverer rebuilds engine state from the command log.
type Recoverer struct {
	store    *CheckpointStore
	pageSize int
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRecoverer(store *CheckpointStore, pageSize int, metrics *observability.Metrics, logger zerolog.Logger) *Recoverer {
	if pageSize <= 0 {
		pageSize = DefaultReplayPageSize
	}
	return &Recoverer{store: store, pageSize: pageSize, metrics: metrics, logger: logger}
}

// Recover replays every logged command into a fresh engine. Each command
// must reproduce its logged state hash, and the latest checkpoint must lie
// on the replayed chain. Must run before the engine's runner starts.
func (r *Recoverer) Recover(ctx context.Context, engine *core.Engine) (RecoveryResult, error) {
	start := time.Now()

	cp, err := r.store.LatestCheckpoint(ctx)
	if err != nil {
		return RecoveryResult{}, err
	}

	var res RecoveryResult
	next := engine.GetSequence()
	for {
		rows, err := r.store.LoadCommandsFrom(ctx, next, r.pageSize)
		if err != nil {
			return res, fmt.Errorf("load commands from %d: %w", next, err)
		}
		for _, row := range rows {
			if err := ReplayRow(engine, row); err != nil {
				return res, err
			}
			if cp != nil && row.Sequence == cp.Sequence {
				if engine.GetStateHash() != cp.StateHash {
					return res, fmt.Errorf("checkpoint %d: state hash %x does not match replayed %x",
						cp.Sequence, cp.StateHash, engine.GetStateHash())
				}
				res.CheckpointVerified = true
			}
			res.Replayed++
			if r.metrics != nil {
				r.metrics.ReplayCommands.Inc()
			}
		}
		if len(rows) < r.pageSize {
			break
		}
		next = rows[len(rows)-1].Sequence + 1
	}

	res.LastSequence = engine.GetSequence() - 1
	res.StateHash = engine.GetStateHash()
	res.LastTimestamp = engine.LastTimestamp()

	if cp != nil {
		if !res.CheckpointVerified {
			return res, fmt.Errorf("checkpoint %d is beyond the command log (last sequence %d)",
				cp.Sequence, res.LastSequence)
		}
		if !cp.Verified {
			if err := r.store.MarkVerified(ctx, cp.Sequence); err != nil {
				return res, fmt.Errorf("mark checkpoint %d verified: %w", cp.Sequence, err)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.logger.Info().
		Int64("replayed", res.Replayed).
		Int64("last_sequence", res.LastSequence).
		Time("last_timestamp", res.LastTimestamp).
		Str("state_hash", fmt.Sprintf("%x", res.StateHash)).
		Bool("checkpoint_verified", res.CheckpointVerified).
		Dur("duration", time.Since(start)).
		Msg("command log replayed")
	return res, nil
}

// ReplayRow decodes one logged command and replays it.
func ReplayRow(engine *core.Engine, row CommandRow) error {
	t, err := command.ParseType(row.CommandType)
	if err != nil {
		return fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}
	cmd, err := command.Decode(t, row.Payload)
	if err != nil {
		return fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}
	var want [32]byte
	if len(row.StateHash) != len(want) {
		return fmt.Errorf("sequence %d: state hash has %d bytes", row.Sequence, len(row.StateHash))
	}
	copy(want[:], row.StateHash)
	return engine.Replay(cmd, row.Sequence, want)
}

// CheckpointOf captures the engine's current position. Call from the engine
// goroutine.
func CheckpointOf(engine *core.Engine, now time.Time) Checkpoint {
	return Checkpoint{
		Sequence:  engine.GetSequence() - 1,
		StateHash: engine.GetStateHash(),
		CreatedAt: now,
	}
}
