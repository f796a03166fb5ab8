// Package keeper sweeps expired series on a schedule and archives a
// settlement statement once a series has no short supply left.
package keeper

import (
	"OptionSettle/internal/archive"
	"OptionSettle/internal/command"
	"OptionSettle/internal/core"
	"OptionSettle/internal/event"
	"OptionSettle/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const lockName = "sweep"

// Engine is the serialized access to the settlement core. core.Runner
// implements it.
type Engine interface {
	Do(ctx context.Context, fn func(*core.Engine)) error
	Submit(ctx context.Context, cmd command.Command) (core.Result, error)
}

// Store holds the coordination state shared between keeper replicas.
type Store interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
	Cursor(ctx context.Context, series common.Hash) (int, error)
	SetCursor(ctx context.Context, series common.Hash, next int) error
	MarkSettled(ctx context.Context, series common.Hash) (bool, error)
	ClearSettled(ctx context.Context, series common.Hash) error
}

type StatementWriter interface {
	PutStatement(ctx context.Context, st archive.Statement) error
}

type Config struct {
	Schedule  string
	Caller    common.Address
	BatchSize int
	LockTTL   time.Duration
}

// Report summarizes one run.
type Report struct {
	Series     int
	Sweeps     int
	Swept      int
	Statements int
}

type Keeper struct {
	cfg      Config
	engine   Engine
	store    Store
	archiver StatementWriter
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds a keeper. archiver may be nil, in which case fully swept
// series are only logged.
func New(cfg Config, engine Engine, store Store, archiver StatementWriter, metrics *observability.Metrics, logger zerolog.Logger) (*Keeper, error) {
	if cfg.Caller == (common.Address{}) {
		return nil, errors.New("keeper: caller is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("keeper: batch size %d must be positive", cfg.BatchSize)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Keeper{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetClock replaces the wall clock used to stamp sweep commands.
func (k *Keeper) SetClock(now func() time.Time) {
	k.now = now
}

// Start runs the schedule until ctx is cancelled. Overlapping runs are
// skipped.
func (k *Keeper) Start(ctx context.Context) error {
	logger := cronLogger{k.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(k.cfg.Schedule, func() { k.run(ctx) }); err != nil {
		return fmt.Errorf("keeper: schedule %q: %w", k.cfg.Schedule, err)
	}

	c.Start()
	k.logger.Info().
		Str("schedule", k.cfg.Schedule).
		Int("batch_size", k.cfg.BatchSize).
		Str("caller", k.cfg.Caller.Hex()).
		Msg("keeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	k.logger.Info().Msg("keeper stopped")
	return nil
}

func (k *Keeper) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, k.cfg.LockTTL)
	defer cancel()

	rep, err := k.RunOnce(runCtx)
	if err != nil {
		k.logger.Error().Err(err).Msg("keeper run failed")
		return
	}
	if rep.Sweeps > 0 || rep.Statements > 0 {
		k.logger.Info().
			Int("series", rep.Series).
			Int("sweeps", rep.Sweeps).
			Int("swept", rep.Swept).
			Int("statements", rep.Statements).
			Msg("keeper run complete")
	}
}

// RunOnce sweeps every expired series with short supply left, page by page
// from its stored cursor, and archives statements for series that reach
// zero short supply. Failures on one series do not stop the others.
func (k *Keeper) RunOnce(ctx context.Context) (Report, error) {
	unlock, err := k.store.Acquire(ctx, lockName, k.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		k.observe("skipped")
		return Report{}, nil
	}
	if err != nil {
		k.observe("error")
		return Report{}, err
	}
	defer unlock()

	var views []core.SeriesView
	if err := k.engine.Do(ctx, func(e *core.Engine) { views = e.ListSeries() }); err != nil {
		k.observe("error")
		return Report{}, err
	}

	now := k.now()
	var rep Report
	var errs []error
	for _, v := range views {
		if now.Before(v.Expiration) {
			continue
		}
		rep.Series++
		if err := k.sweepSeries(ctx, v, now, &rep); err != nil {
			k.logger.Warn().Err(err).Str("series_id", v.SeriesID.Hex()).Msg("sweep failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		k.observe("error")
		return rep, errors.Join(errs...)
	}
	k.observe("ok")
	return rep, nil
}

func (k *Keeper) sweepSeries(ctx context.Context, v core.SeriesView, now time.Time, rep *Report) error {
	id := v.SeriesID
	if v.ShortSupply.IsZero() {
		return k.settle(ctx, id, now, rep)
	}

	start, err := k.store.Cursor(ctx, id)
	if err != nil {
		return err
	}
	// A finished pass that left supply behind starts over.
	if start >= v.Holders {
		start = 0
	}

	for start < v.Holders {
		stop := min(start+k.cfg.BatchSize, v.Holders)
		cmd := &command.Sweep{
			SeriesHeader: command.SeriesHeader{
				Header: command.Header{
					Key:         fmt.Sprintf("keeper:sweep:%s:%d-%d:%d", id.Hex(), start, stop, now.UnixMicro()),
					Sender:      k.cfg.Caller,
					TimestampUs: now.UnixMicro(),
				},
				Series: id,
			},
			Start: start,
			Stop:  stop,
		}
		res, err := k.engine.Submit(ctx, cmd)
		if err != nil {
			return fmt.Errorf("sweep %s [%d, %d): %w", id.Hex(), start, stop, err)
		}
		rep.Sweeps++

		remaining := v.ShortSupply
		if res.Envelope != nil {
			for _, evt := range res.Envelope.Events {
				if done, ok := evt.(*event.SweepCompleted); ok {
					rep.Swept += done.Swept
					remaining = done.RemainingSupply
				}
			}
		}
		if err := k.store.SetCursor(ctx, id, stop); err != nil {
			return err
		}
		if remaining.IsZero() {
			return k.settle(ctx, id, now, rep)
		}
		start = stop
	}
	return nil
}

// settle archives the statement of a fully swept series once.
func (k *Keeper) settle(ctx context.Context, id common.Hash, now time.Time, rep *Report) error {
	if k.archiver == nil {
		return nil
	}
	first, err := k.store.MarkSettled(ctx, id)
	if err != nil || !first {
		return err
	}

	var (
		view    core.SeriesView
		viewErr error
		seq     int64
		hash    [32]byte
	)
	err = k.engine.Do(ctx, func(e *core.Engine) {
		view, viewErr = e.SeriesInfo(id)
		seq = e.GetSequence() - 1
		hash = e.GetStateHash()
	})
	if err == nil {
		err = viewErr
	}
	if err == nil {
		err = k.archiver.PutStatement(ctx, archive.NewStatement(view, seq, hash, now))
	}
	if err != nil {
		if clearErr := k.store.ClearSettled(ctx, id); clearErr != nil {
			k.logger.Error().Err(clearErr).Str("series_id", id.Hex()).Msg("clear settled marker")
		}
		return fmt.Errorf("statement %s: %w", id.Hex(), err)
	}

	rep.Statements++
	if k.metrics != nil {
		k.metrics.KeeperStatements.Inc()
	}
	k.logger.Info().
		Str("series_id", id.Hex()).
		Int64("sequence", seq).
		Msg("settlement statement archived")
	return nil
}

func (k *Keeper) observe(outcome string) {
	if k.metrics != nil {
		k.metrics.KeeperRuns.WithLabelValues(outcome).Inc()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
