package main

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/config"
	"OptionSettle/internal/core"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/observability"
	"OptionSettle/internal/persistence"
	"OptionSettle/internal/pool"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// fanOut forwards every applied command to the persistence worker and, best
// effort, to the outbound publisher. Both outputs are closed once in closes.
func fanOut(in <-chan core.CoreOutput, persist, publish chan<- core.CoreOutput, metrics *observability.Metrics) {
	defer close(persist)
	defer close(publish)

	for out := range in {
		persist <- out
		select {
		case publish <- out:
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// checkpointer is the part of the checkpoint store the periodic loop needs.
type checkpointer interface {
	SaveIfPersisted(ctx context.Context, cp persistence.Checkpoint) error
}

// runCheckpoints records the engine position every interval. A position the
// persistence worker has not flushed yet is retried on the next tick.
func runCheckpoints(ctx context.Context, runner *core.Runner, store checkpointer, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var cp persistence.Checkpoint
		if err := runner.Do(ctx, func(e *core.Engine) { cp = persistence.CheckpointOf(e, time.Now()) }); err != nil {
			return
		}
		if cp.Sequence < 1 || cp.Sequence == last {
			continue
		}
		err := store.SaveIfPersisted(ctx, cp)
		switch {
		case errors.Is(err, persistence.ErrNotPersisted):
			logger.Debug().Int64("sequence", cp.Sequence).Msg("checkpoint deferred until persisted")
		case err != nil:
			logger.Warn().Err(err).Int64("sequence", cp.Sequence).Msg("checkpoint failed")
		default:
			last = cp.Sequence
			if metrics != nil {
				metrics.CheckpointsWritten.Inc()
			}
			logger.Info().Int64("sequence", cp.Sequence).Msg("checkpoint written")
		}
	}
}

// finalCheckpoint runs after the pipeline drained, so the engine is owned by
// the caller.
func finalCheckpoint(engine *core.Engine, store checkpointer) error {
	cp := persistence.CheckpointOf(engine, time.Now())
	if cp.Sequence < 1 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.SaveIfPersisted(ctx, cp)
}

func monitorChannels(ctx context.Context, runner *core.Runner, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range chans {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
			size, capacity := runner.InboxDepth()
			metrics.SetChannelMetrics("inbox", size, capacity)
		}
	}
}

// bootstrapSeries creates the series listed in the config. Each create is
// keyed by the series id, so restarts resubmit them as duplicates.
func bootstrapSeries(ctx context.Context, cfg *config.Config, runner *core.Runner, logger zerolog.Logger) {
	for _, cmd := range bootstrapCommands(cfg, time.Now()) {
		res, err := runner.Submit(ctx, cmd)
		switch {
		case err == nil && res.Duplicate:
			logger.Debug().Str("key", cmd.Key).Msg("series already bootstrapped")
		case err == nil:
			logger.Info().Str("key", cmd.Key).Msg("series created")
		case errors.Is(err, domain.ErrSeriesExists), errors.Is(err, domain.ErrInvalidValue):
			logger.Warn().Err(err).Str("key", cmd.Key).Msg("series not bootstrapped")
		case ctx.Err() != nil:
			return
		default:
			logger.Error().Err(err).Str("key", cmd.Key).Msg("series bootstrap failed")
		}
	}
}

func bootstrapCommands(cfg *config.Config, now time.Time) []*command.CreateSeries {
	cmds := make([]*command.CreateSeries, 0, len(cfg.Series))
	for _, s := range cfg.Series {
		collateral, _ := cfg.AssetAddress(s.Collateral)
		consideration, _ := cfg.AssetAddress(s.Consideration)
		strike, err := s.StrikeRatio()
		if err != nil {
			continue
		}
		id := pool.DeriveSeriesID(collateral, consideration, strike, s.Expiration, s.IsPut)
		cmds = append(cmds, &command.CreateSeries{
			Header: command.Header{
				Key:         fmt.Sprintf("bootstrap:%s", id.Hex()),
				Sender:      common.HexToAddress(s.Admin),
				TimestampUs: now.UnixMicro(),
			},
			Collateral:    collateral,
			Consideration: consideration,
			Strike:        strike,
			Expiration:    s.Expiration.Unix(),
			IsPut:         s.IsPut,
			FeeRateBps:    s.FeeRateBps,
		})
	}
	return cmds
}
