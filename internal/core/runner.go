package core

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/domain"
	"context"

	"github.com/rs/zerolog"
)

// Runner owns the engine goroutine. Commands from every ingress (NATS,
// gRPC, keeper) and every read go through its inbox, so the engine is only
// ever touched by one goroutine.
type Runner struct {
	engine *Engine
	inbox  chan job
	logger zerolog.Logger
}

type job struct {
	fn   func(*Engine)
	done chan struct{}
}

func NewRunner(engine *Engine, inboxSize int, logger zerolog.Logger) *Runner {
	return &Runner{
		engine: engine,
		inbox:  make(chan job, inboxSize),
		logger: logger,
	}
}

// Run processes the inbox until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Int64("sequence", r.engine.GetSequence()).
		Msg("core runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Int64("sequence", r.engine.GetSequence()).Msg("core runner stopped")
			return nil
		case j := <-r.inbox:
			j.fn(r.engine)
			close(j.done)
		}
	}
}

// Do runs fn on the engine goroutine and waits for it.
func (r *Runner) Do(ctx context.Context, fn func(*Engine)) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case r.inbox <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit applies one command and returns its outcome.
func (r *Runner) Submit(ctx context.Context, cmd command.Command) (Result, error) {
	var (
		res    Result
		cmdErr error
	)
	if err := r.Do(ctx, func(e *Engine) {
		res, cmdErr = e.ProcessCommand(cmd)
	}); err != nil {
		return Result{}, err
	}

	switch {
	case cmdErr != nil:
		r.logger.Warn().
			Err(cmdErr).
			Str("command_type", cmd.CommandType().String()).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Str("code", domain.Code(cmdErr)).
			Msg("command rejected")
	case res.Duplicate:
		r.logger.Debug().
			Str("command_type", cmd.CommandType().String()).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Msg("duplicate command ignored")
	}
	return res, cmdErr
}

// InboxDepth reports queued jobs for the channel metrics.
func (r *Runner) InboxDepth() (size, capacity int) {
	return len(r.inbox), cap(r.inbox)
}
