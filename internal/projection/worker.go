package projection

import (
	"OptionSettle/internal/core"
	"OptionSettle/internal/event"
	"OptionSettle/internal/ledger"
	"OptionSettle/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// WorkerID is the watermark row owned by the projection worker.
const WorkerID = "main"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker updates projection tables from applied commands. The
// projection channel drops on overflow, so projections may fall behind or
// skip a command; RebuildProjections restores them from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if pw.lastSeq != 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", seq).
					Msg("projection gap; rebuild from the event log to repair")
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable.
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
			} else if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := applyJournal(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	for _, evt := range output.Envelope.Events {
		if err := applySeriesEvent(ctx, tx, evt, seq); err != nil {
			return fmt.Errorf("series projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// applyJournal adds the amount to the debit account and subtracts it from
// the credit account.
func applyJournal(ctx context.Context, ex execer, j ledger.Journal, seq int64) error {
	amount := j.Amount.Dec()
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3::numeric, $4, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4, updated_at = NOW()
	`, j.DebitAccount.AccountPath(), j.DebitAccount.Asset.Hex(), amount, seq); err != nil {
		return err
	}

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, -($3::numeric), $4, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4, updated_at = NOW()
	`, j.CreditAccount.AccountPath(), j.CreditAccount.Asset.Hex(), amount, seq); err != nil {
		return err
	}
	return nil
}

// applySeriesEvent maintains projections.series_state. Events that do not
// change series terms are ignored.
func applySeriesEvent(ctx context.Context, ex execer, evt event.Event, seq int64) error {
	var err error
	switch e := evt.(type) {
	case *event.SeriesCreated:
		_, err = ex.ExecContext(ctx, `
			INSERT INTO projections.series_state
				(series_id, pool, ledger, collateral, consideration, strike, is_put, expiration,
				 fee_rate_bps, admin, locked, created_sequence, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, FALSE, $11, $11, NOW())
			ON CONFLICT (series_id) DO NOTHING
		`, e.SeriesID.Hex(), e.Pool.Hex(), e.Ledger.Hex(), e.Collateral.Hex(), e.Consideration.Hex(),
			e.Strike.Dec(), e.IsPut, time.Unix(e.Expiration, 0).UTC(), e.FeeRateBps, e.Admin.Hex(), seq)

	case *event.ContractLocked:
		err = updateSeries(ctx, ex, e.SeriesID.Hex(), "locked = TRUE", seq)

	case *event.ContractUnlocked:
		err = updateSeries(ctx, ex, e.SeriesID.Hex(), "locked = FALSE", seq)

	case *event.FeeAdjusted:
		_, err = ex.ExecContext(ctx, `
			UPDATE projections.series_state
			SET fee_rate_bps = $2, last_sequence = $3, updated_at = NOW()
			WHERE series_id = $1
		`, e.SeriesID.Hex(), e.NewRateBps, seq)
	}
	return err
}

func updateSeries(ctx context.Context, ex execer, seriesID, set string, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE projections.series_state
		SET `+set+`, last_sequence = $2, updated_at = NOW()
		WHERE series_id = $1
	`, seriesID, seq)
	return err
}

func setWatermark(ctx context.Context, ex execer, seq int64) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WorkerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// seriesEventTypes are the event types that shape projections.series_state.
var seriesEventTypes = []string{
	event.EventTypeSeriesCreated.String(),
	event.EventTypeContractLocked.String(),
	event.EventTypeContractUnlocked.String(),
	event.EventTypeFeeAdjusted.String(),
}

// RebuildProjections rebuilds every projection table from the event log in
// one transaction.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.series_state`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT account_path, asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, event_type, data
		FROM event_log.events
		WHERE event_type = ANY($1)
		ORDER BY sequence, event_index
	`, pq.Array(seriesEventTypes))
	if err != nil {
		return fmt.Errorf("load series events: %w", err)
	}
	type logged struct {
		seq int64
		evt event.Event
	}
	var events []logged
	for rows.Next() {
		var (
			seq  int64
			typ  string
			data []byte
		)
		if err := rows.Scan(&seq, &typ, &data); err != nil {
			rows.Close()
			return err
		}
		evt, err := event.Decode(event.Record{Type: typ, Data: json.RawMessage(data)})
		if err != nil {
			rows.Close()
			return fmt.Errorf("sequence %d: %w", seq, err)
		}
		events = append(events, logged{seq: seq, evt: evt})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, l := range events {
		if err := applySeriesEvent(ctx, tx, l.evt, l.seq); err != nil {
			return fmt.Errorf("rebuild series at %d: %w", l.seq, err)
		}
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.commands`).Scan(&last); err != nil {
		return err
	}
	if last.Valid {
		if err := setWatermark(ctx, tx, last.Int64); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int64("sequence", last.Int64).Int("series_events", len(events)).Msg("projection rebuild complete")
	return nil
}
