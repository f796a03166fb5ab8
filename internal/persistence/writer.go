package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes the command log, its settlement events and the
// audit journal using multi-row INSERTs. Every insert is idempotent on its
// primary key so a retried flush never duplicates rows. JSON columns are
// sent as text so lib/pq does not encode them as bytea.
type EventLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	SeriesID       *string
	Caller         string
	Payload        []byte // JSON-encoded command, replayed on recovery
	Events         []byte // JSON array of event.Record
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence  int64
	Index     int
	EventType string
	SeriesID  *string
	Data      []byte
	Timestamp time.Time
}

// JournalRow represents a row in event_log.journal. Amount is a decimal
// string stored as NUMERIC(78,0).
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   string
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// maxParams is Postgres' bind parameter limit per statement.
const maxParams = 65535

// WriteCommandBatch writes commands to event_log.commands.
func (w *EventLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	return insertRows(ctx, ex,
		`INSERT INTO event_log.commands
		(sequence, command_type, idempotency_key, series_id, caller, payload, events, state_hash, prev_hash, timestamp)
		VALUES `,
		" ON CONFLICT (sequence) DO NOTHING",
		10, len(commands), func(i int) []any {
			c := commands[i]
			return []any{
				c.Sequence, c.CommandType, c.IdempotencyKey, c.SeriesID, c.Caller,
				string(c.Payload), string(c.Events), c.StateHash, c.PrevHash, c.Timestamp,
			}
		})
}

// WriteEventBatch writes settlement events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	return insertRows(ctx, ex,
		`INSERT INTO event_log.events
		(sequence, event_index, event_type, series_id, data, timestamp)
		VALUES `,
		" ON CONFLICT (sequence, event_index) DO NOTHING",
		6, len(events), func(i int) []any {
			e := events[i]
			return []any{e.Sequence, e.Index, e.EventType, e.SeriesID, string(e.Data), e.Timestamp}
		})
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	return insertRows(ctx, ex,
		`INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES `,
		" ON CONFLICT (journal_id) DO NOTHING",
		10, len(journals), func(i int) []any {
			j := journals[i]
			return []any{
				j.JournalID, j.BatchID, j.EventRef, j.Sequence,
				j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
				j.JournalType, j.Timestamp,
			}
		})
}

// insertRows runs one multi-row INSERT per chunk that fits the parameter
// limit.
func insertRows(ctx context.Context, ex execer, prefix, suffix string, cols, n int, row func(i int) []any) error {
	perStmt := maxParams / cols
	for lo := 0; lo < n; lo += perStmt {
		hi := min(lo+perStmt, n)
		args := make([]any, 0, (hi-lo)*cols)
		for i := lo; i < hi; i++ {
			args = append(args, row(i)...)
		}
		if _, err := ex.ExecContext(ctx, prefix+placeholders(hi-lo, cols)+suffix, args...); err != nil {
			return err
		}
	}
	return nil
}

// placeholders renders "($1, $2), ($3, $4)" for rows x cols parameters.
func placeholders(rows, cols int) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
