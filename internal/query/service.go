package query

import (
	"OptionSettle/internal/domain"
	"OptionSettle/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DefaultLimit caps history queries that pass no limit.
const DefaultLimit = 100

// QueryService provides read-only access to the projection tables and the
// event log. Every response carries as_of_sequence, the last command the
// projections reflect.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalances returns every projected user account of owner: wallet
// balances and long/short holdings.
func (qs *QueryService) GetBalances(ctx context.Context, owner common.Address) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance
		FROM projections.balances
		WHERE account_path LIKE $1 AND balance <> 0
		ORDER BY account_path
	`, "user:"+owner.Hex()+":%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{Owner: owner.Hex(), AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Account, &b.Asset, &b.Balance); err != nil {
			return nil, err
		}
		if p, ok := ParseAccountPath(b.Account); ok {
			b.SubType = p.SubType
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetSeries returns one series' projected state.
func (qs *QueryService) GetSeries(ctx context.Context, id common.Hash) (*SeriesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	s, err := scanSeries(qs.db.QueryRowContext(ctx, seriesSelect+` WHERE series_id = $1`, id.Hex()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSeriesNotFound, id.Hex())
	}
	if err != nil {
		return nil, err
	}
	s.AsOfSequence = asOfSeq
	if err := qs.fillReserves(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSeries returns every projected series in creation order.
func (qs *QueryService) ListSeries(ctx context.Context) ([]SeriesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, seriesSelect+` ORDER BY created_sequence`)
	if err != nil {
		return nil, err
	}
	var out []SeriesResponse
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		s.AsOfSequence = asOfSeq
		out = append(out, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := qs.fillReserves(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetJournalHistory returns journal entries touching owner's accounts,
// newest first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner common.Address,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := "user:" + owner.Hex() + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, normalizeLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEvents returns logged settlement events, newest first, optionally for
// one series.
func (qs *QueryService) GetEvents(
	ctx context.Context,
	seriesID *common.Hash,
	limit int,
	afterSequence *int64,
) ([]EventEntry, error) {
	query := `
		SELECT sequence, event_index, event_type, series_id, data, timestamp
		FROM event_log.events
		WHERE TRUE
	`
	var args []any
	argIdx := 1

	if seriesID != nil {
		query += fmt.Sprintf(" AND series_id = $%d", argIdx)
		args = append(args, seriesID.Hex())
		argIdx++
	}
	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, event_index ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, normalizeLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventEntry
	for rows.Next() {
		var (
			e    EventEntry
			data []byte
		)
		if err := rows.Scan(&e.Sequence, &e.Index, &e.EventType, &e.SeriesID, &data, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Data = data
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the command log's hash chain and that projected
// balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM event_log.commands c1
		JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

const seriesSelect = `
	SELECT series_id, pool, ledger, collateral, consideration, strike, is_put,
	       expiration, fee_rate_bps, admin, locked, last_sequence
	FROM projections.series_state`

type scanner interface {
	Scan(dest ...any) error
}

func scanSeries(row scanner) (*SeriesResponse, error) {
	var s SeriesResponse
	if err := row.Scan(
		&s.SeriesID, &s.Pool, &s.Ledger, &s.Collateral, &s.Consideration, &s.Strike, &s.IsPut,
		&s.Expiration, &s.FeeRateBps, &s.Admin, &s.Locked, &s.LastSequence,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// fillReserves reads the series' system accounts. Issuance accounts are
// negative by the amount outstanding.
func (qs *QueryService) fillReserves(ctx context.Context, s *SeriesResponse) error {
	pool := common.HexToAddress(s.Pool)
	lng := common.HexToAddress(s.Ledger)
	collateral := common.HexToAddress(s.Collateral)
	consideration := common.HexToAddress(s.Consideration)

	targets := []struct {
		key    ledger.AccountKey
		dst    *decimal.Decimal
		negate bool
	}{
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeCollateralReserve, collateral), &s.CollateralReserve, false},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeConsiderationReserve, consideration), &s.ConsiderationReserve, false},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeFees, consideration), &s.FeesAccrued, false},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeShortIssuance, pool), &s.ShortSupply, true},
		{ledger.NewSystemAccountKey(lng, ledger.SubTypeLongIssuance, lng), &s.LongSupply, true},
	}
	for _, t := range targets {
		bal, err := qs.getProjectedBalance(ctx, t.key.AccountPath())
		if err != nil {
			return err
		}
		if t.negate {
			bal = bal.Neg()
		}
		*t.dst = bal
	}
	return nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return balance, err
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultLimit
	}
	return limit
}

// AccountPath is a parsed journal account path.
type AccountPath struct {
	Scope   string
	Owner   string
	SubType string
	Asset   string
}

// ParseAccountPath splits "user:<owner>:<sub>:<asset>",
// "system:<owner>:<sub>:<asset>" and "external:<sub>:<asset>".
func ParseAccountPath(path string) (AccountPath, bool) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && (parts[0] == "user" || parts[0] == "system"):
		return AccountPath{Scope: parts[0], Owner: parts[1], SubType: parts[2], Asset: parts[3]}, true
	case len(parts) == 3 && parts[0] == "external":
		return AccountPath{Scope: parts[0], SubType: parts[1], Asset: parts[2]}, true
	}
	return AccountPath{}, false
}
