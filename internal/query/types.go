package query

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceResponse is one projected account of an owner. Balance is in raw
// token units.
type BalanceResponse struct {
	Owner        string          `json:"owner"`
	Account      string          `json:"account"`
	SubType      string          `json:"sub_type"`
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// SeriesResponse is a series' terms with its projected reserves and
// supplies.
type SeriesResponse struct {
	SeriesID             string          `json:"series_id"`
	Pool                 string          `json:"pool"`
	Ledger               string          `json:"ledger"`
	Collateral           string          `json:"collateral"`
	Consideration        string          `json:"consideration"`
	Strike               decimal.Decimal `json:"strike"`
	IsPut                bool            `json:"is_put"`
	Expiration           time.Time       `json:"expiration"`
	FeeRateBps           int64           `json:"fee_rate_bps"`
	Admin                string          `json:"admin"`
	Locked               bool            `json:"locked"`
	CollateralReserve    decimal.Decimal `json:"collateral_reserve"`
	ConsiderationReserve decimal.Decimal `json:"consideration_reserve"`
	FeesAccrued          decimal.Decimal `json:"fees_accrued"`
	ShortSupply          decimal.Decimal `json:"short_supply"`
	LongSupply           decimal.Decimal `json:"long_supply"`
	LastSequence         int64           `json:"last_sequence"`
	AsOfSequence         int64           `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Timestamp     int64           `json:"timestamp"`
}

// EventEntry is one logged settlement event.
type EventEntry struct {
	Sequence  int64           `json:"sequence"`
	Index     int             `json:"index"`
	EventType string          `json:"event_type"`
	SeriesID  *string         `json:"series_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset is an asset whose projected balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string          `json:"asset"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
