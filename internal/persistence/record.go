package persistence

import (
	"OptionSettle/internal/core"
	"OptionSettle/internal/event"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Output is the row form of one core.CoreOutput.
type Output struct {
	Command  CommandRow
	Events   []EventRow
	Journals []JournalRow
}

// FromCoreOutput converts an applied command into the rows written in one
// flush.
func FromCoreOutput(out core.CoreOutput) (Output, error) {
	env := out.Envelope
	if env == nil {
		return Output{}, fmt.Errorf("core output without envelope")
	}

	records, err := event.EncodeAll(env.Events)
	if err != nil {
		return Output{}, err
	}
	eventsJSON, err := json.Marshal(records)
	if err != nil {
		return Output{}, fmt.Errorf("encode events of sequence %d: %w", env.Sequence, err)
	}

	var seriesID *string
	if env.SeriesID != nil {
		s := env.SeriesID.Hex()
		seriesID = &s
	}

	res := Output{
		Command: CommandRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType,
			IdempotencyKey: env.IdempotencyKey,
			SeriesID:       seriesID,
			Caller:         env.Caller.Hex(),
			Payload:        env.Payload,
			Events:         eventsJSON,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	for i, r := range records {
		var sid *string
		if s := env.Events[i].Series(); s != (common.Hash{}) {
			hex := s.Hex()
			sid = &hex
		}
		res.Events = append(res.Events, EventRow{
			Sequence:  env.Sequence,
			Index:     i,
			EventType: r.Type,
			SeriesID:  sid,
			Data:      r.Data,
			Timestamp: env.Timestamp,
		})
	}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			res.Journals = append(res.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.DebitAccount.Asset.Hex(),
				Amount:        j.Amount.Dec(),
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	return res, nil
}
