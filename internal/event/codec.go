package event

import (
	"encoding/json"
	"fmt"
)

// Record is the storage and wire form of one settlement event.
type Record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps an event with its type name.
func Encode(e Event) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return Record{Type: e.EventType().String(), Data: data}, nil
}

// EncodeAll encodes events in order.
func EncodeAll(events []Event) ([]Record, error) {
	out := make([]Record, 0, len(events))
	for _, e := range events {
		r, err := Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Decode restores a typed event from its record.
func Decode(r Record) (Event, error) {
	e, err := newEvent(r.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Type, err)
	}
	return e, nil
}

func newEvent(name string) (Event, error) {
	switch name {
	case "SeriesCreated":
		return &SeriesCreated{}, nil
	case "OwnershipTransferred":
		return &OwnershipTransferred{}, nil
	case "AssetDeposited":
		return &AssetDeposited{}, nil
	case "AssetWithdrawn":
		return &AssetWithdrawn{}, nil
	case "AllowanceSet":
		return &AllowanceSet{}, nil
	case "PositionMinted":
		return &PositionMinted{}, nil
	case "PositionExercised":
		return &PositionExercised{}, nil
	case "PositionClosed":
		return &PositionClosed{}, nil
	case "PositionRedeemed":
		return &PositionRedeemed{}, nil
	case "HolderSwept":
		return &HolderSwept{}, nil
	case "SweepCompleted":
		return &SweepCompleted{}, nil
	case "PositionTransferred":
		return &PositionTransferred{}, nil
	case "ContractLocked":
		return &ContractLocked{}, nil
	case "ContractUnlocked":
		return &ContractUnlocked{}, nil
	case "FeeClaimed":
		return &FeeClaimed{}, nil
	case "FeeAdjusted":
		return &FeeAdjusted{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", name)
	}
}
