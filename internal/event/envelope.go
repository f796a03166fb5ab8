package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for settlement event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSeriesCreated
	EventTypeOwnershipTransferred
	EventTypeAssetDeposited
	EventTypeAssetWithdrawn
	EventTypeAllowanceSet
	EventTypePositionMinted
	EventTypePositionExercised
	EventTypePositionClosed
	EventTypePositionRedeemed
	EventTypeHolderSwept
	EventTypeSweepCompleted
	EventTypePositionTransferred
	EventTypeContractLocked
	EventTypeContractUnlocked
	EventTypeFeeClaimed
	EventTypeFeeAdjusted
)

// EventEnvelope wraps every applied command in the log together with the
// settlement events it produced.
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator ("mint", "sweep", ...)
	CommandType string

	// Series context (nil for asset-level commands)
	SeriesID *common.Hash

	Caller common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command, replayed on recovery
	Payload []byte

	Events []Event

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all settlement events implement
type Event interface {
	EventType() EventType

	// Series returns the series context (zero hash for asset-level events)
	Series() common.Hash
}

// Sink receives events as operations commit.
type Sink interface {
	Emit(Event)
}

// Collector buffers emitted events until drained. Not thread-safe.
type Collector struct {
	events []Event
}

func (c *Collector) Emit(e Event) {
	c.events = append(c.events, e)
}

// Drain returns the buffered events and resets the buffer.
func (c *Collector) Drain() []Event {
	out := c.events
	c.events = nil
	return out
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

func (et EventType) String() string {
	switch et {
	case EventTypeSeriesCreated:
		return "SeriesCreated"
	case EventTypeOwnershipTransferred:
		return "OwnershipTransferred"
	case EventTypeAssetDeposited:
		return "AssetDeposited"
	case EventTypeAssetWithdrawn:
		return "AssetWithdrawn"
	case EventTypeAllowanceSet:
		return "AllowanceSet"
	case EventTypePositionMinted:
		return "PositionMinted"
	case EventTypePositionExercised:
		return "PositionExercised"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionRedeemed:
		return "PositionRedeemed"
	case EventTypeHolderSwept:
		return "HolderSwept"
	case EventTypeSweepCompleted:
		return "SweepCompleted"
	case EventTypePositionTransferred:
		return "PositionTransferred"
	case EventTypeContractLocked:
		return "ContractLocked"
	case EventTypeContractUnlocked:
		return "ContractUnlocked"
	case EventTypeFeeClaimed:
		return "FeeClaimed"
	case EventTypeFeeAdjusted:
		return "FeeAdjusted"
	default:
		return "Unknown"
	}
}
