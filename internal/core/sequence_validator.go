package core

import (
	"OptionSettle/internal/domain"
	"fmt"
	"time"
)

// DefaultMaxClockSkew bounds how far ahead of the wall clock a live command
// may be stamped.
const DefaultMaxClockSkew = 30 * time.Second

// SequenceValidator orders commands by their versioned timestamp. Pools
// read expiry from the timestamp of the command being applied, so the
// command clock must never run backwards: an earlier stamp after a later
// one could move a series from Expired back to Active.
//
// Only applied commands advance the clock, and replay applies the same
// commands in the same order, so a rebuilt engine ends on the same last
// timestamp. The wall-clock bound applies to live commands only.
// Not thread-safe: only accessed from the single-threaded core.
type SequenceValidator struct {
	last    time.Time
	maxSkew time.Duration
	wall    func() time.Time
	metrics *SequenceMetrics
}

// NewSequenceValidator builds a validator. maxSkew <= 0 disables the
// wall-clock bound.
func NewSequenceValidator(maxSkew time.Duration, wall func() time.Time) *SequenceValidator {
	if wall == nil {
		wall = time.Now
	}
	return &SequenceValidator{
		maxSkew: maxSkew,
		wall:    wall,
		metrics: NewSequenceMetrics(),
	}
}

// ValidateTimestamp checks ts against the last applied command and, for
// live commands, against the wall clock. Equal timestamps are allowed.
func (sv *SequenceValidator) ValidateTimestamp(commandType string, ts time.Time, live bool) error {
	if ts.Before(sv.last) {
		sv.metrics.RecordOutOfOrder(commandType)
		return fmt.Errorf("%w: %s at %s, last applied at %s",
			domain.ErrStaleTimestamp, commandType, ts.UTC().Format(time.RFC3339Nano), sv.last.UTC().Format(time.RFC3339Nano))
	}
	if live && sv.maxSkew > 0 {
		limit := sv.wall().Add(sv.maxSkew)
		if ts.After(limit) {
			sv.metrics.RecordFuture(commandType)
			return fmt.Errorf("%w: %s at %s, limit %s",
				domain.ErrFutureTimestamp, commandType, ts.UTC().Format(time.RFC3339Nano), limit.UTC().Format(time.RFC3339Nano))
		}
	}
	return nil
}

// Advance records the timestamp of a committed command.
func (sv *SequenceValidator) Advance(ts time.Time) {
	if ts.After(sv.last) {
		sv.last = ts
	}
}

// LastTimestamp returns the timestamp of the last applied command, zero
// before the first.
func (sv *SequenceValidator) LastTimestamp() time.Time {
	return sv.last
}

func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics counts clock rejections per command type.
// Core goroutine only.
type SequenceMetrics struct {
	outOfOrder map[string]int64
	future     map[string]int64

	// observe mirrors each rejection into the exported metrics.
	observe func(commandType, kind string)
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		outOfOrder: make(map[string]int64),
		future:     make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordOutOfOrder(commandType string) {
	m.outOfOrder[commandType]++
	if m.observe != nil {
		m.observe(commandType, "out_of_order")
	}
}

func (m *SequenceMetrics) RecordFuture(commandType string) {
	m.future[commandType]++
	if m.observe != nil {
		m.observe(commandType, "future")
	}
}

func (m *SequenceMetrics) GetOutOfOrder(commandType string) int64 {
	return m.outOfOrder[commandType]
}

func (m *SequenceMetrics) GetFuture(commandType string) int64 {
	return m.future[commandType]
}
