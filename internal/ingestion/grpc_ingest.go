package ingestion

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/observability"
	"context"
	"encoding/hex"
	"fmt"
)

// GRPCIngestService submits commands synchronously for the admin API and
// tooling. Unlike the NATS path the caller sees the outcome directly.
type GRPCIngestService struct {
	submitter Submitter
	metrics   *observability.Metrics
}

func NewGRPCIngestService(submitter Submitter, metrics *observability.Metrics) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter, metrics: metrics}
}

// SubmitResult is the synchronous outcome of an accepted command.
// Duplicates carry no sequence or events.
type SubmitResult struct {
	Sequence  int64          `json:"sequence,omitempty"`
	StateHash string         `json:"state_hash,omitempty"`
	Duplicate bool           `json:"duplicate"`
	Events    []event.Record `json:"events,omitempty"`
}

// Submit parses a JSON command of the named type and applies it.
func (s *GRPCIngestService) Submit(ctx context.Context, commandType string, payload []byte) (*SubmitResult, error) {
	t, err := command.ParseType(commandType)
	if err != nil {
		s.count("invalid")
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
	}
	cmd, err := ParseCommand(t, payload)
	if err != nil {
		s.count("invalid")
		return nil, err
	}
	return s.SubmitCommand(ctx, cmd)
}

// SubmitCommand applies an already-built command.
func (s *GRPCIngestService) SubmitCommand(ctx context.Context, cmd command.Command) (*SubmitResult, error) {
	res, err := s.submitter.Submit(ctx, cmd)
	_, outcome := Classify(res, err)
	s.count(outcome)
	if err != nil {
		return nil, err
	}

	out := &SubmitResult{Duplicate: res.Duplicate}
	if env := res.Envelope; env != nil {
		out.Sequence = env.Sequence
		out.StateHash = hex.EncodeToString(env.StateHash[:])
		records, err := event.EncodeAll(env.Events)
		if err != nil {
			return nil, fmt.Errorf("encode events: %w", err)
		}
		out.Events = records
	}
	return out, nil
}

func (s *GRPCIngestService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IngestReceived.WithLabelValues("grpc", outcome).Inc()
	}
}
