package ingestion

import (
	"OptionSettle/internal/core"
	"OptionSettle/internal/event"
	"OptionSettle/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// EventStream holds outbound settlement events.
	EventStream = "OPTSETTLE_EVENTS"

	// EventSubjectPrefix roots outbound subjects:
	// optsettle.events.<EventType>[.<series_id>].
	EventSubjectPrefix = "optsettle.events."
)

// OutboundPublisher publishes settlement events to NATS for downstream
// consumers. It is best effort: the command log is the source of truth and
// a failed publish is counted and logged, never retried.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishedEvent is the outbound message body.
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	EventType      string          `json:"event_type"`
	SeriesID       *string         `json:"series_id,omitempty"`
	Data           json.RawMessage `json:"data"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			msgs, err := OutboundMessages(out)
			if err != nil {
				op.logger.Error().Err(err).Msg("encode outbound events")
				continue
			}
			for _, m := range msgs {
				if err := op.publish(ctx, m); err != nil {
					if op.metrics != nil {
						op.metrics.PublishErrors.Inc()
					}
					op.logger.Warn().
						Err(err).
						Int64("sequence", m.Sequence).
						Str("event_type", m.EventType).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, m PublishedEvent) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The msg id makes a republish after restart a no-op inside the
	// stream's dedup window.
	_, err = op.js.Publish(ctx, EventSubject(m), data,
		jetstream.WithMsgID(fmt.Sprintf("%d-%d", m.Sequence, m.Index)))
	if err == nil && op.metrics != nil {
		op.metrics.EventsPublished.WithLabelValues(m.EventType).Inc()
	}
	return err
}

// EventSubject returns optsettle.events.<EventType>, suffixed with the
// series id for series-scoped events.
func EventSubject(m PublishedEvent) string {
	subject := EventSubjectPrefix + m.EventType
	if m.SeriesID != nil {
		subject += "." + *m.SeriesID
	}
	return subject
}

// OutboundMessages flattens one applied command into one message per event.
func OutboundMessages(out core.CoreOutput) ([]PublishedEvent, error) {
	env := out.Envelope
	if env == nil {
		return nil, nil
	}
	records, err := event.EncodeAll(env.Events)
	if err != nil {
		return nil, err
	}

	msgs := make([]PublishedEvent, 0, len(records))
	for i, r := range records {
		m := PublishedEvent{
			Sequence:       env.Sequence,
			Index:          i,
			CommandType:    env.CommandType,
			IdempotencyKey: env.IdempotencyKey,
			EventType:      r.Type,
			Data:           r.Data,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		}
		if s := env.Events[i].Series(); s != (common.Hash{}) {
			id := s.Hex()
			m.SeriesID = &id
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", EventStream).Msg("ensured outbound stream")
	return nil
}
