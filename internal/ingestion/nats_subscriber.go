package ingestion

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/core"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// CommandStream holds every inbound command subject.
const CommandStream = "OPTSETTLE_COMMANDS"

// MaxDeliver bounds redelivery of commands that keep failing with a
// retryable error.
const MaxDeliver = 5

// Submitter applies one command. *core.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd command.Command) (core.Result, error)
}

// NATSSubscriber feeds JetStream command messages into the core. It is the
// high-throughput ingress; gRPC is the admin one.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// SubjectConfig binds one command type to its durable consumer.
type SubjectConfig struct {
	Type         command.Type
	ConsumerName string
	StreamName   string
}

// Subjects returns the consumer filter: the bare subject and anything
// nested below it (optsettle.cmd.mint, optsettle.cmd.mint.<series>).
func (c SubjectConfig) Subjects() []string {
	s := Subject(c.Type)
	return []string{s, s + ".>"}
}

// DefaultSubjects returns one consumer per command type so a backlog of one
// type never blocks another.
func DefaultSubjects() []SubjectConfig {
	types := command.Types()
	out := make([]SubjectConfig, 0, len(types))
	for _, t := range types {
		out = append(out, SubjectConfig{
			Type:         t,
			ConsumerName: "optsettle-" + t.String(),
			StreamName:   CommandStream,
		})
	}
	return out
}

func NewNATSSubscriber(
	js jetstream.JetStream,
	submitter Submitter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:        cfg.ConsumerName,
			FilterSubjects: cfg.Subjects(),
			AckPolicy:      jetstream.AckExplicitPolicy,
			AckWait:        30 * time.Second,
			MaxDeliver:     MaxDeliver,
			DeliverPolicy:  jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", Subject(cfg.Type)).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	received := time.Now()

	cmd, err := ParseMessage(msg.Subject(), msg.Data())
	if err != nil {
		ns.count("invalid")
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed command")
		if termErr := msg.TermWithReason(domain.Code(err)); termErr != nil {
			ns.logger.Error().Err(termErr).Msg("term failed")
		}
		return
	}

	res, err := ns.submitter.Submit(ctx, cmd)
	disposition, outcome := Classify(res, err)
	ns.count(outcome)

	log := ns.logger.With().
		Str("command_type", cmd.CommandType().String()).
		Str("idempotency_key", cmd.IdempotencyKey()).
		Logger()

	var ackErr error
	switch disposition {
	case DispositionAck:
		if ns.metrics != nil {
			ns.metrics.IngestToApply.WithLabelValues(cmd.CommandType().String()).
				Observe(time.Since(received).Seconds())
		}
		ackErr = msg.Ack()
	case DispositionTerm:
		ackErr = msg.TermWithReason(domain.Code(err))
	case DispositionRetry:
		var delivered uint64 = 1
		if md, mdErr := msg.Metadata(); mdErr == nil {
			delivered = md.NumDelivered
		}
		if delivered >= MaxDeliver {
			log.Error().Err(err).Uint64("delivered", delivered).Msg("command failed on final delivery")
		}
		ackErr = msg.NakWithDelay(RetryDelay(delivered))
	}
	if ackErr != nil {
		log.Error().Err(ackErr).Msg("ack failed")
	}
}

func (ns *NATSSubscriber) count(outcome string) {
	if ns.metrics != nil {
		ns.metrics.IngestReceived.WithLabelValues("nats", outcome).Inc()
	}
}

// Disposition is what happens to an inbound message once the core has seen
// it.
type Disposition int

const (
	DispositionAck Disposition = iota
	DispositionTerm
	DispositionRetry
)

// Classify maps a submit outcome to a disposition and a metrics label.
// Applied and duplicate commands are acknowledged. Permanent domain errors
// terminate the message; anything else (a shortfall someone may fund, a
// cancelled context) is redelivered.
func Classify(res core.Result, err error) (Disposition, string) {
	switch {
	case err == nil && res.Duplicate:
		return DispositionAck, "duplicate"
	case err == nil:
		return DispositionAck, "applied"
	case domain.IsPermanent(err):
		return DispositionTerm, "rejected"
	default:
		return DispositionRetry, "retry"
	}
}

// RetryDelay doubles from one second per delivery, capped at 30s.
func RetryDelay(delivered uint64) time.Duration {
	const maxDelay = 30 * time.Second
	if delivered < 1 {
		delivered = 1
	}
	if delivered > 6 {
		return maxDelay
	}
	d := time.Second << (delivered - 1)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// EnsureStreams creates the inbound command stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h, with a two minute publish
// dedup window on Nats-Msg-Id.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:       CommandStream,
		Subjects:   []string{SubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("optionsettle"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
