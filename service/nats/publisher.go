package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/comchain/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing record events to NATS.
type Publisher interface {
	// PublishRecord publishes a single record event to JetStream.
	// The event is published to the subject "ledger.{account}".
	PublishRecord(ctx context.Context, event *RecordEvent) error

	// PublishRecordBatch publishes multiple record events. A failing event
	// does not stop the rest of the batch.
	PublishRecordBatch(ctx context.Context, events []*RecordEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes record events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for ledger records.
	StreamName = "LEDGER"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "ledger.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow bounds JetStream message-id deduplication.
	DuplicateWindow = 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("comchain-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, streamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

func streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Ledger records stored by the sync workflow",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// PublishRecord publishes a single record event.
func (p *JetStreamPublisher) PublishRecord(ctx context.Context, event *RecordEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal record event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.MsgID()))
	if err != nil {
		p.metrics.RecordNATSPublish(StreamSubjects, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish record: %w", err)
	}
	status := "success"
	if ack.Duplicate {
		status = "duplicate"
	}
	p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())

	p.logger.DebugContext(ctx, "published record event",
		"subject", subject,
		"record_id", event.ID,
		"leg", event.Leg,
		"duplicate", ack.Duplicate,
	)

	return nil
}

// PublishRecordBatch publishes multiple record events.
func (p *JetStreamPublisher) PublishRecordBatch(ctx context.Context, events []*RecordEvent) error {
	if len(events) == 0 {
		return nil
	}

	failed := 0
	for _, event := range events {
		if err := p.PublishRecord(ctx, event); err != nil {
			failed++
			p.logger.ErrorContext(ctx, "failed to publish record in batch",
				"record_id", event.ID,
				"account", event.Account,
				"error", err,
			)
			continue
		}
	}

	p.logger.DebugContext(ctx, "published record batch",
		"count", len(events),
		"failed", failed,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
