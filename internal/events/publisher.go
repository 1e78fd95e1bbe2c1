// Package events publishes vault domain events to a message broker so
// downstream consumers (notifications, analytics) can react without querying
// the primary database. Publishing is best-effort: failures are logged and
// never interrupt the originating request.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/packvault/backend/internal/vault"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	queueScanAccepted     = "vault.scan.accepted"
	queueBoosterCompleted = "vault.booster.completed"
	publishTimeout        = 5 * time.Second
)

// ScanPublisher publishes scan events over AMQP. A publisher constructed
// with an empty URL is disabled and drops all events silently.
type ScanPublisher struct {
	url    string
	logger *zap.Logger
}

// NewScanPublisher constructs the publisher. An empty URL disables it.
func NewScanPublisher(url string, logger *zap.Logger) *ScanPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanPublisher{url: strings.TrimSpace(url), logger: logger}
}

// Enabled reports whether a broker URL is configured.
func (p *ScanPublisher) Enabled() bool {
	return p != nil && p.url != ""
}

// PublishScanEvent publishes the event to the scan queue and, when the scan
// sealed a booster, to the completion queue as well.
func (p *ScanPublisher) PublishScanEvent(event vault.ScanEvent) {
	if !p.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.publish(ctx, queueScanAccepted, event); err != nil {
		p.logger.Warn("scan event publish failed",
			zap.String("queue", queueScanAccepted),
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return
	}
	if event.BoosterCompleted {
		if err := p.publish(ctx, queueBoosterCompleted, event); err != nil {
			p.logger.Warn("scan event publish failed",
				zap.String("queue", queueBoosterCompleted),
				zap.String("user_id", event.UserID),
				zap.Error(err))
		}
	}
}

func (p *ScanPublisher) publish(ctx context.Context, queue string, event vault.ScanEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	channel, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	// Idempotent declare; durable so events survive broker restarts.
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Unix(event.OccurredAtSeconds, 0).UTC(),
		Body:         body,
	})
}
