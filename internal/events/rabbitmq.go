package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange          = "ledger_events"
	KeyCreated        = "transaction.created"
	KeyCompleted      = "transaction.completed"
	QueueSettlement   = "settlement_queue"
	QueueNotification = "notification_queue"
)

var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// Channel is the publishing side of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Topology is the declaring side of *amqp.Channel.
type Topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// DeclareTopology declares the exchange and both durable queues. It is
// idempotent and safe to run from every process on startup.
func DeclareTopology(ch Topology) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	bindings := []struct{ queue, key string }{
		{QueueSettlement, KeyCreated},
		{QueueNotification, KeyCompleted},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}
	// One unacked message per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	return nil
}

// RabbitPublisher publishes ledger events as persistent JSON messages.
// It serves as both the SettlementQueue and the CompletionPublisher.
type RabbitPublisher struct {
	ch Channel
}

func NewRabbitPublisher(ch Channel) *RabbitPublisher { return &RabbitPublisher{ch: ch} }

func (p *RabbitPublisher) EnqueueSettlement(ctx context.Context, evt models.TransactionCreated) error {
	return p.publish(ctx, KeyCreated, evt.TransactionID, evt)
}

func (p *RabbitPublisher) PublishCompleted(ctx context.Context, evt models.TransactionCompleted) error {
	return p.publish(ctx, KeyCompleted, evt.TransactionID, evt)
}

func (p *RabbitPublisher) publish(ctx context.Context, key, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery)
}

// Consume feeds deliveries to h one at a time until ctx is done or the
// broker closes the channel.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			h.Handle(ctx, d)
		}
	}
}

// SettlementConsumer settles transaction.created deliveries.
type SettlementConsumer struct {
	settler Settler
	policy  worker.RetryPolicy
	log     *slog.Logger
}

func NewSettlementConsumer(settler Settler, policy worker.RetryPolicy, log *slog.Logger) *SettlementConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &SettlementConsumer{settler: settler, policy: policy, log: log}
}

// Handle acks once the outcome is final, including exhausted retries; the
// transaction then stays PENDING for reconciliation. A shutdown mid-retry
// requeues the message.
func (c *SettlementConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	var evt models.TransactionCreated
	if err := json.Unmarshal(d.Body, &evt); err != nil || evt.TransactionID == "" {
		c.log.Error("malformed settlement message", "message_id", d.MessageId, "err", err)
		if err := d.Nack(false, false); err != nil {
			c.log.Error("nack", "err", err)
		}
		return
	}
	if d.Redelivered {
		c.log.Info("settlement redelivered", "tx_id", evt.TransactionID)
	}

	_, err := settleWithRetry(ctx, c.settler, c.policy, c.log, evt.TransactionID)
	if err != nil && ctx.Err() != nil {
		if err := d.Nack(false, true); err != nil {
			c.log.Error("nack", "err", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.Error("ack", "tx_id", evt.TransactionID, "err", err)
	}
}

// NotificationConsumer hands transaction.completed deliveries to a Notifier.
// Notification is best-effort, so failures are logged and acked.
type NotificationConsumer struct {
	notifier Notifier
	log      *slog.Logger
	timeout  time.Duration
}

func NewNotificationConsumer(notifier Notifier, log *slog.Logger) *NotificationConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationConsumer{notifier: notifier, log: log, timeout: defaultNotifyTimeout}
}

func (c *NotificationConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	var evt models.TransactionCompleted
	if err := json.Unmarshal(d.Body, &evt); err != nil || evt.TransactionID == "" {
		c.log.Error("malformed completion message", "message_id", d.MessageId, "err", err)
		if err := d.Nack(false, false); err != nil {
			c.log.Error("nack", "err", err)
		}
		return
	}
	nctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.notifier.Notify(nctx, evt); err != nil {
		c.log.Warn("notification failed", "tx_id", evt.TransactionID, "err", err)
	}
	if err := d.Ack(false); err != nil {
		c.log.Error("ack", "tx_id", evt.TransactionID, "err", err)
	}
}
