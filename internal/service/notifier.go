package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/slot-market/internal/queue"
)

// Notifier hands settlement outcomes to the delivery mechanism.
type Notifier interface {
	Notify(ctx context.Context, ev queue.NotificationEvent) error
}

// NotificationPublisher publishes events to the durable notification queue
// on RabbitMQ.  Each call dials its own connection so a broker outage only
// costs the notification, never the settlement that triggered it.
type NotificationPublisher struct {
	url string
}

// NewNotificationPublisher returns a publisher for the broker at url.
func NewNotificationPublisher(url string) *NotificationPublisher {
	return &NotificationPublisher{url: url}
}

// Notify publishes ev as a persistent JSON message.
func (p *NotificationPublisher) Notify(ctx context.Context, ev queue.NotificationEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue.NotificationQueue, // name
		true,                    // durable
		false,                   // autoDelete
		false,                   // exclusive
		false,                   // noWait
		nil,                     // args
	); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.Event + ":" + ev.OrderID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.NotificationQueue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// LogNotifier only logs events.  It stands in when no broker is configured.
type LogNotifier struct{}

// Notify logs ev at info level.
func (LogNotifier) Notify(_ context.Context, ev queue.NotificationEvent) error {
	slog.Info("notification",
		slog.String("event", ev.Event),
		slog.String("order_id", ev.OrderID),
		slog.String("recipient", ev.Recipient),
		slog.Int64("amount", ev.Amount),
		slog.Int("slots", len(ev.Slots)))
	return nil
}
