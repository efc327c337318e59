// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/javajoker/billing-backend/internal/config"
)

const (
	publishTimeout = 5 * time.Second

	TopicPurchaseCompleted = "purchase.completed"
	TopicPurchaseDeleted   = "purchase.deleted"
)

var ErrNotReady = errors.New("event publisher not ready")

// Publisher sends domain events. Publishing is best effort; callers log failures.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

type PurchaseCompleted struct {
	PurchaseID         uint      `json:"purchase_id"`
	CustomerIdentifier string    `json:"customer_identifier"`
	TotalAmount        float64   `json:"total_amount"`
	PaidAmount         float64   `json:"paid_amount"`
	Balance            float64   `json:"balance"`
	Items              int       `json:"items"`
	PurchasedAt        time.Time `json:"purchased_at"`
}

type PurchaseDeleted struct {
	PurchaseID uint `json:"purchase_id"`
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// RabbitPublisher publishes JSON messages to a durable exchange with publisher confirms.
type RabbitPublisher struct {
	cfg           config.RabbitMQConfig
	mu            sync.Mutex
	connection    *amqp.Connection
	channel       *amqp.Channel
	notifyConfirm chan amqp.Confirmation
	deliveryTag   uint64
}

// New returns a RabbitPublisher when a URL is configured, otherwise a NoopPublisher.
func New(cfg config.RabbitMQConfig) (Publisher, error) {
	if cfg.URL == "" {
		logrus.Info("RabbitMQ not configured, domain events disabled")
		return NoopPublisher{}, nil
	}

	p := &RabbitPublisher{cfg: cfg}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.cfg.Exchange,     // name
		p.cfg.ExchangeType, // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.connection = conn
	p.channel = ch
	p.notifyConfirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.deliveryTag = 0

	logrus.WithFields(logrus.Fields{
		"exchange": p.cfg.Exchange,
		"type":     p.cfg.ExchangeType,
	}).Info("RabbitMQ publisher ready")
	return nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// one in-flight message per channel so confirms line up
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.connection == nil || p.connection.IsClosed() {
		if err := p.connect(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	err = p.channel.Publish(
		p.cfg.Exchange, // exchange
		topic,          // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	p.deliveryTag++

	if err := awaitConfirm(ctx, p.notifyConfirm, p.deliveryTag, publishTimeout); err != nil {
		if !errors.Is(err, errNacked) {
			// a late confirm would be read by the next publish; start over on a fresh channel
			p.reset()
		}
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

var (
	errNacked        = errors.New("broker nacked message")
	errConfirmClosed = errors.New("channel closed before confirmation")
)

// awaitConfirm waits for the confirmation of tag, skipping stale ones.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return errConfirmClosed
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return errNacked
			}
			return nil
		case <-timer.C:
			return errors.New("publish confirmation timeout")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reset drops the channel and connection; the next Publish reconnects.
func (p *RabbitPublisher) reset() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		p.connection.Close()
	}
	p.channel = nil
	p.connection = nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		return p.connection.Close()
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Topic   string
	Payload interface{}
}

func (r *Recorder) Publish(_ context.Context, topic string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Topic: topic, Payload: payload})
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		topics = append(topics, e.Topic)
	}
	return topics
}
