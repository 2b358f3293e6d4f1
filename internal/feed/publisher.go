package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the fanout exchange all slot change events flow
// through.  Every subscriber binds its own exclusive queue to it, so a
// single published event reaches every live session.
const ExchangeName = "slots.changes"

// Publisher owns one broker connection for the lifetime of the process
// and publishes slot change events on it.  It is created once at
// startup and closed on shutdown; it is not an ambient singleton so
// tests can construct and tear down their own instance.
// Publish never panics: broker failures are logged and returned so the
// caller can decide to ignore them without interrupting its own flow.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the given broker URL.  The
// connection is established lazily on first publish so that a slow or
// absent broker does not block process startup.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// Publish marshals the event and sends it to the fanout exchange as a
// persistent JSON message.  On channel failure it drops the cached
// connection and retries once with a fresh one.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("feed-publisher: marshal event failed: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.publish(ctx, pub); err == nil {
		return nil
	}
	// One reconnect attempt; the broker may have restarted under us.
	p.reset()
	if err := p.publish(ctx, pub); err != nil {
		log.Printf("feed-publisher: publish failed: %v", err)
		return err
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, pub amqp.Publishing) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		"",           // routing key ignored by fanout
		false,        // mandatory
		false,        // immediate
		pub,
	)
}

// channel returns the cached channel, dialing and declaring the
// exchange when needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable fanout exchange; declaration is idempotent and matches
	// the subscriber side.
	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.  Safe to call multiple times
// and on a Publisher that never connected.
func (p *Publisher) Close() {
	p.reset()
}
