package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State describes the subscription's connection lifecycle, surfaced to
// the session so viewers can display it.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	}
	return "UNKNOWN"
}

// Hooks are the callbacks a session wires into the feed client.  Event
// and Reseed are invoked from the client's run goroutine, one at a
// time, so the receiver needs no locking of its own.
type Hooks struct {
	// Event delivers one decoded change event.  Events for the same
	// row arrive in commit order.
	Event func(Event)
	// Reseed is invoked after every successful (re)connect, before any
	// event is delivered.  Events missed while the subscription was
	// down cannot be recovered from the broker, so the session must
	// re-read its snapshot here.
	Reseed func(context.Context) error
	// State reports connection-state transitions.  Optional.
	State func(State)
}

// Client maintains a long-lived subscription to the slots.changes
// exchange on its own exclusive queue.  It reconnects with capped
// exponential backoff and never stops on broker errors; Run only
// returns when the context is cancelled.
type Client struct {
	url   string
	hooks Hooks
}

// NewClient returns a feed client for the given broker URL.  hooks.Event
// and hooks.Reseed must be non-nil.
func NewClient(url string, hooks Hooks) *Client {
	if hooks.Event == nil || hooks.Reseed == nil {
		panic("feed: Event and Reseed hooks are required")
	}
	return &Client{url: url, hooks: hooks}
}

func (c *Client) setState(s State) {
	if c.hooks.State != nil {
		c.hooks.State(s)
	}
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// nextBackoff doubles d, clamped to maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Run drives the connect/consume/reconnect loop until ctx is
// cancelled.  Each iteration dials the broker, binds a fresh exclusive
// queue to the fanout exchange, re-seeds the session, and then applies
// deliveries until the connection breaks.  The retry delay doubles
// from one second up to thirty on every failure, whether the dial or
// the consume loop broke, and resets only once a subscription was
// actually open.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		c.setState(StateConnecting)
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.setState(StateErrored)
			log.Printf("feed-client: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				c.setState(StateClosed)
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		opened, err := c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}
		if opened {
			backoff = initialBackoff
		}
		c.setState(StateErrored)
		log.Printf("feed-client: consume loop ended: %v; retrying in %s", err, backoff)
		if !sleep(ctx, backoff) {
			c.setState(StateClosed)
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

// consumeLoop reports whether the subscription reached the open state
// before the returned error; a loop that fails before opening (a broken
// channel, a failing reseed) keeps the caller's backoff growing.
func (c *Client) consumeLoop(ctx context.Context, conn *amqp.Connection) (opened bool, err error) {
	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return false, fmt.Errorf("exchange declare: %w", err)
	}
	// Broker-named exclusive queue: each session sees the full stream
	// and the queue disappears with the connection.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return false, fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ExchangeName, false, nil); err != nil {
		return false, fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("queue consume: %w", err)
	}

	// The queue is bound before the snapshot read, so events committed
	// while the snapshot runs queue up behind it instead of being
	// lost; replaying one the snapshot already contains is harmless
	// because projection application is an upsert.
	if err := c.hooks.Reseed(ctx); err != nil {
		return false, fmt.Errorf("reseed: %w", err)
	}
	c.setState(StateOpen)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return true, errors.New("deliveries channel closed")
			}
			if !c.handleDelivery(d.Body) {
				_ = d.Nack(false, false) // reject, do not requeue
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handleDelivery decodes one raw delivery body and dispatches it
// through the Event hook.  A body that does not decode is discarded
// before any hook runs, so a malformed payload cannot disturb the
// projection; the caller rejects it on a false return.
func (c *Client) handleDelivery(body []byte) bool {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("feed-client: malformed event discarded: %v", err)
		return false
	}
	c.hooks.Event(ev)
	return true
}

// sleep waits for d or until ctx is cancelled; it reports false when
// the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
