// Package messaging provides a NATS client wrapper for the relay core's
// pub/sub channels. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the command, delivery, and
// operator channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the relay core and its gateway.
const (
	SubjectCommand  = "pairtalk.cmd"         // inbound commands from the gateway
	SubjectDeliver  = "pairtalk.deliver"     // + .<recipient_id>, request/reply
	SubjectMedia    = "pairtalk.media.fetch" // request/reply media handle resolution
	SubjectOpsCases = "pairtalk.ops.cases"   // operator channel notices
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "pairtalk",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data to the subject and waits for a reply.
func (c *NATSClient) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeCommands subscribes to the inbound command subject and passes the
// raw command data to the handler.
func (c *NATSClient) SubscribeCommands(handler func(data []byte)) error {
	return c.Subscribe(SubjectCommand, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishCommand publishes a raw command to the inbound command subject.
// Used by the gateway side and by integration tooling.
func (c *NATSClient) PublishCommand(data []byte) error {
	return c.Publish(SubjectCommand, data)
}

// RequestDelivery sends a delivery instruction to the recipient's delivery
// subject and waits for the gateway's result reply.
func (c *NATSClient) RequestDelivery(recipientID int64, data []byte, timeout time.Duration) ([]byte, error) {
	subject := fmt.Sprintf("%s.%d", SubjectDeliver, recipientID)
	return c.Request(subject, data, timeout)
}

// RequestMediaHandle asks the gateway to resolve an inbound media reference
// to an opaque handle.
func (c *NATSClient) RequestMediaHandle(data []byte, timeout time.Duration) ([]byte, error) {
	return c.Request(SubjectMedia, data, timeout)
}

// PublishOpsNotice publishes a case notice to the operator channel.
func (c *NATSClient) PublishOpsNotice(data []byte) error {
	return c.Publish(SubjectOpsCases, data)
}

// SubscribeOpsNotices subscribes to the operator channel. Used by the
// operator-side gateway.
func (c *NATSClient) SubscribeOpsNotices(handler func(data []byte)) error {
	return c.Subscribe(SubjectOpsCases, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
