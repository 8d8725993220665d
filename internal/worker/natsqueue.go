package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS-backed Queue implementation.
type NATSConfig struct {
	URL            string        `json:"url" yaml:"url"`
	CredsFile      string        `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
}

// DefaultNATSConfig returns sane connection defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
	}
}

// Connect dials NATS once, shared across every queue built for one process
// (each queue subscribes on its own subject over the same connection).
func Connect(cfg NATSConfig, clientName string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("worker: nats connect: %w", err)
	}
	return conn, nil
}

// natsQueue implements Queue[T] over one NATS subject: Post publishes a JSON
// envelope, and a single subscription feeds every posted message into an
// internal buffered channel for Receive to drain. This gives the same
// multi-producer-single-consumer shape as chanQueue but lets producer and
// consumer live in different processes, for the multi-process deployment
// the worker coordinator optionally supports. Unlike chanQueue, Post never
// blocks at capacity: once the local buffer is full, further deliveries are
// dropped.
type natsQueue[T any] struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	local   chan T
}

// NewNATSQueue subscribes on subject and returns a Queue[T] backed by it.
// capacity bounds the local delivery channel the subscription feeds.
func NewNATSQueue[T any](conn *nats.Conn, subject string, capacity int) (Queue[T], error) {
	q := &natsQueue[T]{conn: conn, subject: subject, local: make(chan T, capacity)}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var payload T
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		select {
		case q.local <- payload:
		default:
			// Local buffer full; drop rather than block the NATS
			// delivery goroutine indefinitely.
		}
	})
	if err != nil {
		return nil, fmt.Errorf("worker: subscribe %s: %w", subject, err)
	}
	q.sub = sub
	return q, nil
}

func (q *natsQueue[T]) Post(ctx context.Context, msg T) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.conn.Publish(q.subject, data)
}

func (q *natsQueue[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	select {
	case msg, ok := <-q.local:
		return msg, ok
	case <-ctx.Done():
		return zero, false
	}
}

func (q *natsQueue[T]) TryReceive() (T, bool) {
	var zero T
	select {
	case msg, ok := <-q.local:
		if !ok {
			return zero, false
		}
		return msg, true
	default:
		return zero, false
	}
}

func (q *natsQueue[T]) Close() {
	if q.sub != nil {
		q.sub.Unsubscribe()
	}
	close(q.local)
}
