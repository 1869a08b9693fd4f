package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// natsMsg adapts a JetStream message to the Message interface.
type natsMsg struct {
	m *nats.Msg
}

func (n natsMsg) Data() []byte { return n.m.Data }
func (n natsMsg) Ack() error   { return n.m.Ack() }
func (n natsMsg) Nak() error   { return n.m.Nak() }

// NATSSource subscribes to a JetStream subject with a durable consumer and
// explicit per-message acks. Nacked messages are redelivered by the server
// after the ack wait.
type NATSSource struct {
	js      nats.JetStreamContext
	subject string
	durable string
	ackWait time.Duration
}

// NewNATSSource creates a source for one subject.
func NewNATSSource(js nats.JetStreamContext, subject, durable string) *NATSSource {
	return &NATSSource{
		js:      js,
		subject: subject,
		durable: durable,
		ackWait: 30 * time.Second,
	}
}

// Subscribe starts delivery. The returned stop function drains the
// subscription and blocks until every in-flight handler call has returned,
// so the caller's final flush cannot race messages still being processed.
func (s *NATSSource) Subscribe(h func(Message)) (func() error, error) {
	var inflight sync.WaitGroup
	sub, err := s.js.Subscribe(s.subject, func(m *nats.Msg) {
		inflight.Add(1)
		defer inflight.Done()
		h(natsMsg{m})
	}, nats.Durable(s.durable), nats.ManualAck(), nats.AckWait(s.ackWait))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	return func() error {
		return drainAndWait(sub, &inflight, s.ackWait)
	}, nil
}

// drainable is the slice of nats.Subscription the shutdown path needs.
type drainable interface {
	Drain() error
	IsValid() bool
}

// drainAndWait initiates the drain, waits for the subscription to finish
// delivering (Drain itself returns immediately), then waits for in-flight
// handler calls to return. The poll deadline bounds a server that never
// completes the drain.
func drainAndWait(sub drainable, inflight *sync.WaitGroup, deadline time.Duration) error {
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	limit := time.Now().Add(deadline)
	for sub.IsValid() && time.Now().Before(limit) {
		time.Sleep(10 * time.Millisecond)
	}
	inflight.Wait()
	return nil
}

// EnsureStream creates the stream if it does not already exist.
func EnsureStream(js nats.JetStreamContext, name string, subjects []string) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}
