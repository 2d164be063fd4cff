package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

func connectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("service-reminder"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes events on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := connectNATS(url)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	if !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NATSSubscriber consumes events from a NATS subject.
type NATSSubscriber struct {
	nc      *nats.Conn
	subject string
}

func NewNATSSubscriber(url, subject string) (*NATSSubscriber, error) {
	nc, err := connectNATS(url)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{nc: nc, subject: subject}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, fn func(Event)) error {
	sub, err := s.nc.Subscribe(s.subject, func(m *nats.Msg) {
		e, err := Unmarshal(m.Data)
		if err != nil {
			return
		}
		fn(e)
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", s.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (s *NATSSubscriber) Close() error {
	s.nc.Close()
	return nil
}
