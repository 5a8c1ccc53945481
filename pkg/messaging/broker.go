package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels carrying mail subsystem activity events. Publication is
// best-effort: the admin panel listens for visibility, nothing downstream
// depends on delivery.
const (
	ChannelMailSent      = "mail.sent"
	ChannelMailFailed    = "mail.failed"
	ChannelMailExhausted = "mail.exhausted"
	ChannelCodeIssued    = "verification.issued"
	ChannelCodeVerified  = "verification.verified"
)

// NoopBroker discards everything. Used when no broker is configured and in
// tests.
type NoopBroker struct{}

func (NoopBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (NoopBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (NoopBroker) Close() error { return nil }
