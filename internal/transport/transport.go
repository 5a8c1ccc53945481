// Package transport sends a single email through an external provider.
// The queue service treats it as opaque: one call, success or failure.
package transport

import "context"

// Message is one outbound email.
type Message struct {
	To        string
	Subject   string
	HTML      string
	Text      string
	FromEmail string
	FromName  string

	// QueueID is the queue record id, stamped into the Message-ID so a
	// duplicate send after a crash can be collapsed by the receiving side.
	QueueID string
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	MessageID string
}

// Sender delivers a message, bounded by ctx. A returned error counts as a
// failed delivery attempt; it never implies the message was not partially
// delivered (duplicate sends on retry are an accepted weak point).
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}
