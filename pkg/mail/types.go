package mail

import (
	"context"
	"time"
)

// Attachment is one file extracted from an inbound message, saved to disk.
type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// RawMessage is an inbound message as the transport delivered it. ID is the
// transport's immutable message identifier and doubles as the dedup key;
// it must be stable across redelivery.
type RawMessage struct {
	ID          string       `json:"id"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Attachments []Attachment `json:"attachments"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// OutgoingMessage is a composed feedback or alert message.
type OutgoingMessage struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Exchanger is the mail transport capability the pipeline needs. FetchNew may
// return overlapping result sets across calls; callers deduplicate by
// RawMessage.ID. No ordering is guaranteed between calls.
type Exchanger interface {
	FetchNew(ctx context.Context) ([]RawMessage, error)
	Send(ctx context.Context, msg OutgoingMessage) error
	MarkProcessed(ctx context.Context, messageID string) error
}
