// Package alerts delivers routing and escalation alert instructions over
// slack, email and signed webhooks. Delivery is best-effort: a failed send is
// logged and never propagates back into the pipeline.
package alerts

import (
	"context"

	"github.com/google/uuid"
)

// Notification is one rendered alert ready for delivery.
type Notification struct {
	TeamID  uuid.UUID
	LeadID  uuid.UUID
	Title   string
	Body    string
	Target  string
	Payload map[string]any
}

// Sender delivers a notification over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}
