package ports

import (
	"context"

	"github.com/layer-3/siwe/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishRevocation(ctx context.Context, event core.RevocationEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishRevocation(context.Context, core.RevocationEvent) error { return nil }
