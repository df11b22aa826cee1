package dispatcher

import (
	"context"

	"github.com/garyjia/reimburse-flow/internal/domain/event"
)

// AnyFlow matches events of every flow type
const AnyFlow = ""

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	// FlowKey restricts the handler to one workflow type; AnyFlow matches all
	FlowKey     string
	Handler     Handler
	Description string
}

func (h HandlerInfo) matches(evt *event.Event) bool {
	return h.FlowKey == AnyFlow || h.FlowKey == evt.FlowKey
}
