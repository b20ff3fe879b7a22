package scheduler

import (
	"fmt"
	"sort"
	"strings"

	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	"go.uber.org/fx"
)

// Registry routes relay events to handlers by event type.
type Registry struct {
	handlers map[string]eventdomain.Handler
}

func NewRegistry(handlers ...eventdomain.Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]eventdomain.Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		eventType := strings.TrimSpace(h.EventType())
		if eventType == "" {
			return nil, fmt.Errorf("outbox handler %T has no event type", h)
		}
		if _, exists := r.handlers[eventType]; exists {
			return nil, fmt.Errorf("duplicate outbox handler for %q", eventType)
		}
		r.handlers[eventType] = h
	}
	return r, nil
}

func (r *Registry) Lookup(eventType string) (eventdomain.Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

type registryParams struct {
	fx.In

	Handlers []eventdomain.Handler `group:"outbox_handlers"`
}

func provideRegistry(p registryParams) (*Registry, error) {
	return NewRegistry(p.Handlers...)
}

// AsHandler annotates a constructor so its result joins the outbox handler group.
func AsHandler(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(eventdomain.Handler)),
		fx.ResultTags(`group:"outbox_handlers"`),
	)
}
