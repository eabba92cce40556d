package chat

import (
	"context"
	"errors"
	"time"

	"AstroBot/bot/chat/flow"
	"AstroBot/entity"
	"AstroBot/internal/service/registry"
)

// ErrConcurrentModification is returned by Save when the stored version no
// longer matches the version the session was loaded with.
var ErrConcurrentModification = errors.New("session modified concurrently")

// SessionStore persists sessions with optimistic concurrency.
type SessionStore interface {
	// Load returns the stored session or a fresh one with version 0.
	Load(ctx context.Context, userKey string) (*Session, error)
	// Save writes s if the stored version equals s.Version and bumps it.
	Save(ctx context.Context, s *Session) error
	// ExpireStale resets sessions idle since before cutoff to the given step.
	ExpireStale(ctx context.Context, cutoff time.Time, flowID, stepID string) (int, error)
	Delete(ctx context.Context, userKey string) error
}

// Emitter delivers rendered replies to the transport layer.
type Emitter interface {
	Emit(ctx context.Context, ev entity.OutboundEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev entity.OutboundEvent) error

func (f EmitterFunc) Emit(ctx context.Context, ev entity.OutboundEvent) error {
	return f(ctx, ev)
}

// Resolver renders localized text.
type Resolver interface {
	Resolve(key, language string, params map[string]any) string
	Lookup(key, language string) (string, bool)
	DefaultLanguage() string
}

// Flows is the read side of the flow repository.
type Flows interface {
	DefaultFlow() string
	Root(flowID string) (*flow.Step, error)
	GetStep(flowID, stepID string) (*flow.Step, error)
	Target(flowID string, o *flow.Option) (string, *flow.Step, error)
}

// Services invokes registered domain services.
type Services interface {
	Get(id string) (registry.Service, error)
	Invoke(ctx context.Context, id string, input map[string]any) (registry.Result, error)
}

// Handler turns one inbound event into one outbound event.
type Handler interface {
	Handle(ctx context.Context, ev entity.InboundEvent) entity.OutboundEvent
}
