// Package credentials holds the process-wide secrets calculators and
// transports need, loaded once at boot and refreshed out of band.
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"AstroBot/internal/lib/sl"
)

const (
	OpenAIKey           = "openai_api_key"
	WhatsAppAccessToken = "whatsapp_access_token"
	WhatsAppAppSecret   = "whatsapp_app_secret"
	TelegramApiKey      = "telegram_api_key"
)

var (
	ErrNotInitialized = errors.New("credentials: provider not initialized")
	ErrClosed         = errors.New("credentials: provider closed")
)

// Source fetches the full set of named secrets.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (map[string]string, error)
}

// Static serves fixed values, typically taken from the config file.
type Static map[string]string

func (s Static) Name() string {
	return "static"
}

func (s Static) Fetch(_ context.Context) (map[string]string, error) {
	values := make(map[string]string, len(s))
	for k, v := range s {
		if v != "" {
			values[k] = v
		}
	}
	return values, nil
}

type Provider struct {
	source    Source
	mu        sync.RWMutex
	values    map[string]string
	refreshed time.Time
	closed    bool
	log       *slog.Logger
}

func NewProvider(source Source, log *slog.Logger) *Provider {
	return &Provider{
		source: source,
		log:    log.With(sl.Module("credentials"), slog.String("source", source.Name())),
	}
}

// Init performs the first fetch; the process should not start without it.
func (p *Provider) Init(ctx context.Context) error {
	if err := p.load(ctx); err != nil {
		return err
	}
	p.log.Info("credentials loaded", slog.Int("count", p.Len()))
	return nil
}

// Refresh re-fetches all secrets. On failure the previous values stay.
func (p *Provider) Refresh(ctx context.Context) error {
	if err := p.load(ctx); err != nil {
		p.log.Warn("credentials refresh failed, keeping previous values", sl.Err(err))
		return err
	}
	p.log.Debug("credentials refreshed")
	return nil
}

func (p *Provider) load(ctx context.Context) error {
	values, err := p.source.Fetch(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.values = values
	p.refreshed = time.Now()
	return nil
}

// Run refreshes on every tick until ctx is done.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Refresh(ctx)
		}
	}
}

// Get returns the current value of a named secret.
func (p *Provider) Get(name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}
	if p.values == nil {
		return "", ErrNotInitialized
	}
	return p.values[name], nil
}

// Value is Get without the error, for callers that treat absence as empty.
func (p *Provider) Value(name string) string {
	v, _ := p.Get(name)
	return v
}

func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

func (p *Provider) RefreshedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshed
}

// Close drops every secret from memory.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.values {
		p.values[k] = ""
	}
	p.values = nil
	p.closed = true
	return nil
}
