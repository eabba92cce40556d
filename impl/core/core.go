package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"AstroBot/bot/chat"
	"AstroBot/bot/chat/flow"
	"AstroBot/entity"
	"AstroBot/internal/locale"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/service/registry"
)

var (
	ErrUnauthorized     = errors.New("invalid api key")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoTranscripts    = errors.New("transcript storage not configured")
	ErrNotConfigured    = errors.New("component not configured")
	ErrMissingResources = flow.ErrMissingResources
)

type Resources interface {
	Refresh(ctx context.Context) error
	Languages() []string
	DefaultLanguage() string
	CacheAge() time.Duration
	LastError() error
	MissingDefault(keys []string) []string
	Diagnostics() []locale.Diagnostic
}

type FlowCatalog interface {
	Reload(ctx context.Context, missing func(keys []string) []string) ([]string, error)
	Flows() []*flow.Flow
	LoadedAt() time.Time
	ResourceKeys() []string
}

type ServiceCatalog interface {
	Descriptors() []registry.Descriptor
	Degraded() []string
}

type HealthReporter interface {
	Status() entity.HealthStatus
}

type Transcripts interface {
	GetChatMessages(ctx context.Context, platform, userKey string, limit, offset int) ([]entity.ChatMessage, error)
	GetActiveChats(ctx context.Context) ([]entity.ChatSummary, error)
}

type Broadcaster interface {
	BroadcastSessionReset(userKey string)
}

// Core backs the admin HTTP API.
type Core struct {
	resources   Resources
	flows       FlowCatalog
	services    ServiceCatalog
	store       chat.SessionStore
	health      HealthReporter
	transcripts Transcripts
	hub         Broadcaster
	authKey     string
	log         *slog.Logger
}

func New(log *slog.Logger) *Core {
	return &Core{
		log: log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthKey(key string) {
	c.authKey = key
}

func (c *Core) SetResources(r Resources) {
	c.resources = r
}

func (c *Core) SetFlows(f FlowCatalog) {
	c.flows = f
}

func (c *Core) SetServices(s ServiceCatalog) {
	c.services = s
}

func (c *Core) SetSessionStore(store chat.SessionStore) {
	c.store = store
}

func (c *Core) SetHealth(h HealthReporter) {
	c.health = h
}

func (c *Core) SetTranscripts(t Transcripts) {
	c.transcripts = t
}

func (c *Core) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

// AuthenticateByToken accepts the configured API key; an empty key disables
// the admin API.
func (c *Core) AuthenticateByToken(token string) (string, error) {
	if c.authKey == "" || subtle.ConstantTimeCompare([]byte(c.authKey), []byte(token)) != 1 {
		return "", ErrUnauthorized
	}
	return "admin", nil
}

// ValidateToken lets the operator websocket share the admin key.
func (c *Core) ValidateToken(token string) (string, error) {
	return c.AuthenticateByToken(token)
}

func (c *Core) Health() entity.HealthStatus {
	if c.health == nil {
		return entity.HealthStatus{Status: entity.StatusUnhealthy, CheckedAt: time.Now()}
	}
	return c.health.Status()
}

func (c *Core) RefreshResources(ctx context.Context) error {
	if c.resources == nil {
		return ErrNotConfigured
	}
	if err := c.resources.Refresh(ctx); err != nil {
		c.log.Warn("resource refresh failed", sl.Err(err))
		return err
	}
	return nil
}

// ReloadFlows installs the flows found on disk. A rejected catalog leaves
// the previous one active, and so do keys the default bundle lacks: those
// are returned together with ErrMissingResources.
func (c *Core) ReloadFlows(ctx context.Context) ([]string, error) {
	if c.flows == nil {
		return nil, ErrNotConfigured
	}
	var gate func([]string) []string
	if c.resources != nil {
		gate = c.missingFor
	}
	missing, err := c.flows.Reload(ctx, gate)
	if errors.Is(err, ErrMissingResources) {
		c.log.Warn("flow reload rejected", slog.Any("keys", missing))
		return missing, err
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Core) missingKeys() []string {
	if c.resources == nil || c.flows == nil {
		return nil
	}
	return c.missingFor(c.flows.ResourceKeys())
}

// missingFor checks flow keys plus everything the engine and the services
// render against the default bundle.
func (c *Core) missingFor(flowKeys []string) []string {
	keys := append([]string(nil), flowKeys...)
	if c.services != nil {
		descriptors := c.services.Descriptors()
		keys = append(keys, chat.ResourceKeys(descriptors)...)
		for _, d := range descriptors {
			keys = append(keys, d.ResourceKeys()...)
		}
	}
	return c.resources.MissingDefault(keys)
}

func (c *Core) Diagnostics() entity.Diagnostics {
	d := entity.Diagnostics{
		Languages:          []string{},
		MissingDefaultKeys: []string{},
		Flows:              []string{},
		Services:           []string{},
		DegradedServiceIDs: []string{},
		Translations:       []entity.TranslationIssue{},
	}
	if c.resources != nil {
		d.Languages = append(d.Languages, c.resources.Languages()...)
		d.DefaultLanguage = c.resources.DefaultLanguage()
		d.BundleCacheAgeSeconds = c.resources.CacheAge().Seconds()
		if err := c.resources.LastError(); err != nil {
			d.BundleError = err.Error()
		}
		for _, issue := range c.resources.Diagnostics() {
			d.Translations = append(d.Translations, entity.TranslationIssue{
				Kind:     string(issue.Kind),
				Key:      issue.Key,
				Language: issue.Language,
				Param:    issue.Param,
				Count:    issue.Count,
				LastSeen: issue.LastSeen,
			})
		}
	}
	if c.flows != nil {
		for _, f := range c.flows.Flows() {
			d.Flows = append(d.Flows, f.ID)
		}
		d.FlowsLoadedAt = c.flows.LoadedAt()
	}
	if c.services != nil {
		for _, desc := range c.services.Descriptors() {
			d.Services = append(d.Services, desc.ID)
		}
		d.DegradedServiceIDs = append(d.DegradedServiceIDs, c.services.Degraded()...)
	}
	d.MissingDefaultKeys = append(d.MissingDefaultKeys, c.missingKeys()...)
	return d
}

// GetSession returns the stored session; unsaved sessions count as missing.
func (c *Core) GetSession(ctx context.Context, userKey string) (*chat.Session, error) {
	if c.store == nil {
		return nil, ErrNotConfigured
	}
	s, err := c.store.Load(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if s.Version == 0 {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ResetSession drops the session so the next message starts at the root of
// the default flow, and tells connected operators.
func (c *Core) ResetSession(ctx context.Context, userKey string) error {
	if c.store == nil {
		return ErrNotConfigured
	}
	if err := c.store.Delete(ctx, userKey); err != nil {
		return err
	}
	c.log.Info("session reset", sl.UserKey(userKey))
	if c.hub != nil {
		c.hub.BroadcastSessionReset(userKey)
	}
	return nil
}
