// Package bus carries rendered replies from the dispatch engine to the
// platform senders over a watermill pub/sub.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"AstroBot/entity"
	"AstroBot/internal/lib/ids"
	"AstroBot/internal/lib/jsoncodec"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/metrics"
)

const (
	TopicOutbound = "outbound"

	metaPlatform = "platform"
	metaUserKey  = "user_key"
)

var (
	ErrNotStarted = errors.New("bus is not started")
	ErrNoSender   = errors.New("no sender for platform")
	ErrClosed     = errors.New("bus is closed")
)

// Sender delivers a reply to one messaging platform.
type Sender interface {
	Send(ctx context.Context, ev entity.OutboundEvent) error
}

type Options struct {
	Attempts int
	Backoff  time.Duration
	// SendTimeout bounds every single Send attempt.
	SendTimeout time.Duration
}

// Bus publishes OutboundEvents and delivers each one on its own goroutine.
// Emit returns once its event was delivered or given up on, so a caller
// holding a per-user lock gets that user's replies in order while other
// users' deliveries run in parallel.
type Bus struct {
	pubSub      *gochannel.GoChannel
	mu          sync.RWMutex
	senders     map[string]Sender
	started     bool
	pending     sync.Map // message uuid -> chan struct{}
	closing     chan struct{}
	closeOnce   sync.Once
	attempts    int
	backoff     time.Duration
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(opts Options, m *metrics.Metrics, log *slog.Logger) *Bus {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	log = log.With(sl.Module("bus"))
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NewSlogLogger(log)),
		senders:     make(map[string]Sender),
		closing:     make(chan struct{}),
		attempts:    opts.Attempts,
		backoff:     opts.Backoff,
		sendTimeout: opts.SendTimeout,
		metrics:     m,
		log:         log,
	}
}

// Route registers the sender for a platform.
func (b *Bus) Route(platform string, s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders[platform] = s
}

func (b *Bus) sender(platform string) (Sender, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.senders[platform]
	return s, ok
}

// Start subscribes before returning so no published event is lost, then
// delivers in the background until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicOutbound)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", TopicOutbound, err)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	go func() {
		for msg := range messages {
			go func(msg *message.Message) {
				b.deliver(ctx, msg)
				msg.Ack()
				b.done(msg.UUID)
			}(msg)
		}
	}()
	return nil
}

func (b *Bus) done(id string) {
	if ch, ok := b.pending.LoadAndDelete(id); ok {
		close(ch.(chan struct{}))
	}
}

// Emit publishes ev and waits until it was delivered or dropped. It
// implements chat.Emitter.
func (b *Bus) Emit(ctx context.Context, ev entity.OutboundEvent) error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	payload, err := jsoncodec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding outbound event: %w", err)
	}
	msg := message.NewMessage(ids.ULID(), payload)
	msg.Metadata.Set(metaPlatform, ev.Platform)
	msg.Metadata.Set(metaUserKey, ev.UserKey)

	delivered := make(chan struct{})
	b.pending.Store(msg.UUID, delivered)
	if err := b.pubSub.Publish(TopicOutbound, msg); err != nil {
		b.pending.Delete(msg.UUID)
		return fmt.Errorf("publishing outbound event: %w", err)
	}

	select {
	case <-delivered:
		return nil
	case <-b.closing:
		b.pending.Delete(msg.UUID)
		return ErrClosed
	case <-ctx.Done():
		b.pending.Delete(msg.UUID)
		return fmt.Errorf("waiting for delivery: %w", ctx.Err())
	}
}

// deliver never nacks: a reply that cannot be sent after the configured
// attempts is logged and dropped, which releases its Emit.
func (b *Bus) deliver(ctx context.Context, msg *message.Message) {
	platform := msg.Metadata.Get(metaPlatform)
	log := b.log.With(
		slog.String("platform", platform),
		sl.UserKey(msg.Metadata.Get(metaUserKey)),
		slog.String("bus_id", msg.UUID),
	)

	var ev entity.OutboundEvent
	if err := jsoncodec.Unmarshal(msg.Payload, &ev); err != nil {
		log.Error("decoding outbound event", sl.Err(err))
		b.metrics.Delivery(platform, "invalid")
		return
	}

	s, ok := b.sender(platform)
	if !ok {
		log.Warn("outbound event dropped", sl.Err(ErrNoSender))
		b.metrics.Delivery(platform, "no_sender")
		return
	}

	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if err = b.send(ctx, s, ev); err == nil {
			b.metrics.Delivery(platform, "ok")
			return
		}
		log.Warn("send failed", slog.Int("attempt", attempt), sl.Err(err))
		if attempt < b.attempts {
			select {
			case <-ctx.Done():
				b.metrics.Delivery(platform, "error")
				return
			case <-time.After(b.backoff * time.Duration(attempt)):
			}
		}
	}
	log.Error("reply not delivered", slog.String("in_reply_to", ev.InReplyTo), sl.Err(err))
	b.metrics.Delivery(platform, "error")
}

func (b *Bus) send(ctx context.Context, s Sender, ev entity.OutboundEvent) error {
	ctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	return s.Send(ctx, ev)
}

func (b *Bus) Close() error {
	b.closeOnce.Do(func() { close(b.closing) })
	return b.pubSub.Close()
}
