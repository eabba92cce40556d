package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AstroBot/entity"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (s *recordingSender) Send(_ context.Context, ev entity.OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("platform unavailable")
	}
	s.sent = append(s.sent, ev.Text)
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func startBus(t *testing.T, opts Options) *Bus {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := New(opts, nil, discard())
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return b
}

func TestEmitBeforeStart(t *testing.T) {
	b := New(Options{}, nil, discard())
	require.ErrorIs(t, b.Emit(context.Background(), entity.OutboundEvent{}), ErrNotStarted)
}

func TestDeliversInOrderPerPlatform(t *testing.T) {
	b := startBus(t, Options{})
	wa := &recordingSender{}
	tg := &recordingSender{}
	b.Route("whatsapp", wa)
	b.Route("telegram", tg)

	var want []string
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("reply %d", i)
		want = append(want, text)
		require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", UserKey: "whatsapp:1", Text: text}))
	}
	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "telegram", UserKey: "telegram:2", Text: "hi"}))

	require.Equal(t, want, wa.texts())
	require.Equal(t, []string{"hi"}, tg.texts())
}

func TestRetriesFailedSend(t *testing.T) {
	b := startBus(t, Options{Attempts: 3, Backoff: time.Millisecond})
	s := &recordingSender{failures: 2}
	b.Route("whatsapp", s)

	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", Text: "eventually"}))
	require.Equal(t, []string{"eventually"}, s.texts())
}

func TestGivesUpAndContinues(t *testing.T) {
	b := startBus(t, Options{Attempts: 2, Backoff: time.Millisecond})
	s := &recordingSender{failures: 2}
	b.Route("whatsapp", s)

	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", Text: "lost"}))
	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", Text: "next"}))
	require.Equal(t, []string{"next"}, s.texts())
}

func TestUnknownPlatformDropped(t *testing.T) {
	b := startBus(t, Options{})
	s := &recordingSender{}
	b.Route("whatsapp", s)

	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "sms", Text: "x"}))
	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", Text: "y"}))
	require.Equal(t, []string{"y"}, s.texts())
}

// slowSender holds sends for one user until released.
type slowSender struct {
	slowUser string
	release  chan struct{}
	rec      recordingSender
}

func (s *slowSender) Send(ctx context.Context, ev entity.OutboundEvent) error {
	if ev.UserKey == s.slowUser {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.rec.Send(ctx, ev)
}

func TestSlowUserDoesNotBlockOthers(t *testing.T) {
	b := startBus(t, Options{})
	s := &slowSender{slowUser: "whatsapp:a", release: make(chan struct{})}
	b.Route("whatsapp", s)

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", UserKey: "whatsapp:a", Text: "for a"})
	}()

	start := time.Now()
	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", UserKey: "whatsapp:b", Text: "for b"}))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, []string{"for b"}, s.rec.texts())

	select {
	case <-slowDone:
		t.Fatal("emit for the slow user returned before its delivery")
	default:
	}

	close(s.release)
	require.NoError(t, <-slowDone)
	require.Equal(t, []string{"for b", "for a"}, s.rec.texts())
}

func TestSendTimeoutBoundsAttempts(t *testing.T) {
	b := startBus(t, Options{Attempts: 2, Backoff: time.Millisecond, SendTimeout: 20 * time.Millisecond})
	s := &slowSender{slowUser: "whatsapp:a", release: make(chan struct{})}
	b.Route("whatsapp", s)

	start := time.Now()
	require.NoError(t, b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", UserKey: "whatsapp:a", Text: "stuck"}))
	require.Less(t, time.Since(start), time.Second)
	require.Empty(t, s.rec.texts())
}

func TestEmitReturnsWhenClosed(t *testing.T) {
	b := New(Options{}, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	s := &slowSender{slowUser: "whatsapp:a", release: make(chan struct{})}
	b.Route("whatsapp", s)

	done := make(chan error, 1)
	go func() {
		done <- b.Emit(context.Background(), entity.OutboundEvent{Platform: "whatsapp", UserKey: "whatsapp:a", Text: "x"})
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())
	require.ErrorIs(t, <-done, ErrClosed)
}
