package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AstroBot/entity"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/metrics"
)

// Dispatcher runs the engine for many users at once while keeping every
// user's events strictly ordered.
type Dispatcher struct {
	handler        Handler
	emitter        Emitter
	locks          *KeyedLock
	sem            chan struct{}
	dropSuperseded bool
	listener       MessageListener
	wg             sync.WaitGroup
	metrics        *metrics.Metrics
	log            *slog.Logger
}

type DispatcherOptions struct {
	Workers        int
	DropSuperseded bool
}

func NewDispatcher(handler Handler, emitter Emitter, opts DispatcherOptions, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 64
	}
	return &Dispatcher{
		handler:        handler,
		emitter:        emitter,
		locks:          NewKeyedLock(),
		sem:            make(chan struct{}, opts.Workers),
		dropSuperseded: opts.DropSuperseded,
		metrics:        m,
		log:            log.With(sl.Module("dispatcher")),
	}
}

// SetListener attaches a transcript listener. Call before the first Submit.
func (d *Dispatcher) SetListener(listener MessageListener) {
	d.listener = listener
}

// Submit queues ev for processing and returns immediately. The user's place
// in line is taken before Submit returns, so calling Submit in arrival order
// is enough to get replies in arrival order.
func (d *Dispatcher) Submit(ctx context.Context, ev entity.InboundEvent) {
	ticket := d.locks.ReserveMessage(ev.UserKey, ev.MessageID, ev.Timestamp)
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticket.Wait()
		defer ticket.Release()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if d.dropSuperseded && ticket.Superseded() {
			d.log.Debug("superseded message dropped",
				sl.UserKey(ev.UserKey),
				slog.String("message_id", ev.MessageID),
			)
			d.metrics.ObserveEvent(OutcomeSuperseded, 0)
			return
		}

		d.process(ctx, ev)
	}()
}

func (d *Dispatcher) process(ctx context.Context, ev entity.InboundEvent) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("dispatch panic", sl.UserKey(ev.UserKey), slog.Any("panic", p))
		}
	}()

	if d.listener != nil {
		d.listener.SaveAndBroadcastChatMessage(entity.InboundMessage(ev, time.Now()))
	}

	out := d.handler.Handle(ctx, ev)
	if err := d.emitter.Emit(ctx, out); err != nil {
		d.log.Error("emitting reply", sl.UserKey(ev.UserKey), slog.String("message_id", ev.MessageID), sl.Err(err))
		return
	}

	if d.listener != nil {
		d.listener.SaveAndBroadcastChatMessage(entity.OutboundMessage(out, time.Now()))
	}
}

// Wait blocks until all submitted events are processed or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeper resets idle sessions in the background so the store does not
// accumulate stale mid-flow state.
type Sweeper struct {
	store    SessionStore
	flows    Flows
	timeout  time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewSweeper(store SessionStore, flows Flows, timeout, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		flows:    flows,
		timeout:  timeout,
		interval: interval,
		metrics:  m,
		log:      log.With(sl.Module("sweeper")),
		now:      time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	if s.timeout <= 0 || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweeping sessions", sl.Err(err))
			}
		}
	}
}

// Sweep runs one expiry pass and returns the number of reset sessions.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	flowID := s.flows.DefaultFlow()
	root, err := s.flows.Root(flowID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.ExpireStale(ctx, s.now().Add(-s.timeout), flowID, root.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.SessionsExpired(n)
		s.log.Debug("sessions expired", slog.Int("count", n))
	}
	return n, nil
}
