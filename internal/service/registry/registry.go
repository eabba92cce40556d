package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"AstroBot/internal/lib/sl"
	"AstroBot/internal/metrics"
)

const (
	defaultTimeout      = 3 * time.Second
	defaultProbeTimeout = 500 * time.Millisecond
)

// Registry holds every service by id. It is append-only: once sealed no
// service can be added.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	order    []string
	sealed   bool

	degradedMu sync.RWMutex
	degraded   map[string]error

	validate     *validator.Validate
	timeout      time.Duration
	probeTimeout time.Duration
	metrics      *metrics.Metrics
	log          *slog.Logger
}

type Option func(*Registry)

func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func New(log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		services:     make(map[string]Service),
		degraded:     make(map[string]error),
		validate:     validator.New(),
		timeout:      defaultTimeout,
		probeTimeout: defaultProbeTimeout,
		log:          log.With(sl.Module("registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(s Service) error {
	d := s.Descriptor()
	if d.ID == "" {
		return errors.New("service id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: %s", ErrSealed, d.ID)
	}
	if _, ok := r.services[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateServiceID, d.ID)
	}
	r.services[d.ID] = s
	r.order = append(r.order, d.ID)

	r.log.Debug("service registered", slog.String("service_id", d.ID))
	return nil
}

// MustRegister panics on error; for boot wiring only.
func (r *Registry) MustRegister(services ...Service) {
	for _, s := range services {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Seal blocks further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	r.log.Info("registry sealed", slog.Int("services", r.Len()))
}

func (r *Registry) Get(id string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	return s, nil
}

func (r *Registry) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id].Descriptor())
	}
	return out
}

// Invoke validates input against the service schema and runs it under a
// timeout. Errors are *ValidationError, *ExecutionError or ErrServiceNotFound.
func (r *Registry) Invoke(ctx context.Context, id string, input map[string]any) (Result, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	d := s.Descriptor()

	ctx, span := otel.Tracer("astrobot/registry").Start(ctx, "registry.Invoke",
		trace.WithAttributes(attribute.String("service.id", id)),
	)
	defer span.End()

	log := r.log.With(slog.String("service_id", id))

	in, err := validateInput(r.validate, d, input)
	if err != nil {
		span.SetStatus(codes.Error, "validation")
		r.metrics.ObserveInvocation(id, "invalid", 0)
		log.Debug("invalid input", sl.Err(err))
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := s.Execute(ctx, in)
		done <- outcome{res: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: ctx.Err()}
	}
	elapsed := time.Since(start)

	if o.err == nil {
		r.metrics.ObserveInvocation(id, "ok", elapsed)
		return o.res, nil
	}

	execErr := &ExecutionError{
		ServiceID: id,
		TimedOut:  errors.Is(o.err, context.DeadlineExceeded),
		Cause:     o.err,
	}
	var failure *Failure
	if errors.As(o.err, &failure) {
		execErr.ResourceKey = failure.ResourceKey
	}

	span.RecordError(o.err)
	span.SetStatus(codes.Error, "execution")
	result := "error"
	if execErr.TimedOut {
		result = "timeout"
	}
	r.metrics.ObserveInvocation(id, result, elapsed)
	log.Error("service execution failed",
		sl.Err(o.err),
		slog.Bool("timed_out", execErr.TimedOut),
		slog.Duration("elapsed", elapsed),
	)
	return nil, execErr
}

// ProbeAll probes every service concurrently and updates the degraded set.
// It returns the probe error per failing service.
func (r *Registry) ProbeAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	services := make(map[string]Service, len(r.services))
	for id, s := range r.services {
		services[id] = s
	}
	r.mu.RUnlock()

	type probeResult struct {
		id  string
		err error
	}
	results := make(chan probeResult, len(services))

	for id, s := range services {
		go func(id string, s Service) {
			pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()

			errc := make(chan error, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						errc <- fmt.Errorf("probe panic: %v", p)
					}
				}()
				errc <- s.Probe(pctx)
			}()

			var err error
			select {
			case err = <-errc:
			case <-pctx.Done():
				err = pctx.Err()
			}
			results <- probeResult{id: id, err: err}
		}(id, s)
	}

	failed := make(map[string]error)
	for range services {
		res := <-results
		if res.err != nil {
			failed[res.id] = res.err
		}
		r.metrics.SetDegraded(res.id, res.err != nil)
	}

	r.degradedMu.Lock()
	for id := range services {
		prev, was := r.degraded[id]
		err, now := failed[id]
		switch {
		case now && !was:
			r.log.Warn("service degraded", slog.String("service_id", id), sl.Err(err))
		case !now && was:
			r.log.Info("service recovered", slog.String("service_id", id), slog.String("previous", prev.Error()))
		}
	}
	r.degraded = failed
	r.degradedMu.Unlock()

	return failed
}

func (r *Registry) IsDegraded(id string) bool {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	_, ok := r.degraded[id]
	return ok
}

// Degraded returns the sorted ids of services whose last probe failed.
func (r *Registry) Degraded() []string {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	ids := make([]string, 0, len(r.degraded))
	for id := range r.degraded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
