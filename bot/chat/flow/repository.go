package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"AstroBot/internal/lib/jsoncodec"
	"AstroBot/internal/lib/sl"
)

// Loader returns raw flow definitions keyed by flow id.
type Loader interface {
	Load(ctx context.Context) ([]*Flow, error)
}

// DirLoader reads every *.json file in Dir as one flow.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(ctx context.Context) ([]*Flow, error) {
	files, err := filepath.Glob(filepath.Join(l.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	sort.Strings(files)

	flows := make([]*Flow, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading flow %s: %w", path, err)
		}
		var f Flow
		if err := jsoncodec.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing flow %s: %w", path, err)
		}
		if f.ID == "" {
			f.ID = filepath.Base(path[:len(path)-len(filepath.Ext(path))])
		}
		flows = append(flows, &f)
	}
	return flows, nil
}

// StaticLoader serves flows built in code.
type StaticLoader []*Flow

func (l StaticLoader) Load(_ context.Context) ([]*Flow, error) {
	return l, nil
}

type catalog struct {
	flows    map[string]*Flow
	loadedAt time.Time
}

// Repository holds the validated flow set. Reload swaps the whole set at once,
// so readers never see a partially loaded catalog.
type Repository struct {
	loader      Loader
	services    ServiceChecker
	defaultFlow string
	snap        atomic.Pointer[catalog]
	log         *slog.Logger
}

func NewRepository(loader Loader, services ServiceChecker, defaultFlow string, log *slog.Logger) *Repository {
	return &Repository{
		loader:      loader,
		services:    services,
		defaultFlow: defaultFlow,
		log:         log.With(sl.Module("flow")),
	}
}

// Load reads, validates and installs the flows. On any error the previously
// installed catalog stays active.
func (r *Repository) Load(ctx context.Context) error {
	c, err := r.build(ctx)
	if err != nil {
		return err
	}
	r.install(c)
	return nil
}

// Reload is Load gated on resources: missing receives the keys the new
// flows reference and returns those the bundles lack. When any are missing
// the previous catalog stays active and the keys are returned with
// ErrMissingResources.
func (r *Repository) Reload(ctx context.Context, missing func(keys []string) []string) ([]string, error) {
	c, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	if missing != nil {
		if keys := missing(c.resourceKeys()); len(keys) > 0 {
			r.log.Warn("flows reference undefined resources, keeping previous", slog.Any("keys", keys))
			return keys, ErrMissingResources
		}
	}
	r.install(c)
	return nil, nil
}

func (r *Repository) build(ctx context.Context) (*catalog, error) {
	flows, err := r.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	c, errs := compile(flows, r.services, r.defaultFlow)
	if len(errs) > 0 {
		for _, e := range errs {
			r.log.Error("flow invalid", sl.Err(e))
		}
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func (r *Repository) install(c *catalog) {
	r.snap.Store(c)
	r.log.Info("flows loaded", slog.Int("count", len(c.flows)))
}

// Check validates the loader's flows without installing them.
func (r *Repository) Check(ctx context.Context) []error {
	flows, err := r.loader.Load(ctx)
	if err != nil {
		return []error{err}
	}
	_, errs := compile(flows, r.services, r.defaultFlow)
	return errs
}

func compile(flows []*Flow, services ServiceChecker, defaultFlow string) (*catalog, []error) {
	var errs []error
	byID := make(map[string]*Flow, len(flows))
	for _, f := range flows {
		if _, dup := byID[f.ID]; dup {
			errs = append(errs, fmt.Errorf("flow %s: %w: duplicate flow id", f.ID, ErrInvalidStructure))
			continue
		}
		errs = append(errs, f.build()...)
		byID[f.ID] = f
	}
	errs = append(errs, Validate(byID, services, defaultFlow)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return &catalog{flows: byID, loadedAt: time.Now()}, nil
}

func (r *Repository) current() *catalog {
	c := r.snap.Load()
	if c == nil {
		return &catalog{}
	}
	return c
}

func (r *Repository) DefaultFlow() string {
	return r.defaultFlow
}

func (r *Repository) Flow(flowID string) (*Flow, error) {
	f, ok := r.current().flows[flowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	return f, nil
}

func (r *Repository) GetStep(flowID, stepID string) (*Step, error) {
	f, err := r.Flow(flowID)
	if err != nil {
		return nil, err
	}
	s, ok := f.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrStepNotFound, flowID, stepID)
	}
	return s, nil
}

func (r *Repository) Root(flowID string) (*Step, error) {
	f, err := r.Flow(flowID)
	if err != nil {
		return nil, err
	}
	return r.GetStep(flowID, f.RootStepID)
}

// Target resolves where a navigating option leads from flowID.
func (r *Repository) Target(flowID string, o *Option) (string, *Step, error) {
	if o.NextFlowID != "" {
		flowID = o.NextFlowID
	}
	if o.NextStepID == "" {
		s, err := r.Root(flowID)
		return flowID, s, err
	}
	s, err := r.GetStep(flowID, o.NextStepID)
	return flowID, s, err
}

func (r *Repository) Flows() []*Flow {
	c := r.current()
	out := make([]*Flow, 0, len(c.flows))
	for _, f := range c.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repository) LoadedAt() time.Time {
	return r.current().loadedAt
}

// ResourceKeys lists every prompt, match, label and result key referenced by
// the installed flows.
func (r *Repository) ResourceKeys() []string {
	return r.current().resourceKeys()
}

func (c *catalog) resourceKeys() []string {
	set := make(map[string]struct{})
	add := func(k string) {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	for _, f := range c.flows {
		for i := range f.Steps {
			s := &f.Steps[i]
			add(s.PromptKey)
			for j := range s.Options {
				o := &s.Options[j]
				add(o.MatchKey())
				add(o.LabelKey)
				add(o.ResultKey)
			}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ServiceIDs lists the services the installed flows invoke.
func (r *Repository) ServiceIDs() []string {
	set := make(map[string]struct{})
	for _, f := range r.Flows() {
		for i := range f.Steps {
			for _, o := range f.Steps[i].Options {
				if o.ServiceID != "" {
					set[o.ServiceID] = struct{}{}
				}
			}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
