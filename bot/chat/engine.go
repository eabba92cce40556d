package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"AstroBot/bot/chat/flow"
	"AstroBot/entity"
	"AstroBot/internal/lib/ids"
	"AstroBot/internal/lib/sl"
	"AstroBot/internal/metrics"
	"AstroBot/internal/service/registry"
)

// Resource keys the engine renders on its own.
const (
	KeyNotUnderstood = "errors.not_understood"
	KeyGeneric       = "errors.generic"
	KeyTransient     = "errors.transient"
	KeyValidation    = "errors.validation."
	KeyFieldPrefix   = "fields."
	KeyMenuFooter    = "menu.footer"
)

// ResourceKeys lists the keys the engine and the numbered menu may render
// for the given services: fixed error texts, the footer, one label per
// schema field and one message per validation rule.
func ResourceKeys(descriptors []registry.Descriptor) []string {
	keys := []string{KeyNotUnderstood, KeyGeneric, KeyTransient, KeyMenuFooter}
	seen := make(map[string]struct{})
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, d := range descriptors {
		for _, name := range sortedFields(d.Schema) {
			add(KeyFieldPrefix + name)
		}
		for _, rule := range d.Rules() {
			add(KeyValidation + rule)
		}
	}
	return keys
}

func sortedFields(schema registry.Schema) []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Outcomes reported to metrics.
const (
	OutcomeOK            = "ok"
	OutcomeDuplicate     = "duplicate"
	OutcomeNotUnderstood = "not_understood"
	OutcomeInvalid       = "invalid_input"
	OutcomeServiceError  = "service_error"
	OutcomeConflict      = "conflict"
	OutcomeStoreError    = "store_error"
	OutcomeSuperseded    = "superseded"
)

type Options struct {
	InactivityTimeout time.Duration
	DedupWindow       time.Duration
	DedupSize         int
	// Keywords return the user to the default flow's root from any step.
	Keywords []string
	// StoreTimeout bounds each session load and save.
	StoreTimeout time.Duration
}

func (o *Options) defaults() {
	if o.DedupWindow <= 0 {
		o.DedupWindow = 10 * time.Minute
	}
	if o.DedupSize <= 0 {
		o.DedupSize = 20
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
}

// Engine is the platform-agnostic dispatch state machine. Handle is not
// serialized by itself; callers hold the per-user lock (see Dispatcher).
type Engine struct {
	store    SessionStore
	flows    Flows
	services Services
	res      Resolver
	opts     Options
	keywords map[string]struct{}
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(store SessionStore, flows Flows, services Services, res Resolver, opts Options, m *metrics.Metrics, log *slog.Logger) *Engine {
	opts.defaults()
	kw := make(map[string]struct{}, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = Normalize(k); k != "" {
			kw[k] = struct{}{}
		}
	}
	return &Engine{
		store:    store,
		flows:    flows,
		services: services,
		res:      res,
		opts:     opts,
		keywords: kw,
		metrics:  m,
		log:      log.With(sl.Module("chat")),
		now:      time.Now,
	}
}

// Handle processes one inbound event. It never fails: every error becomes
// localized outbound text.
func (e *Engine) Handle(ctx context.Context, ev entity.InboundEvent) entity.OutboundEvent {
	start := time.Now()
	ctx, span := otel.Tracer("astrobot/chat").Start(ctx, "chat.Handle",
		trace.WithAttributes(
			attribute.String("user.key", ev.UserKey),
			attribute.String("message.id", ev.MessageID),
			attribute.String("platform", ev.Platform),
		),
	)
	defer span.End()

	out, outcome := e.handle(ctx, ev)
	out = e.stamp(out, ev)

	span.SetAttributes(attribute.String("outcome", outcome))
	if outcome == OutcomeStoreError || outcome == OutcomeConflict {
		span.SetStatus(codes.Error, outcome)
	}
	e.metrics.ObserveEvent(outcome, time.Since(start))
	return out
}

func (e *Engine) handle(ctx context.Context, ev entity.InboundEvent) (entity.OutboundEvent, string) {
	log := e.log.With(sl.UserKey(ev.UserKey), slog.String("message_id", ev.MessageID))

	for attempt := 0; ; attempt++ {
		s, err := e.load(ctx, ev.UserKey)
		if err != nil {
			log.Error("loading session", sl.Err(err))
			return e.transient(nil), OutcomeStoreError
		}

		now := e.now()
		if prev, ok := s.ReplyFor(ev.MessageID, now, e.opts.DedupWindow); ok {
			log.Debug("duplicate message replayed")
			return prev, OutcomeDuplicate
		}

		loaded := s.Clone()
		out, outcome := e.process(ctx, s, ev, now, log)

		s.Remember(ev.MessageID, e.stamp(out, ev), now, e.opts.DedupWindow, e.opts.DedupSize)
		s.LastActivityAt = now
		if ev.Platform != "" {
			s.Platform = ev.Platform
			s.ChatID = ev.ChatID
		}

		err = e.save(ctx, s)
		if err == nil {
			return out, outcome
		}
		if !errors.Is(err, ErrConcurrentModification) {
			log.Error("saving session", sl.Err(err))
			return e.transient(loaded), OutcomeStoreError
		}
		if attempt == 0 {
			e.metrics.Conflict("retried")
			log.Debug("session conflict, retrying")
			continue
		}
		e.metrics.Conflict("gave_up")
		log.Warn("session conflict persisted")
		return e.transient(loaded), OutcomeConflict
	}
}

// stamp fills the addressing fields so a replayed reply is identical.
func (e *Engine) stamp(out entity.OutboundEvent, ev entity.InboundEvent) entity.OutboundEvent {
	out.UserKey = ev.UserKey
	out.Platform = ev.Platform
	out.ChatID = ev.ChatID
	out.InReplyTo = ev.MessageID
	return out
}

func (e *Engine) load(ctx context.Context, userKey string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	return e.store.Load(ctx, userKey)
}

func (e *Engine) save(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	return e.store.Save(ctx, s)
}

// process applies the event to s and renders the reply.
func (e *Engine) process(ctx context.Context, s *Session, ev entity.InboundEvent, now time.Time, log *slog.Logger) (entity.OutboundEvent, string) {
	root, err := e.flows.Root(e.flows.DefaultFlow())
	if err != nil {
		log.Error("default flow unavailable", sl.Err(err))
		return e.transient(nil), OutcomeStoreError
	}

	greeting := false
	switch {
	case s.IsNew():
		s.Reset(e.flows.DefaultFlow(), root.ID)
		s.Language = e.res.DefaultLanguage()
		greeting = true
		log.Debug("session created")
	case e.opts.InactivityTimeout > 0 && now.Sub(s.LastActivityAt) > e.opts.InactivityTimeout:
		s.Reset(e.flows.DefaultFlow(), root.ID)
		greeting = true
		log.Debug("session expired", slog.Time("last_activity", s.LastActivityAt))
	}
	if s.ConversationID == "" {
		s.ConversationID = ids.ConversationID()
	}

	step, err := e.flows.GetStep(s.FlowID, s.StepID)
	if err != nil {
		log.Warn("unknown step, resetting to root", sl.Err(err))
		s.MoveTo(e.flows.DefaultFlow(), root.ID)
		step = root
		greeting = true
	}

	if ev.SelectedOptionID == "" {
		if _, ok := e.keywords[Normalize(ev.Text)]; ok {
			s.MoveTo(e.flows.DefaultFlow(), root.ID)
			return e.render(s, root), OutcomeOK
		}
	}

	// Any input on an option-less step re-renders the root. A terminal step
	// with options routes to the root and matches the input there.
	if step.Loops() {
		flowRoot, err := e.flows.Root(s.FlowID)
		if err != nil {
			flowRoot = root
			s.FlowID = e.flows.DefaultFlow()
		}
		s.StepID = flowRoot.ID
		if len(step.Options) == 0 {
			return e.render(s, flowRoot), OutcomeOK
		}
		step = flowRoot
		greeting = true
	}

	opt := e.match(step, ev, s.Language)
	if opt == nil {
		if step.Collect != nil && strings.TrimSpace(ev.Text) != "" {
			return e.collect(s, step, ev.Text, log)
		}
		if greeting {
			return e.render(s, step), OutcomeOK
		}
		return e.prefixed(KeyNotUnderstood, s, step), OutcomeNotUnderstood
	}

	if opt.Language != "" {
		s.Language = opt.Language
	}
	if opt.ServiceID != "" {
		return e.invoke(ctx, s, step, opt, log)
	}

	flowID, next, err := e.flows.Target(s.FlowID, opt)
	if err != nil {
		log.Error("option target missing", slog.String("option_id", opt.ID), sl.Err(err))
		return e.prefixed(KeyGeneric, s, step), OutcomeServiceError
	}
	s.MoveTo(flowID, next.ID)
	return e.render(s, next), OutcomeOK
}

func (e *Engine) collect(s *Session, step *flow.Step, text string, log *slog.Logger) (entity.OutboundEvent, string) {
	s.Set(step.Collect.Field, strings.TrimSpace(text))
	next, err := e.flows.GetStep(s.FlowID, step.Collect.NextStepID)
	if err != nil {
		log.Error("collect target missing", sl.Err(err))
		return e.prefixed(KeyGeneric, s, step), OutcomeServiceError
	}
	s.StepID = next.ID
	return e.render(s, next), OutcomeOK
}

func (e *Engine) invoke(ctx context.Context, s *Session, step *flow.Step, opt *flow.Option, log *slog.Logger) (entity.OutboundEvent, string) {
	log = log.With(slog.String("service_id", opt.ServiceID))

	res, err := e.services.Invoke(ctx, opt.ServiceID, s.Context)
	if err != nil {
		var ve *registry.ValidationError
		var ee *registry.ExecutionError
		switch {
		case errors.As(err, &ve):
			log.Debug("service input rejected", slog.Int("fields", len(ve.Fields)))
			return e.withStep(e.validationText(ve, s.Language), s, step), OutcomeInvalid
		case errors.As(err, &ee) && ee.ResourceKey != "":
			return e.prefixed(ee.ResourceKey, s, step), OutcomeServiceError
		default:
			log.Debug("service invocation failed", sl.Err(err))
			return e.prefixed(KeyGeneric, s, step), OutcomeServiceError
		}
	}

	params := make(map[string]any, len(s.Context)+len(res))
	for k, v := range s.Context {
		params[k] = v
	}
	for k, v := range res {
		params[k] = v
	}
	text := e.res.Resolve(e.resultKey(opt), s.Language, params)

	next := step
	switch {
	case opt.PostStepID != "":
		if ps, err := e.flows.GetStep(s.FlowID, opt.PostStepID); err == nil {
			next = ps
		}
	case step.Reentrant:
	default:
		if r, err := e.flows.Root(s.FlowID); err == nil {
			next = r
		}
	}
	s.StepID = next.ID
	return e.withStep(text, s, next), OutcomeOK
}

func (e *Engine) resultKey(opt *flow.Option) string {
	if opt.ResultKey != "" {
		return opt.ResultKey
	}
	if svc, err := e.services.Get(opt.ServiceID); err == nil && svc.Descriptor().ResultKey != "" {
		return svc.Descriptor().ResultKey
	}
	return "services." + opt.ServiceID + ".result"
}

func (e *Engine) validationText(ve *registry.ValidationError, lang string) string {
	lines := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		field := f.Field
		if label, ok := e.res.Lookup(KeyFieldPrefix+f.Field, lang); ok {
			field = label
		}
		lines = append(lines, e.res.Resolve(KeyValidation+f.Rule, lang, map[string]any{
			"field": field,
			"param": f.Param,
		}))
	}
	return strings.Join(lines, "\n")
}

// match finds the option the event selects on step. Selected option ids and
// menu numbers are checked first, then each option in declaration order by
// id, localized match or label text, and pattern.
func (e *Engine) match(step *flow.Step, ev entity.InboundEvent, lang string) *flow.Option {
	if ev.SelectedOptionID != "" {
		for i := range step.Options {
			if step.Options[i].ID == ev.SelectedOptionID {
				return &step.Options[i]
			}
		}
	}

	raw := strings.TrimSpace(ev.Text)
	if raw == "" {
		return nil
	}
	if o := MatchNumber(raw, VisibleOptions(step)); o != nil {
		return o
	}

	text := Normalize(raw)
	for i := range step.Options {
		o := &step.Options[i]
		if Normalize(o.ID) == text {
			return o
		}
		if e.matchesKey(o.MatchKey(), text, lang) || e.matchesKey(o.LabelKey, text, lang) {
			return o
		}
		if re := o.Pattern(); re != nil && re.MatchString(raw) {
			return o
		}
	}
	return nil
}

func (e *Engine) matchesKey(key, text, lang string) bool {
	if key == "" {
		return false
	}
	for _, l := range []string{lang, e.res.DefaultLanguage()} {
		if v, ok := e.res.Lookup(key, l); ok && Normalize(v) == text {
			return true
		}
	}
	return false
}

func (e *Engine) language(s *Session) string {
	if s.Language != "" {
		return s.Language
	}
	return e.res.DefaultLanguage()
}

func (e *Engine) currentStep(s *Session) *flow.Step {
	if s.IsNew() {
		return nil
	}
	step, err := e.flows.GetStep(s.FlowID, s.StepID)
	if err != nil {
		return nil
	}
	return step
}

// render produces the prompt and numbered options of step.
func (e *Engine) render(s *Session, step *flow.Step) entity.OutboundEvent {
	lang := e.language(s)
	out := entity.OutboundEvent{
		Text: e.res.Resolve(step.PromptKey, lang, s.Context),
	}
	for _, o := range VisibleOptions(step) {
		out.Options = append(out.Options, entity.RenderedOption{
			ID:    o.ID,
			Label: e.res.Resolve(o.Label(), lang, s.Context),
		})
	}
	return out
}

func (e *Engine) withStep(text string, s *Session, step *flow.Step) entity.OutboundEvent {
	out := e.render(s, step)
	if text != "" {
		out.Text = text + "\n\n" + out.Text
	}
	return out
}

func (e *Engine) prefixed(key string, s *Session, step *flow.Step) entity.OutboundEvent {
	return e.withStep(e.res.Resolve(key, e.language(s), nil), s, step)
}

// transient renders errors.transient followed by the step s was loaded at.
func (e *Engine) transient(s *Session) entity.OutboundEvent {
	if s == nil {
		return entity.OutboundEvent{Text: e.res.Resolve(KeyTransient, e.res.DefaultLanguage(), nil)}
	}
	text := e.res.Resolve(KeyTransient, e.language(s), nil)
	step := e.currentStep(s)
	if step == nil {
		return entity.OutboundEvent{Text: text}
	}
	return e.withStep(text, s, step)
}
