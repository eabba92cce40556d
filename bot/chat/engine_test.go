package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AstroBot/bot/chat/flow"
	"AstroBot/entity"
	"AstroBot/internal/locale"
	"AstroBot/internal/service/registry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFlows() flow.StaticLoader {
	return flow.StaticLoader{{
		ID:         "main",
		RootStepID: "root",
		Steps: []flow.Step{
			{ID: "root", PromptKey: "menu.root.prompt", Options: []flow.Option{
				{ID: "horo", Match: "menu.root.horoscope", NextStepID: "birth"},
				{ID: "hindi", Match: "menu.root.hindi", NextStepID: "root", Language: "hi"},
				{ID: "slow", Match: "menu.root.slow", ServiceID: "slow_calc"},
				{ID: "lucky", Match: "re:^lucky\\s*\\d*$", ServiceID: "lucky_calc"},
			}},
			{ID: "birth", PromptKey: "menu.birth.prompt", Collect: &flow.Collect{Field: "birth_date", NextStepID: "confirm"}},
			{ID: "confirm", PromptKey: "menu.confirm.prompt", Options: []flow.Option{
				{ID: "go", Match: "menu.confirm.go", ServiceID: "horoscope_calc", PostStepID: "done"},
			}},
			{ID: "done", PromptKey: "menu.done.prompt", Terminal: true},
		},
	}}
}

func testBundles() locale.MapLoader {
	return locale.MapLoader{
		"en": {
			"menu.root.prompt":           "Welcome! Pick an option",
			"menu.root.horoscope":        "Horoscope",
			"menu.root.hindi":            "Hindi",
			"menu.root.slow":             "Slow",
			"menu.birth.prompt":          "Send your birth date (YYYY-MM-DD)",
			"menu.confirm.prompt":        "Calculate for {birth_date}?",
			"menu.confirm.go":            "Yes",
			"menu.done.prompt":           "Send anything to continue",
			"services.horoscope.result":  "Your sign is {sign}. {prediction}",
			"services.lucky.result":      "Lucky number {number}",
			"errors.not_understood":      "Sorry, I did not understand.",
			"errors.generic":             "Something went wrong.",
			"errors.transient":           "Please try again.",
			"errors.validation.required": "{field} is required",
			"errors.validation.date":     "{field} must look like 2006-01-02",
			"fields.birth_date":          "Birth date",
		},
		"hi": {
			"menu.root.prompt":          "स्वागत है! विकल्प चुनें",
			"menu.root.horoscope":       "राशिफल",
			"menu.birth.prompt":         "अपनी जन्म तिथि भेजें (YYYY-MM-DD)",
			"menu.confirm.prompt":       "{birth_date} के लिए गणना करें?",
			"menu.confirm.go":           "हाँ",
			"menu.done.prompt":          "जारी रखने के लिए कुछ भी भेजें",
			"services.horoscope.result": "आपकी राशि {sign} है। {prediction}",
		},
	}
}

type fixture struct {
	engine *Engine
	store  SessionStore
	calls  *atomic.Int32
	clock  *time.Time
}

func newFixture(t *testing.T, store SessionStore) *fixture {
	t.Helper()
	log := discard()
	calls := &atomic.Int32{}

	reg := registry.New(log, registry.WithTimeout(50*time.Millisecond))
	reg.MustRegister(
		registry.Func{
			Desc: registry.Descriptor{
				ID:        "horoscope_calc",
				Schema:    registry.Schema{"birth_date": {Type: registry.TypeDate, Required: true}},
				ResultKey: "services.horoscope.result",
			},
			Exec: func(_ context.Context, in registry.Input) (registry.Result, error) {
				calls.Add(1)
				return registry.Result{"sign": "Leo", "prediction": fmt.Sprintf("Good day %d", in.Time("birth_date").Day())}, nil
			},
		},
		registry.Func{
			Desc: registry.Descriptor{ID: "slow_calc"},
			Exec: func(ctx context.Context, _ registry.Input) (registry.Result, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		registry.Func{
			Desc: registry.Descriptor{ID: "lucky_calc", ResultKey: "services.lucky.result"},
			Exec: func(context.Context, registry.Input) (registry.Result, error) {
				return registry.Result{"number": 7}, nil
			},
		},
	)
	reg.Seal()

	res := locale.NewResolver(testBundles(), "en", nil, log)
	require.NoError(t, res.Refresh(context.Background()))

	flows := flow.NewRepository(testFlows(), reg, "main", log)
	require.NoError(t, flows.Load(context.Background()))

	if store == nil {
		store = NewMemoryStore()
	}
	e := NewEngine(store, flows, reg, res, Options{
		InactivityTimeout: 30 * time.Minute,
		Keywords:          []string{"menu", "/start"},
	}, nil, log)

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{engine: e, store: store, calls: calls, clock: &clock}
	e.now = func() time.Time { return *f.clock }
	return f
}

var msgSeq atomic.Int64

func (f *fixture) send(t *testing.T, text string) entity.OutboundEvent {
	t.Helper()
	return f.sendEvent(t, entity.InboundEvent{Text: text})
}

func (f *fixture) sendEvent(t *testing.T, ev entity.InboundEvent) entity.OutboundEvent {
	t.Helper()
	if ev.UserKey == "" {
		ev.UserKey = "whatsapp:380501234567"
	}
	if ev.MessageID == "" {
		ev.MessageID = fmt.Sprintf("wamid.%d", msgSeq.Add(1))
	}
	ev.Platform = "whatsapp"
	ev.ChatID = "380501234567"
	*f.clock = f.clock.Add(time.Second)
	return f.engine.Handle(context.Background(), ev)
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := f.store.Load(context.Background(), "whatsapp:380501234567")
	require.NoError(t, err)
	return s
}

func TestNewUserGetsRootMenu(t *testing.T) {
	f := newFixture(t, nil)

	out := f.send(t, "hello")
	require.Equal(t, "Welcome! Pick an option", out.Text)
	require.Equal(t, []entity.RenderedOption{
		{ID: "horo", Label: "Horoscope"},
		{ID: "hindi", Label: "Hindi"},
		{ID: "slow", Label: "Slow"},
	}, out.Options)
	require.Equal(t, "whatsapp:380501234567", out.UserKey)
	require.Equal(t, "380501234567", out.ChatID)

	s := f.session(t)
	require.Equal(t, "root", s.StepID)
	require.Equal(t, "en", s.Language)
	require.Equal(t, int64(1), s.Version)
	require.NotEmpty(t, s.ConversationID)
}

func TestRoundTripHoroscope(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")

	out := f.send(t, "1")
	require.Equal(t, "Send your birth date (YYYY-MM-DD)", out.Text)
	require.Empty(t, out.Options)

	out = f.send(t, " 1990-08-15 ")
	require.Equal(t, "Calculate for 1990-08-15?", out.Text)
	require.Equal(t, []entity.RenderedOption{{ID: "go", Label: "Yes"}}, out.Options)

	out = f.send(t, "yes")
	require.Equal(t, "Your sign is Leo. Good day 15\n\nSend anything to continue", out.Text)
	require.Empty(t, out.Options)
	require.Equal(t, "done", f.session(t).StepID)

	// An option-less terminal step re-renders the root whatever the input.
	out = f.send(t, "Horoscope")
	require.Equal(t, "Welcome! Pick an option", out.Text)
	require.Equal(t, "root", f.session(t).StepID)

	out = f.send(t, "Horoscope")
	require.Equal(t, "Send your birth date (YYYY-MM-DD)", out.Text)
	require.Equal(t, "birth", f.session(t).StepID)
}

func TestHindiHoroscopeScenario(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hi")

	out := f.sendEvent(t, entity.InboundEvent{SelectedOptionID: "hindi"})
	require.Equal(t, "स्वागत है! विकल्प चुनें", out.Text)
	require.Equal(t, "राशिफल", out.Options[0].Label)
	require.Equal(t, "Hindi", out.Options[1].Label)

	out = f.send(t, "राशिफल")
	require.Equal(t, "अपनी जन्म तिथि भेजें (YYYY-MM-DD)", out.Text)

	f.send(t, "1990-08-15")
	out = f.send(t, "हाँ")
	require.Equal(t, "आपकी राशि Leo है। Good day 15\n\nजारी रखने के लिए कुछ भी भेजें", out.Text)

	s := f.session(t)
	require.Equal(t, "hi", s.Language)
	require.Equal(t, "1990-08-15", s.GetString("birth_date"))
}

func TestDefaultLanguageLabelMatchesForOtherLanguage(t *testing.T) {
	f := newFixture(t, nil)
	f.sendEvent(t, entity.InboundEvent{SelectedOptionID: "hindi"})

	out := f.send(t, "horoscope")
	require.Equal(t, "अपनी जन्म तिथि भेजें (YYYY-MM-DD)", out.Text)
}

func TestNotUnderstoodKeepsStep(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")

	out := f.send(t, "what?")
	require.Equal(t, "Sorry, I did not understand.\n\nWelcome! Pick an option", out.Text)
	require.Len(t, out.Options, 3)
	require.Equal(t, "root", f.session(t).StepID)

	out = f.send(t, "9")
	require.Contains(t, out.Text, "Sorry, I did not understand.")
}

func TestPatternOptionIsHiddenButMatches(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")

	out := f.send(t, "LUCKY 3")
	require.Equal(t, "Lucky number 7\n\nWelcome! Pick an option", out.Text)
	require.Equal(t, "root", f.session(t).StepID)
}

func TestDuplicateMessageReplayed(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")
	f.send(t, "1")
	f.send(t, "1990-08-15")

	first := f.sendEvent(t, entity.InboundEvent{MessageID: "wamid.dup", Text: "yes"})
	version := f.session(t).Version

	second := f.sendEvent(t, entity.InboundEvent{MessageID: "wamid.dup", Text: "yes"})
	require.Equal(t, first, second)
	require.Equal(t, int32(1), f.calls.Load())
	require.Equal(t, version, f.session(t).Version)
}

func TestValidationErrorStaysOnStep(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")
	f.send(t, "1")
	f.send(t, "15/08/1990")

	out := f.send(t, "yes")
	require.Equal(t, "Birth date must look like 2006-01-02\n\nCalculate for 15/08/1990?", out.Text)
	require.Equal(t, "confirm", f.session(t).StepID)
	require.Zero(t, f.calls.Load())
}

func TestServiceTimeoutRendersGenericError(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")

	start := time.Now()
	out := f.send(t, "slow")
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, "Something went wrong.\n\nWelcome! Pick an option", out.Text)
	require.Equal(t, "root", f.session(t).StepID)

	out = f.send(t, "1")
	require.Equal(t, "Send your birth date (YYYY-MM-DD)", out.Text)
}

func TestKeywordReturnsToRoot(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")
	f.send(t, "1")

	out := f.send(t, "MENU")
	require.Equal(t, "Welcome! Pick an option", out.Text)
	require.Equal(t, "root", f.session(t).StepID)
}

func TestInactiveSessionResets(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "hello")
	f.send(t, "1")
	f.send(t, "1990-08-15")
	before := f.session(t)

	*f.clock = f.clock.Add(time.Hour)
	out := f.send(t, "yes")
	require.Equal(t, "Welcome! Pick an option", out.Text)

	after := f.session(t)
	require.Equal(t, "root", after.StepID)
	require.Empty(t, after.Context)
	require.NotEqual(t, before.ConversationID, after.ConversationID)
	require.Zero(t, f.calls.Load())
}

func TestUnknownStepResetsToRoot(t *testing.T) {
	store := NewMemoryStore()
	s := NewSession("whatsapp:380501234567")
	s.FlowID, s.StepID, s.Language = "main", "removed_step", "en"
	s.LastActivityAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), s))

	f := newFixture(t, store)
	out := f.send(t, "1")
	require.Equal(t, "Send your birth date (YYYY-MM-DD)", out.Text)
}

// conflictStore fails the first n saves as if another writer got there first.
type conflictStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (c *conflictStore) Save(ctx context.Context, s *Session) error {
	if c.failures.Add(-1) >= 0 {
		return ErrConcurrentModification
	}
	return c.MemoryStore.Save(ctx, s)
}

func TestConflictRetriedOnce(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore()}
	f := newFixture(t, store)
	f.send(t, "hello")

	store.failures.Store(1)
	out := f.send(t, "1")
	require.Equal(t, "Send your birth date (YYYY-MM-DD)", out.Text)
	require.Equal(t, "birth", f.session(t).StepID)
}

func TestSecondConflictRendersTransient(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore()}
	f := newFixture(t, store)
	f.send(t, "hello")

	store.failures.Store(2)
	out := f.send(t, "1")
	require.Equal(t, "Please try again.\n\nWelcome! Pick an option", out.Text)
	require.Equal(t, "root", f.session(t).StepID)
}
