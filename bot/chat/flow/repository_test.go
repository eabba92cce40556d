package flow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type services map[string]bool

func (s services) Has(id string) bool { return s[id] }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mainFlow() *Flow {
	return &Flow{
		ID:         "main",
		RootStepID: "root",
		Steps: []Step{
			{ID: "root", PromptKey: "menu.root.prompt", Options: []Option{
				{ID: "horoscope", Match: "menu.root.horoscope", NextStepID: "birth"},
				{ID: "hindi", Match: "menu.root.hindi", NextStepID: "root", Language: "hi"},
				{ID: "help", Match: "re:^(help|\\?)$", LabelKey: "menu.root.help", NextFlowID: "help"},
			}},
			{ID: "birth", PromptKey: "menu.birth.prompt", Collect: &Collect{Field: "birth_date", NextStepID: "confirm"}},
			{ID: "confirm", PromptKey: "menu.confirm.prompt", Options: []Option{
				{ID: "go", Match: "menu.confirm.go", ServiceID: "horoscope_calc", PostStepID: "done", ResultKey: "services.horoscope.result"},
			}},
			{ID: "done", PromptKey: "menu.done.prompt", Terminal: true},
		},
	}
}

func helpFlow() *Flow {
	return &Flow{ID: "help", RootStepID: "faq", Steps: []Step{{ID: "faq", PromptKey: "help.faq"}}}
}

func newRepo(t *testing.T, flows ...*Flow) *Repository {
	t.Helper()
	r := NewRepository(StaticLoader(flows), services{"horoscope_calc": true}, "main", discard())
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestGetStep(t *testing.T) {
	r := newRepo(t, mainFlow(), helpFlow())

	s, err := r.GetStep("main", "confirm")
	require.NoError(t, err)
	require.Equal(t, "menu.confirm.prompt", s.PromptKey)

	root, err := r.Root("main")
	require.NoError(t, err)
	require.Equal(t, "root", root.ID)

	_, err = r.GetStep("main", "missing")
	require.ErrorIs(t, err, ErrStepNotFound)

	_, err = r.GetStep("nope", "root")
	require.ErrorIs(t, err, ErrFlowNotFound)
}

func TestTargetAcrossFlows(t *testing.T) {
	r := newRepo(t, mainFlow(), helpFlow())
	root, _ := r.Root("main")

	flowID, s, err := r.Target("main", &root.Options[2])
	require.NoError(t, err)
	require.Equal(t, "help", flowID)
	require.Equal(t, "faq", s.ID)

	flowID, s, err = r.Target("main", &root.Options[0])
	require.NoError(t, err)
	require.Equal(t, "main", flowID)
	require.Equal(t, "birth", s.ID)
}

func TestPatternCompiledCaseInsensitive(t *testing.T) {
	r := newRepo(t, mainFlow(), helpFlow())
	root, _ := r.Root("main")

	help := root.Options[2]
	require.True(t, help.IsPattern())
	require.Empty(t, help.MatchKey())
	require.Equal(t, "menu.root.help", help.Label())
	require.True(t, help.Pattern().MatchString("HELP"))
	require.Nil(t, root.Options[0].Pattern())
}

func TestLoadRejectsDanglingReferences(t *testing.T) {
	f := mainFlow()
	f.Steps[0].Options[0].NextStepID = "nowhere"
	f.Steps[2].Options[0].ServiceID = "unknown_svc"
	f.Steps[1].Collect.NextStepID = "gone"

	r := NewRepository(StaticLoader{f, helpFlow()}, services{"horoscope_calc": true}, "main", discard())
	err := r.Load(context.Background())
	require.ErrorIs(t, err, ErrStepNotFound)
	require.ErrorIs(t, err, ErrUnknownService)

	errs := r.Check(context.Background())
	require.Len(t, errs, 3)

	_, err = r.Root("main")
	require.ErrorIs(t, err, ErrFlowNotFound)
}

func TestLoadRejectsStructuralErrors(t *testing.T) {
	cases := map[string]func(f *Flow){
		"both targets": func(f *Flow) { f.Steps[0].Options[0].ServiceID = "horoscope_calc" },
		"no target": func(f *Flow) {
			f.Steps[0].Options[0].NextStepID = ""
		},
		"duplicate option": func(f *Flow) { f.Steps[0].Options[1].ID = "horoscope" },
		"bad pattern":      func(f *Flow) { f.Steps[0].Options[2].Match = "re:([" },
		"duplicate step":   func(f *Flow) { f.Steps[3].ID = "confirm" },
		"missing prompt":   func(f *Flow) { f.Steps[3].PromptKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := mainFlow()
			mutate(f)
			r := NewRepository(StaticLoader{f, helpFlow()}, services{"horoscope_calc": true}, "main", discard())
			require.ErrorIs(t, r.Load(context.Background()), ErrInvalidStructure)
		})
	}
}

func TestLoadRequiresDefaultFlowAndRoot(t *testing.T) {
	r := NewRepository(StaticLoader{helpFlow()}, nil, "main", discard())
	require.ErrorIs(t, r.Load(context.Background()), ErrFlowNotFound)

	f := helpFlow()
	f.RootStepID = "missing"
	r = NewRepository(StaticLoader{f}, nil, "help", discard())
	require.ErrorIs(t, r.Load(context.Background()), ErrStepNotFound)
}

func TestFailedReloadKeepsPrevious(t *testing.T) {
	loader := &swapLoader{flows: []*Flow{mainFlow(), helpFlow()}}
	r := NewRepository(loader, services{"horoscope_calc": true}, "main", discard())
	require.NoError(t, r.Load(context.Background()))

	broken := mainFlow()
	broken.RootStepID = "missing"
	loader.flows = []*Flow{broken, helpFlow()}
	require.Error(t, r.Load(context.Background()))

	s, err := r.Root("main")
	require.NoError(t, err)
	require.Equal(t, "root", s.ID)
}

func TestReloadWithMissingKeysKeepsPrevious(t *testing.T) {
	loader := &swapLoader{flows: []*Flow{mainFlow(), helpFlow()}}
	r := NewRepository(loader, services{"horoscope_calc": true}, "main", discard())
	require.NoError(t, r.Load(context.Background()))

	changed := mainFlow()
	changed.Steps[0].PromptKey = "menu.root.welcome"
	loader.flows = []*Flow{changed, helpFlow()}

	var seen []string
	missing, err := r.Reload(context.Background(), func(keys []string) []string {
		seen = keys
		return []string{"menu.root.welcome"}
	})
	require.ErrorIs(t, err, ErrMissingResources)
	require.Equal(t, []string{"menu.root.welcome"}, missing)
	require.Contains(t, seen, "menu.root.welcome")

	s, err := r.Root("main")
	require.NoError(t, err)
	require.Equal(t, "menu.root.prompt", s.PromptKey)

	missing, err = r.Reload(context.Background(), func([]string) []string { return nil })
	require.NoError(t, err)
	require.Empty(t, missing)
	s, err = r.Root("main")
	require.NoError(t, err)
	require.Equal(t, "menu.root.welcome", s.PromptKey)
}

type swapLoader struct{ flows []*Flow }

func (l *swapLoader) Load(context.Context) ([]*Flow, error) { return l.flows, nil }

func TestResourceKeys(t *testing.T) {
	r := newRepo(t, mainFlow(), helpFlow())
	require.Equal(t, []string{
		"help.faq",
		"menu.birth.prompt",
		"menu.confirm.go",
		"menu.confirm.prompt",
		"menu.done.prompt",
		"menu.root.help",
		"menu.root.hindi",
		"menu.root.horoscope",
		"menu.root.prompt",
		"services.horoscope.result",
	}, r.ResourceKeys())
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.json"), []byte(`{
		"rootStepId": "root",
		"steps": [
			{"id": "root", "promptResourceKey": "menu.root.prompt", "options": [
				{"id": "again", "matchResourceKeyOrPattern": "menu.root.again", "nextStepId": "root"}
			]}
		]
	}`), 0o600))

	r := NewRepository(DirLoader{Dir: dir}, nil, "main", discard())
	require.NoError(t, r.Load(context.Background()))

	s, err := r.Root("main")
	require.NoError(t, err)
	require.Equal(t, "root", s.Options[0].NextStepID)
	require.False(t, r.LoadedAt().IsZero())
}

func TestServiceIDs(t *testing.T) {
	r := newRepo(t, mainFlow(), helpFlow())
	require.Equal(t, []string{"horoscope_calc"}, r.ServiceIDs())
}
