package locale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"AstroBot/internal/lib/sl"
	"AstroBot/internal/metrics"
)

const diagnosticsLimit = 200

var ErrDefaultBundleMissing = errors.New("default language bundle missing")

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// MissingMarker is what users see when a key is defined nowhere.
func MissingMarker(key string) string {
	return "[[" + key + "]]"
}

type snapshot struct {
	bundles  Bundles
	loadedAt time.Time
}

// Resolver serves localized templates from an in-memory snapshot that is
// replaced wholesale on Refresh.
type Resolver struct {
	loader      Loader
	defaultLang string
	snap        atomic.Pointer[snapshot]
	diag        *diagnostics
	metrics     *metrics.Metrics
	log         *slog.Logger

	refreshMu sync.Mutex
	errMu     sync.RWMutex
	lastErr   error

	now func() time.Time
}

func NewResolver(loader Loader, defaultLang string, m *metrics.Metrics, log *slog.Logger) *Resolver {
	return &Resolver{
		loader:      loader,
		defaultLang: defaultLang,
		diag:        newDiagnostics(diagnosticsLimit),
		metrics:     m,
		log:         log.With(sl.Module("locale")),
		now:         time.Now,
	}
}

func (r *Resolver) DefaultLanguage() string {
	return r.defaultLang
}

// Refresh loads all bundles and swaps them in. On failure the previous
// snapshot stays in place.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	bundles, err := r.loader.Load(ctx)
	if err == nil {
		if _, ok := bundles[r.defaultLang]; !ok {
			err = fmt.Errorf("%w: %s", ErrDefaultBundleMissing, r.defaultLang)
		}
	}
	r.setErr(err)
	r.metrics.BundleRefresh(err == nil)
	if err != nil {
		r.log.Error("resource refresh failed", sl.Err(err))
		return err
	}

	r.snap.Store(&snapshot{bundles: bundles, loadedAt: r.now()})
	r.log.Info("resources loaded",
		slog.Int("languages", len(bundles)),
		slog.Int("default_keys", len(bundles[r.defaultLang])),
	)
	return nil
}

// Run refreshes on a fixed interval until ctx is done.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
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
			_ = r.Refresh(ctx)
		}
	}
}

// Resolve returns the template for key in language with params substituted.
// It never fails: requested language, then its base language, then the
// default language, then a visible marker.
func (r *Resolver) Resolve(key, language string, params map[string]any) string {
	tmpl, ok := r.lookup(key, language)
	if !ok {
		r.report(TranslationMissing, key, language, "")
		return MissingMarker(key)
	}
	return r.substitute(tmpl, key, language, params)
}

// Lookup returns the raw template without falling back to the marker.
func (r *Resolver) Lookup(key, language string) (string, bool) {
	return r.lookup(key, language)
}

func (r *Resolver) lookup(key, language string) (string, bool) {
	s := r.snap.Load()
	if s == nil {
		return "", false
	}
	for _, lang := range r.chain(language) {
		if b, ok := s.bundles[lang]; ok {
			if tmpl, ok := b[key]; ok {
				return tmpl, true
			}
		}
	}
	return "", false
}

func (r *Resolver) chain(language string) []string {
	chain := make([]string, 0, 3)
	if language != "" {
		chain = append(chain, language)
		if base, _, found := strings.Cut(language, "-"); found && base != "" {
			chain = append(chain, base)
		}
	}
	if language != r.defaultLang {
		chain = append(chain, r.defaultLang)
	}
	return chain
}

func (r *Resolver) substitute(tmpl, key, language string, params map[string]any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := params[name]
		if !ok {
			r.report(ParamMissing, key, language, name)
			return token
		}
		return fmt.Sprint(v)
	})
}

func (r *Resolver) report(kind DiagnosticKind, key, language, param string) {
	r.metrics.Diagnostic(string(kind), language)
	if r.diag.record(kind, key, language, param, r.now()) {
		r.log.Warn("resource lookup fell back",
			slog.String("kind", string(kind)),
			slog.String("key", key),
			slog.String("language", language),
			slog.String("param", param),
		)
	}
}

// Has reports whether key is defined in exactly this language.
func (r *Resolver) Has(language, key string) bool {
	s := r.snap.Load()
	if s == nil {
		return false
	}
	_, ok := s.bundles[language][key]
	return ok
}

// MissingDefault returns the keys the default bundle does not define.
func (r *Resolver) MissingDefault(keys []string) []string {
	var missing []string
	for _, k := range keys {
		if !r.Has(r.defaultLang, k) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

func (r *Resolver) Languages() []string {
	s := r.snap.Load()
	if s == nil {
		return nil
	}
	langs := make([]string, 0, len(s.bundles))
	for l := range s.bundles {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// CacheAge is the time since the current snapshot was loaded.
func (r *Resolver) CacheAge() time.Duration {
	s := r.snap.Load()
	if s == nil {
		return 0
	}
	return r.now().Sub(s.loadedAt)
}

// DefaultLoaded is false when nothing is loaded or the last refresh failed.
func (r *Resolver) DefaultLoaded() bool {
	if r.LastError() != nil {
		return false
	}
	s := r.snap.Load()
	if s == nil {
		return false
	}
	_, ok := s.bundles[r.defaultLang]
	return ok
}

func (r *Resolver) LastError() error {
	r.errMu.RLock()
	defer r.errMu.RUnlock()
	return r.lastErr
}

func (r *Resolver) setErr(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}

func (r *Resolver) Diagnostics() []Diagnostic {
	return r.diag.snapshot()
}
