package locale

import (
	"sync"
	"time"
)

type DiagnosticKind string

const (
	TranslationMissing DiagnosticKind = "translation_missing"
	ParamMissing       DiagnosticKind = "param_missing"
)

// Diagnostic records a lookup that had to fall back.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	Key      string         `json:"key"`
	Language string         `json:"language"`
	Param    string         `json:"param,omitempty"`
	Count    int            `json:"count"`
	LastSeen time.Time      `json:"last_seen"`
}

type diagKey struct {
	kind  DiagnosticKind
	key   string
	lang  string
	param string
}

// diagnostics aggregates repeated occurrences of the same problem.
type diagnostics struct {
	mu      sync.Mutex
	limit   int
	entries map[diagKey]*Diagnostic
	order   []diagKey
}

func newDiagnostics(limit int) *diagnostics {
	return &diagnostics{
		limit:   limit,
		entries: make(map[diagKey]*Diagnostic),
	}
}

// record returns true the first time a problem is seen.
func (d *diagnostics) record(kind DiagnosticKind, key, lang, param string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := diagKey{kind: kind, key: key, lang: lang, param: param}
	if e, ok := d.entries[k]; ok {
		e.Count++
		e.LastSeen = at
		return false
	}

	if len(d.order) >= d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.entries, oldest)
	}
	d.entries[k] = &Diagnostic{Kind: kind, Key: key, Language: lang, Param: param, Count: 1, LastSeen: at}
	d.order = append(d.order, k)
	return true
}

func (d *diagnostics) snapshot() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Diagnostic, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, *d.entries[k])
	}
	return out
}
