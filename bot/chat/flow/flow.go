package flow

import (
	"regexp"
	"strings"
)

// PatternPrefix marks an option match as a regular expression instead of a
// resource key.
const PatternPrefix = "re:"

// Option is a selectable branch of a step. It either moves to another step
// (NextStepID, optionally in NextFlowID) or invokes ServiceID.
type Option struct {
	ID         string `json:"id"`
	Match      string `json:"matchResourceKeyOrPattern"`
	LabelKey   string `json:"labelResourceKey,omitempty"`
	NextStepID string `json:"nextStepId,omitempty"`
	NextFlowID string `json:"nextFlowId,omitempty"`
	ServiceID  string `json:"serviceId,omitempty"`
	PostStepID string `json:"postStepId,omitempty"`
	ResultKey  string `json:"resultResourceKey,omitempty"`
	Language   string `json:"language,omitempty"`

	pattern *regexp.Regexp
}

func (o *Option) IsPattern() bool {
	return strings.HasPrefix(o.Match, PatternPrefix)
}

// Pattern is the compiled match expression, nil for resource-key matches.
func (o *Option) Pattern() *regexp.Regexp {
	return o.pattern
}

// MatchKey is the resource key compared against user text, empty for patterns.
func (o *Option) MatchKey() string {
	if o.IsPattern() {
		return ""
	}
	return o.Match
}

// Label is the resource key rendered for the option.
func (o *Option) Label() string {
	if o.LabelKey != "" {
		return o.LabelKey
	}
	return o.MatchKey()
}

func (o *Option) Navigates() bool {
	return o.NextStepID != "" || o.NextFlowID != ""
}

// Collect makes a step store the raw user text into the session context.
type Collect struct {
	Field      string `json:"field"`
	NextStepID string `json:"nextStepId"`
}

type Step struct {
	ID        string   `json:"id"`
	PromptKey string   `json:"promptResourceKey"`
	Options   []Option `json:"options"`
	Terminal  bool     `json:"terminal,omitempty"`
	Reentrant bool     `json:"reentrant,omitempty"`
	Collect   *Collect `json:"collect,omitempty"`
}

// Loops reports whether any input on this step returns to the root.
func (s *Step) Loops() bool {
	return s.Terminal || (len(s.Options) == 0 && s.Collect == nil)
}

type Flow struct {
	ID         string `json:"id"`
	RootStepID string `json:"rootStepId"`
	Steps      []Step `json:"steps"`

	index map[string]*Step
}

func (f *Flow) Step(id string) (*Step, bool) {
	s, ok := f.index[id]
	return s, ok
}

func (f *Flow) build() []error {
	var errs []error
	f.index = make(map[string]*Step, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		if _, dup := f.index[s.ID]; dup {
			errs = append(errs, structural(f.ID, s.ID, "", "duplicate step id"))
			continue
		}
		f.index[s.ID] = s

		for j := range s.Options {
			o := &s.Options[j]
			if !o.IsPattern() {
				continue
			}
			re, err := regexp.Compile("(?i)" + strings.TrimPrefix(o.Match, PatternPrefix))
			if err != nil {
				errs = append(errs, structural(f.ID, s.ID, o.ID, "invalid pattern: "+err.Error()))
				continue
			}
			o.pattern = re
		}
	}
	return errs
}
