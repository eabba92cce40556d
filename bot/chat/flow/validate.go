package flow

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFlowNotFound     = errors.New("flow not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrUnknownService   = errors.New("unknown service")
	ErrInvalidStructure = errors.New("invalid flow structure")
	ErrMissingResources = errors.New("default bundle misses keys referenced by flows")
)

// ServiceChecker answers whether a service id is registered.
type ServiceChecker interface {
	Has(id string) bool
}

func structural(flowID, stepID, optionID, msg string) error {
	return fmt.Errorf("flow %s step %s option %s: %w: %s", flowID, stepID, optionID, ErrInvalidStructure, msg)
}

func dangling(flowID, stepID, optionID string, err error, target string) error {
	return fmt.Errorf("flow %s step %s option %s: %w: %s", flowID, stepID, optionID, err, target)
}

// Validate checks the reference closure of a flow set: every step, flow and
// service an option or collect block points at must exist. It assumes build
// has been run on each flow.
func Validate(flows map[string]*Flow, services ServiceChecker, defaultFlow string) []error {
	var errs []error

	if _, ok := flows[defaultFlow]; !ok {
		errs = append(errs, fmt.Errorf("default flow %s: %w", defaultFlow, ErrFlowNotFound))
	}

	ids := make([]string, 0, len(flows))
	for id := range flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		f := flows[id]
		if _, ok := f.Step(f.RootStepID); !ok {
			errs = append(errs, fmt.Errorf("flow %s root %s: %w", f.ID, f.RootStepID, ErrStepNotFound))
		}

		for i := range f.Steps {
			s := &f.Steps[i]
			if s.PromptKey == "" {
				errs = append(errs, structural(f.ID, s.ID, "", "missing promptResourceKey"))
			}
			if s.Collect != nil {
				if s.Collect.Field == "" {
					errs = append(errs, structural(f.ID, s.ID, "", "collect without field"))
				}
				if _, ok := f.Step(s.Collect.NextStepID); !ok {
					errs = append(errs, dangling(f.ID, s.ID, "", ErrStepNotFound, s.Collect.NextStepID))
				}
			}

			seen := make(map[string]bool, len(s.Options))
			for j := range s.Options {
				o := &s.Options[j]
				if o.ID == "" {
					errs = append(errs, structural(f.ID, s.ID, "", "option without id"))
				} else if seen[o.ID] {
					errs = append(errs, structural(f.ID, s.ID, o.ID, "duplicate option id"))
				}
				seen[o.ID] = true

				if o.Match == "" {
					errs = append(errs, structural(f.ID, s.ID, o.ID, "missing matchResourceKeyOrPattern"))
				}
				errs = append(errs, validateTarget(flows, f, s, o, services)...)
			}
		}
	}
	return errs
}

func validateTarget(flows map[string]*Flow, f *Flow, s *Step, o *Option, services ServiceChecker) []error {
	var errs []error

	switch {
	case o.Navigates() && o.ServiceID != "":
		return append(errs, structural(f.ID, s.ID, o.ID, "both nextStepId and serviceId set"))
	case !o.Navigates() && o.ServiceID == "":
		return append(errs, structural(f.ID, s.ID, o.ID, "neither nextStepId nor serviceId set"))
	}

	if o.Navigates() {
		target := f
		if o.NextFlowID != "" {
			tf, ok := flows[o.NextFlowID]
			if !ok {
				return append(errs, dangling(f.ID, s.ID, o.ID, ErrFlowNotFound, o.NextFlowID))
			}
			target = tf
		}
		stepID := o.NextStepID
		if stepID == "" {
			stepID = target.RootStepID
		}
		if _, ok := target.Step(stepID); !ok {
			errs = append(errs, dangling(f.ID, s.ID, o.ID, ErrStepNotFound, target.ID+"/"+stepID))
		}
		return errs
	}

	if services == nil || !services.Has(o.ServiceID) {
		errs = append(errs, dangling(f.ID, s.ID, o.ID, ErrUnknownService, o.ServiceID))
	}
	if o.PostStepID != "" {
		if _, ok := f.Step(o.PostStepID); !ok {
			errs = append(errs, dangling(f.ID, s.ID, o.ID, ErrStepNotFound, o.PostStepID))
		}
	}
	return errs
}
