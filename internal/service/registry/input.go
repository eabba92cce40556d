package registry

import (
	"time"
)

// Input holds validated values coerced to their schema types:
// string, int64, float64, bool or time.Time.
type Input map[string]any

func (in Input) String(name string) string {
	if s, ok := in[name].(string); ok {
		return s
	}
	return ""
}

func (in Input) Int(name string) int64 {
	if v, ok := in[name].(int64); ok {
		return v
	}
	return 0
}

func (in Input) Float(name string) float64 {
	if v, ok := in[name].(float64); ok {
		return v
	}
	return 0
}

func (in Input) Bool(name string) bool {
	if v, ok := in[name].(bool); ok {
		return v
	}
	return false
}

func (in Input) Time(name string) time.Time {
	if v, ok := in[name].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func (in Input) Has(name string) bool {
	_, ok := in[name]
	return ok
}
