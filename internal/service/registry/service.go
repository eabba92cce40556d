package registry

import (
	"context"
	"time"
)

type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date" // 2006-01-02
	TypeTime   FieldType = "time" // 15:04
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Field declares one input of a service. Rules are extra validator tags
// applied to the typed value, e.g. "min=1,max=9" for an int.
type Field struct {
	Type     FieldType
	Required bool
	Rules    string
}

type Schema map[string]Field

// Descriptor is the registered contract of a service.
type Descriptor struct {
	ID        string
	Schema    Schema
	NameKey   string
	HelpKey   string
	ResultKey string
	Timeout   time.Duration
}

// ResourceKeys lists the bundle keys the descriptor refers to.
func (d Descriptor) ResourceKeys() []string {
	var keys []string
	for _, k := range []string{d.NameKey, d.HelpKey, d.ResultKey} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Result holds template params produced by a service.
type Result map[string]any

// Service is implemented by every pluggable calculator.
type Service interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, in Input) (Result, error)
	// Probe must return quickly; it is always called with a short deadline.
	Probe(ctx context.Context) error
}

// Func adapts plain functions to Service.
type Func struct {
	Desc    Descriptor
	Exec    func(ctx context.Context, in Input) (Result, error)
	ProbeFn func(ctx context.Context) error
}

func (f Func) Descriptor() Descriptor { return f.Desc }

func (f Func) Execute(ctx context.Context, in Input) (Result, error) {
	return f.Exec(ctx, in)
}

func (f Func) Probe(ctx context.Context) error {
	if f.ProbeFn == nil {
		return nil
	}
	return f.ProbeFn(ctx)
}
