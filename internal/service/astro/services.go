// Package astro holds the reference calculators registered at boot.
package astro

import (
	"context"
	"fmt"
	"time"

	"AstroBot/internal/service/registry"
)

const (
	HoroscopeID = "horoscope_calc"
	SunSignID   = "sun_sign"
	LifePathID  = "life_path"
	ReadingID   = "ai_reading"
)

var birthSchema = registry.Schema{
	"birth_date": {Type: registry.TypeDate, Required: true},
}

// Horoscope returns the sun sign and today's prediction.
type Horoscope struct {
	now func() time.Time
}

func NewHoroscope() *Horoscope {
	return &Horoscope{now: time.Now}
}

func (h *Horoscope) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        HoroscopeID,
		Schema:    birthSchema,
		NameKey:   "services.horoscope_calc.name",
		HelpKey:   "services.horoscope_calc.help",
		ResultKey: "services.horoscope_calc.result",
	}
}

func (h *Horoscope) Execute(_ context.Context, in registry.Input) (registry.Result, error) {
	sign := SunSign(in.Time("birth_date"))
	return registry.Result{
		"sign":       sign.Name,
		"prediction": DailyPrediction(sign, h.now()),
	}, nil
}

func (h *Horoscope) Probe(context.Context) error { return nil }

// SunSignService describes the sign itself.
type SunSignService struct{}

func (SunSignService) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        SunSignID,
		Schema:    birthSchema,
		NameKey:   "services.sun_sign.name",
		ResultKey: "services.sun_sign.result",
	}
}

func (SunSignService) Execute(_ context.Context, in registry.Input) (registry.Result, error) {
	sign := SunSign(in.Time("birth_date"))
	return registry.Result{
		"sign":    sign.Name,
		"element": sign.Element,
		"ruler":   sign.Ruler,
	}, nil
}

func (SunSignService) Probe(context.Context) error { return nil }

type LifePathService struct{}

func (LifePathService) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        LifePathID,
		Schema:    birthSchema,
		NameKey:   "services.life_path.name",
		ResultKey: "services.life_path.result",
	}
}

func (LifePathService) Execute(_ context.Context, in registry.Input) (registry.Result, error) {
	n := LifePath(in.Time("birth_date"))
	return registry.Result{
		"number": n,
		"trait":  lifePathTraits[n],
	}, nil
}

func (LifePathService) Probe(context.Context) error { return nil }

// Reader is the text generation backend of the reading service.
type Reader interface {
	Reading(ctx context.Context, subject string) (string, error)
	Ready() error
}

// ReadingService asks a language model for a short personal reading.
type ReadingService struct {
	reader Reader
}

func NewReadingService(reader Reader) *ReadingService {
	return &ReadingService{reader: reader}
}

func (s *ReadingService) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		ID: ReadingID,
		Schema: registry.Schema{
			"birth_date": {Type: registry.TypeDate, Required: true},
			"question":   {Type: registry.TypeString, Rules: "max=300"},
		},
		NameKey:   "services.ai_reading.name",
		ResultKey: "services.ai_reading.result",
		Timeout:   15 * time.Second,
	}
}

func (s *ReadingService) Execute(ctx context.Context, in registry.Input) (registry.Result, error) {
	birth := in.Time("birth_date")
	sign := SunSign(birth)
	subject := fmt.Sprintf("Sun sign %s, born %s, life path %d.",
		sign.Name, birth.Format(registry.DateLayout), LifePath(birth))
	if q := in.String("question"); q != "" {
		subject += " Question: " + q
	}

	text, err := s.reader.Reading(ctx, subject)
	if err != nil {
		return nil, &registry.Failure{Code: "reading_unavailable", ResourceKey: "services.ai_reading.unavailable", Err: err}
	}
	return registry.Result{"sign": sign.Name, "reading": text}, nil
}

func (s *ReadingService) Probe(context.Context) error {
	return s.reader.Ready()
}

// All returns every calculator for registration. reader may be nil, in
// which case the reading service is left out.
func All(reader Reader) []registry.Service {
	services := []registry.Service{NewHoroscope(), SunSignService{}, LifePathService{}}
	if reader != nil {
		services = append(services, NewReadingService(reader))
	}
	return services
}
