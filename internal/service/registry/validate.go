package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var typeTags = map[FieldType]string{
	TypeString: "",
	TypeInt:    "number",
	TypeNumber: "numeric",
	TypeBool:   "boolean",
	TypeDate:   "datetime=" + DateLayout,
	TypeTime:   "datetime=" + TimeLayout,
}

// validateInput checks raw session values against the schema and coerces
// them. All failing fields are collected.
func validateInput(v *validator.Validate, d Descriptor, raw map[string]any) (Input, error) {
	names := make([]string, 0, len(d.Schema))
	for name := range d.Schema {
		names = append(names, name)
	}
	sort.Strings(names)

	in := make(Input, len(names))
	var fields []FieldError

	for _, name := range names {
		field := d.Schema[name]
		str := stringify(raw[name])

		if str == "" {
			if field.Required {
				fields = append(fields, FieldError{Field: name, Rule: RuleRequired})
			}
			continue
		}

		tag, known := typeTags[field.Type]
		if !known {
			fields = append(fields, FieldError{Field: name, Rule: RuleType, Param: string(field.Type)})
			continue
		}
		// format failures are reported under the field type, not the
		// validator tag that caught them
		if tag != "" && check(v, name, str, tag) != nil {
			fields = append(fields, FieldError{Field: name, Rule: string(field.Type)})
			continue
		}

		value, err := coerce(field.Type, str)
		if err != nil {
			fields = append(fields, FieldError{Field: name, Rule: string(field.Type)})
			continue
		}

		if field.Rules != "" && field.Type != TypeDate && field.Type != TypeTime {
			if fe := check(v, name, value, field.Rules); fe != nil {
				fields = append(fields, *fe)
				continue
			}
		}
		in[name] = value
	}

	if len(fields) > 0 {
		return nil, &ValidationError{ServiceID: d.ID, Fields: fields}
	}
	return in, nil
}

// Rules lists every FieldError.Rule validation of d can produce.
func (d Descriptor) Rules() []string {
	set := map[string]struct{}{RuleInvalid: {}}
	for _, field := range d.Schema {
		if field.Required {
			set[RuleRequired] = struct{}{}
		}
		if _, known := typeTags[field.Type]; !known {
			set[RuleType] = struct{}{}
		} else if field.Type != TypeString {
			set[string(field.Type)] = struct{}{}
		}
		if field.Rules == "" || field.Type == TypeDate || field.Type == TypeTime {
			continue
		}
		for _, tag := range strings.Split(field.Rules, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(tag), "=")
			if name != "" && name != "omitempty" {
				set[name] = struct{}{}
			}
		}
	}
	rules := make([]string, 0, len(set))
	for r := range set {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	return rules
}

func check(v *validator.Validate, name string, value any, tag string) *FieldError {
	err := v.Var(value, tag)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &FieldError{Field: name, Rule: ve[0].Tag(), Param: ve[0].Param()}
	}
	return &FieldError{Field: name, Rule: RuleInvalid}
}

func coerce(t FieldType, s string) (any, error) {
	switch t {
	case TypeInt:
		return strconv.ParseInt(s, 10, 64)
	case TypeNumber:
		return strconv.ParseFloat(s, 64)
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeDate:
		return time.Parse(DateLayout, s)
	case TypeTime:
		return time.Parse(TimeLayout, s)
	default:
		return s, nil
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case time.Time:
		return val.Format(DateLayout)
	default:
		return fmt.Sprint(val)
	}
}
