package form

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
)

// FieldType enumerates the answerable question kinds.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeInteger  FieldType = "integer"
	TypeSelect1  FieldType = "select1"
	TypeSelect   FieldType = "select"
	TypeDate     FieldType = "date"
	TypeTime     FieldType = "time"
	TypeDateTime FieldType = "datetime"
	TypeGeocode  FieldType = "geocode"
	TypeMedia    FieldType = "media"
	TypeFieldSet FieldType = "fieldset"
)

type Option struct {
	Code  string `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
}

// Constraints carries the type-specific limits of one field. Zero values
// mean "unconstrained".
type Constraints struct {
	MinLength *int          `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int          `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Min       *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern   string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Options   []Option      `json:"options,omitempty" yaml:"options,omitempty"`
	Format    string        `json:"format,omitempty" yaml:"format,omitempty"` // Go time layout
	Children  []FieldSchema `json:"children,omitempty" yaml:"children,omitempty"`
}

// FieldSchema describes one answerable question of a form revision. It is
// immutable once the revision is published.
type FieldSchema struct {
	Code        string      `json:"code" yaml:"code"`
	Name        string      `json:"name" yaml:"name"`
	Type        FieldType   `json:"type" yaml:"type"`
	Required    bool        `json:"required" yaml:"required"`
	EntityLink  bool        `json:"entity_link" yaml:"entity_link"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`
}

// ConstraintError reports one violated field constraint. Its message is what
// a submitter sees, keyed by the field code in the pipeline's error map.
type ConstraintError struct {
	Code   string
	Reason string
}

func (e ConstraintError) Error() string {
	return e.Reason
}

func (f FieldSchema) fail(format string, args ...interface{}) error {
	return ConstraintError{Code: models.Fold(f.Code), Reason: fmt.Sprintf(format, args...)}
}

// Validate coerces one raw answer into its typed value, or returns a
// ConstraintError describing the violation. Field-set answers arrive as a
// JSON array of code->value objects, one per repeat.
func (f FieldSchema) Validate(raw string) (interface{}, error) {
	value := strings.TrimSpace(raw)
	switch f.Type {
	case TypeText:
		return f.validateText(value)
	case TypeInteger:
		return f.validateInteger(value)
	case TypeSelect1:
		return f.validateSelect(value, true)
	case TypeSelect:
		return f.validateSelect(value, false)
	case TypeDate, TypeTime, TypeDateTime:
		return f.validateTemporal(value)
	case TypeGeocode:
		return ParseGeocode(value)
	case TypeMedia:
		if value == "" {
			return nil, f.fail("Answer for media question is blank")
		}
		return value, nil
	case TypeFieldSet:
		return f.validateFieldSet(raw)
	default:
		return nil, f.fail("Unknown field type %q", f.Type)
	}
}

func (f FieldSchema) validateText(value string) (interface{}, error) {
	c := f.Constraints
	if c.MinLength != nil && len(value) < *c.MinLength {
		return nil, f.fail("Answer %s for question %s is shorter than allowed.", value, f.Code)
	}
	if c.MaxLength != nil && len(value) > *c.MaxLength {
		return nil, f.fail("Answer %s for question %s is longer than allowed.", value, f.Code)
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, f.fail("Question %s has an invalid pattern", f.Code)
		}
		if !re.MatchString(value) {
			return nil, f.fail("Answer %s for question %s does not match the expected pattern.", value, f.Code)
		}
	}
	return value, nil
}

func (f FieldSchema) validateInteger(value string) (interface{}, error) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, f.fail("Answer %s for question %s is not a number.", value, f.Code)
	}
	c := f.Constraints
	if c.Min != nil && n < *c.Min {
		return nil, f.fail("Answer %s for question %s is smaller than allowed.", value, f.Code)
	}
	if c.Max != nil && n > *c.Max {
		return nil, f.fail("Answer %s for question %s is greater than allowed.", value, f.Code)
	}
	return n, nil
}

func (f FieldSchema) validateSelect(value string, single bool) (interface{}, error) {
	if value == "" {
		return nil, f.fail("Answer for question %s is blank", f.Code)
	}
	allowed := make(map[string]struct{}, len(f.Constraints.Options))
	for _, opt := range f.Constraints.Options {
		allowed[models.Fold(opt.Code)] = struct{}{}
	}

	picks := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == ','
	})
	seen := make(map[string]struct{}, len(picks))
	var cleaned []string
	for _, p := range picks {
		code := models.Fold(p)
		if _, ok := allowed[code]; !ok {
			return nil, f.fail("Answer %s for question %s is not a valid choice.", p, f.Code)
		}
		if _, dup := seen[code]; dup {
			return nil, f.fail("Answer %s for question %s was chosen more than once.", p, f.Code)
		}
		seen[code] = struct{}{}
		cleaned = append(cleaned, code)
	}
	if single {
		if len(cleaned) != 1 {
			return nil, f.fail("Question %s accepts exactly one answer.", f.Code)
		}
		return cleaned[0], nil
	}
	return cleaned, nil
}

func (f FieldSchema) validateTemporal(value string) (interface{}, error) {
	layout := f.Constraints.Format
	if layout == "" {
		layout = defaultLayout(f.Type)
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return nil, f.fail("Answer %s for question %s doesn't match the expected format %s.", value, f.Code, layout)
	}
	return t, nil
}

func defaultLayout(t FieldType) string {
	switch t {
	case TypeDate:
		return "02.01.2006"
	case TypeTime:
		return "15:04"
	default:
		return "02.01.2006 15:04"
	}
}

func (f FieldSchema) validateFieldSet(raw string) (interface{}, error) {
	var repeats []map[string]string
	if err := json.Unmarshal([]byte(raw), &repeats); err != nil {
		return nil, f.fail("Answer for question %s is not a valid group of answers.", f.Code)
	}

	children := make(map[string]FieldSchema, len(f.Constraints.Children))
	for _, child := range f.Constraints.Children {
		children[models.Fold(child.Code)] = child
	}

	// A child answered more than once inside one repeat is caught upstream,
	// at parse time, where the duplicate is still observable.
	cleaned := make([]map[string]interface{}, 0, len(repeats))
	for _, repeat := range repeats {
		row := make(map[string]interface{}, len(repeat))
		for code, answer := range repeat {
			key := models.Fold(code)
			child, ok := children[key]
			if !ok {
				continue
			}
			typed, err := child.Validate(answer)
			if err != nil {
				return nil, err
			}
			row[key] = typed
		}
		for code, child := range children {
			if !child.Required {
				continue
			}
			if _, ok := row[code]; !ok {
				return nil, f.fail("No answer was given to required question %s within %s.", code, f.Code)
			}
		}
		cleaned = append(cleaned, row)
	}
	return cleaned, nil
}

// ParseGeocode accepts "lat long" or "lat,long" free text and returns the
// coordinate pair.
func ParseGeocode(value string) ([2]float64, error) {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(parts) != 2 {
		return [2]float64{}, ConstraintError{Reason: fmt.Sprintf("Answer %s is not a valid geocode.", value)}
	}
	lat, err1 := strconv.ParseFloat(parts[0], 64)
	lng, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return [2]float64{}, ConstraintError{Reason: fmt.Sprintf("Answer %s is not a valid geocode.", value)}
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return [2]float64{}, ConstraintError{Reason: fmt.Sprintf("Geocode %s is out of range.", value)}
	}
	return [2]float64{lat, lng}, nil
}
