package form

import (
	"errors"
	"fmt"

	"github.com/fieldscope/collect/pkg/common/models"
)

// Kind distinguishes what a form's submissions do to entities.
type Kind string

const (
	KindData               Kind = "data"                // observational data about an existing entity
	KindEntityRegistration Kind = "entity-registration" // creates/updates entities of one type
	KindGlobalRegistration Kind = "global-registration" // creates entities of any declared type
)

var (
	ErrFormNotFound = errors.New("form definition not found")
	ErrFormInactive = errors.New("form is inactive")
)

// FormDefinition is one named, versioned questionnaire. A pipeline run binds
// to exactly one revision snapshot; edits bump Revision and invalidate the
// cache, they never mutate a snapshot a run already holds.
type FormDefinition struct {
	FormCode    string          `json:"form_code" yaml:"form_code"`
	Name        string          `json:"name" yaml:"name"`
	Revision    int             `json:"revision" yaml:"revision"`
	Kind        Kind            `json:"kind" yaml:"kind"`
	EntityTypes []string        `json:"entity_types" yaml:"entity_types"`
	Fields      []FieldSchema   `json:"fields" yaml:"fields"`
	Validators  []ValidatorKind `json:"validators" yaml:"validators"`
	Active      bool            `json:"active" yaml:"active"`
}

// Normalize folds codes and checks the structural invariants: unique field
// codes (case-insensitive) and at most one entity-link field on data forms.
func (d *FormDefinition) Normalize() error {
	d.FormCode = models.Fold(d.FormCode)
	if d.FormCode == "" {
		return errors.New("form code is required")
	}
	if d.Kind == "" {
		d.Kind = KindData
	}

	seen := make(map[string]struct{}, len(d.Fields))
	links := 0
	for i := range d.Fields {
		code := models.Fold(d.Fields[i].Code)
		if code == "" {
			return fmt.Errorf("form %s: field %d has no code", d.FormCode, i)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("form %s: duplicate field code %s", d.FormCode, code)
		}
		seen[code] = struct{}{}
		d.Fields[i].Code = code
		if d.Fields[i].EntityLink {
			links++
		}
	}
	if d.Kind == KindData && links > 1 {
		return fmt.Errorf("form %s: more than one entity link field", d.FormCode)
	}
	return nil
}

// Field resolves a field schema by code, case-insensitively.
func (d *FormDefinition) Field(code string) (FieldSchema, bool) {
	key := models.Fold(code)
	for _, f := range d.Fields {
		if f.Code == key {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// EntityLinkField returns the field holding the subject's short code.
func (d *FormDefinition) EntityLinkField() (FieldSchema, bool) {
	for _, f := range d.Fields {
		if f.EntityLink {
			return f, true
		}
	}
	return FieldSchema{}, false
}

func (d *FormDefinition) IsRegistration() bool {
	return d.Kind == KindEntityRegistration || d.Kind == KindGlobalRegistration
}

// EntityType returns the primary entity type governed by this form.
func (d *FormDefinition) EntityType() string {
	if len(d.EntityTypes) == 0 {
		return ""
	}
	return d.EntityTypes[0]
}
