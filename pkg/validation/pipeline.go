// Package validation runs a parsed field map through a form definition's
// validators and per-field type checks, accumulating every problem instead
// of stopping at the first.
package validation

import (
	"context"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/form"
)

type Pipeline struct {
	entities     form.EntityChecker
	reporterType string
}

func NewPipeline(entities form.EntityChecker, reporterType string) *Pipeline {
	return &Pipeline{entities: entities, reporterType: reporterType}
}

// Validate returns the typed cleaned values and a field-code-keyed error
// map. An empty error map means the submission is valid. A field's cleaned
// value is emitted only when no error is recorded under its code, and
// re-validating already-clean values yields identical output.
func (p *Pipeline) Validate(ctx context.Context, fields *models.FieldMap, def *form.FormDefinition) (map[string]interface{}, map[string]string) {
	errs := form.RunValidators(ctx, form.ValidationInput{
		Def:          def,
		Fields:       fields,
		Entities:     p.entities,
		ReporterType: p.reporterType,
	})

	cleaned := make(map[string]interface{})
	for _, code := range fields.Codes() {
		raw, _ := fields.Get(code)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		field, known := def.Field(code)
		if !known {
			continue
		}

		typed, err := field.Validate(raw)
		if err != nil {
			errs[code] = err.Error()
			continue
		}
		if _, bad := errs[code]; bad {
			continue
		}
		cleaned[code] = typed
	}

	return cleaned, errs
}
