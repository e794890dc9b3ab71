package form

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
)

// Conventional registration question codes shared by all registration forms.
const (
	MobileNumberFieldCode = "m"
	LocationFieldCode     = "l"
	GeoCodeFieldCode      = "g"
	EntityTypeFieldCode   = "t"
)

// ValidatorKind is the closed set of form-level validators. Adding one means
// adding a constant and a table entry.
type ValidatorKind string

const (
	ValidatorMandatory        ValidatorKind = "mandatory"
	ValidatorEntityLink       ValidatorKind = "entity-link"
	ValidatorReporterMobile   ValidatorKind = "reporter-mobile"
	ValidatorLocationRequired ValidatorKind = "location-required"
	ValidatorIdentifierExists ValidatorKind = "identifier-exists"
	ValidatorEntityExists     ValidatorKind = "entity-exists"
)

// EntityChecker is the narrow repository view the existence validators need.
// Implemented by the entity repository.
type EntityChecker interface {
	ShortCodeExists(ctx context.Context, entityType, shortCode string) (bool, error)
}

// ValidationInput is what every form-level validator sees: the raw field map
// as parsed off the channel, the definition snapshot, and the entity
// repository for existence checks. ReporterType is the distinguished
// contact entity type.
type ValidationInput struct {
	Def          *FormDefinition
	Fields       *models.FieldMap
	Entities     EntityChecker
	ReporterType string
}

type validatorFunc func(ctx context.Context, in ValidationInput) map[string]string

var validatorTable = map[ValidatorKind]validatorFunc{
	ValidatorMandatory:        validateMandatory,
	ValidatorEntityLink:       validateEntityLink,
	ValidatorReporterMobile:   validateReporterMobile,
	ValidatorLocationRequired: validateLocationRequired,
	ValidatorIdentifierExists: validateIdentifierExists,
	ValidatorEntityExists:     validateEntityExists,
}

// RunValidators applies the definition's validators in declaration order and
// merges their error maps; a later validator's message wins for a code both
// produce.
func RunValidators(ctx context.Context, in ValidationInput) map[string]string {
	errs := make(map[string]string)
	for _, kind := range in.Def.Validators {
		fn, ok := validatorTable[kind]
		if !ok {
			continue
		}
		for code, msg := range fn(ctx, in) {
			errs[models.Fold(code)] = msg
		}
	}
	return errs
}

func blank(fields *models.FieldMap, code string) bool {
	v, ok := fields.Get(code)
	return !ok || strings.TrimSpace(v) == ""
}

func validateMandatory(_ context.Context, in ValidationInput) map[string]string {
	errs := make(map[string]string)
	for _, f := range in.Def.Fields {
		if f.Required && blank(in.Fields, f.Code) {
			errs[f.Code] = fmt.Sprintf("Answer for question %s is required", f.Code)
		}
	}
	return errs
}

func validateEntityLink(_ context.Context, in ValidationInput) map[string]string {
	link, ok := in.Def.EntityLinkField()
	if !ok {
		return nil
	}
	if blank(in.Fields, link.Code) {
		return map[string]string{link.Code: "The subject's unique identifier is required"}
	}
	return nil
}

func validateReporterMobile(_ context.Context, in ValidationInput) map[string]string {
	if !in.Def.IsRegistration() {
		return nil
	}
	entityType, _ := in.Fields.Get(EntityTypeFieldCode)
	if entityType == "" {
		entityType = in.Def.EntityType()
	}
	if models.Fold(entityType) != models.Fold(in.ReporterType) {
		return nil
	}
	if blank(in.Fields, MobileNumberFieldCode) {
		return map[string]string{MobileNumberFieldCode: "Mobile number is required for a reporter"}
	}
	return nil
}

func validateLocationRequired(_ context.Context, in ValidationInput) map[string]string {
	if !blank(in.Fields, LocationFieldCode) || !blank(in.Fields, GeoCodeFieldCode) {
		return nil
	}
	return map[string]string{
		LocationFieldCode: "Either a location name or a geo code answer is required",
	}
}

// validateIdentifierExists checks the entity-link answer against the form's
// primary entity type. Data submissions must never reference an unknown
// subject.
func validateIdentifierExists(ctx context.Context, in ValidationInput) map[string]string {
	link, ok := in.Def.EntityLinkField()
	if !ok {
		return nil
	}
	code, ok := in.Fields.Get(link.Code)
	if !ok || strings.TrimSpace(code) == "" {
		return nil
	}
	exists, err := in.Entities.ShortCodeExists(ctx, in.Def.EntityType(), models.Fold(code))
	if err != nil {
		return map[string]string{link.Code: "Could not verify the subject's unique identifier"}
	}
	if !exists {
		return map[string]string{link.Code: fmt.Sprintf("%s with identifier %s does not exist", in.Def.EntityType(), code)}
	}
	return nil
}

// validateEntityExists resolves cross-entity references: any field whose code
// names one of the form's declared entity types must point at an existing
// entity of that type.
func validateEntityExists(ctx context.Context, in ValidationInput) map[string]string {
	errs := make(map[string]string)
	for _, entityType := range in.Def.EntityTypes {
		code := models.Fold(entityType)
		value, ok := in.Fields.Get(code)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		exists, err := in.Entities.ShortCodeExists(ctx, entityType, models.Fold(value))
		if err != nil {
			errs[code] = "Could not verify the referenced " + entityType
			continue
		}
		if !exists {
			errs[code] = fmt.Sprintf("%s with identifier %s does not exist", entityType, value)
		}
	}
	return errs
}
