package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
)

const formCodeKey = "form_code"

// KeyValueParser handles web and API submissions whose payload is already a
// flat map. Values are coerced to strings: numbers via locale-independent
// decimal formatting, sequences concatenated with no separator, nil as "".
type KeyValueParser struct {
	forms        DefinitionSource
	csrfTokenKey string
}

func NewKeyValueParser(forms DefinitionSource, csrfTokenKey string) *KeyValueParser {
	return &KeyValueParser{forms: forms, csrfTokenKey: csrfTokenKey}
}

func (p *KeyValueParser) Parse(ctx context.Context, values map[string]interface{}) (Parsed, error) {
	if values == nil {
		return Parsed{}, FormatError{Message: "submission payload is empty"}
	}

	rawCode, ok := values[formCodeKey]
	if !ok {
		return Parsed{}, FormatError{Message: "submission has no form_code"}
	}
	formCode := models.Fold(coerce(rawCode))
	if formCode == "" {
		return Parsed{}, FormatError{Message: "submission has no form_code"}
	}

	def, err := p.forms.Resolve(ctx, formCode)
	if err != nil {
		return Parsed{}, err
	}

	fields := models.NewFieldMap()
	for key, value := range values {
		if key == formCodeKey {
			continue
		}
		if p.csrfTokenKey != "" && key == p.csrfTokenKey {
			continue
		}
		fields.Set(key, coerce(value))
	}

	return Parsed{FormCode: formCode, Def: def, Fields: fields}, nil
}

func coerce(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		return strings.Join(v, "")
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			b.WriteString(coerce(item))
		}
		return b.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
