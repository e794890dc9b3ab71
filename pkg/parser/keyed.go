package parser

import (
	"context"
	"regexp"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
)

// keyed SMS grammar: "FORMCODE .code1 value1 .code2 value2 value2b"
var keyedPrefix = regexp.MustCompile(`^\w+\s+\.\w+\s+\w+`)

const fieldSeparator = " ."

// LooksKeyed reports whether an SMS payload matches the keyword grammar;
// anything else on the SMS channel is tried as an ordered message.
func LooksKeyed(text string) bool {
	return keyedPrefix.MatchString(strings.TrimSpace(text))
}

// KeyedTextParser parses keyword SMS messages. Field codes are case-folded;
// values keep their internal whitespace. Codes the form does not declare are
// tolerated and collected into Extras so legacy senders survive form edits.
type KeyedTextParser struct {
	forms DefinitionSource
}

func NewKeyedTextParser(forms DefinitionSource) *KeyedTextParser {
	return &KeyedTextParser{forms: forms}
}

func (p *KeyedTextParser) Parse(ctx context.Context, text string) (Parsed, error) {
	message := strings.TrimSpace(text)
	if !keyedPrefix.MatchString(message) {
		return Parsed{}, FormatError{Message: "message does not match the keyword sms format"}
	}

	tokens := strings.Split(message, fieldSeparator)
	formCode := models.Fold(strings.TrimSpace(tokens[0]))

	fields := models.NewFieldMap()
	var raw [][2]string
	for _, token := range tokens[1:] {
		if strings.Trim(token, ". ") == "" {
			continue
		}
		code, value := splitToken(token)
		if code == "" {
			continue
		}
		raw = append(raw, [2]string{code, value})
	}

	for _, pair := range raw {
		if fields.Has(pair[0]) {
			return Parsed{}, DuplicateFieldError{Code: pair[0]}
		}
		fields.Set(pair[0], pair[1])
	}

	def, err := p.forms.Resolve(ctx, formCode)
	if err != nil {
		return Parsed{}, err
	}

	var extras []string
	for _, code := range fields.Codes() {
		if _, known := def.Field(code); !known {
			value, _ := fields.Get(code)
			extras = append(extras, strings.TrimSpace(code+" "+value))
			fields.Delete(code)
		}
	}

	return Parsed{FormCode: formCode, Def: def, Fields: fields, Extras: extras}, nil
}

// splitToken takes one ".code value..." token (leading dot already consumed
// by the separator split) and returns the folded code and the value with
// only its leading space removed.
func splitToken(token string) (string, string) {
	token = strings.TrimPrefix(token, ".")
	idx := strings.IndexAny(token, " \t")
	if idx < 0 {
		return models.Fold(token), ""
	}
	code := models.Fold(token[:idx])
	return code, strings.TrimLeft(token[idx:], " \t")
}
