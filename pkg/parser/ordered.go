package parser

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/form"
)

// ordered SMS grammar: "FORMCODE val1 val2 val3"
var orderedPrefix = regexp.MustCompile(`^\S+\s+\S+`)

// OrderedTextParser maps whitespace-separated tokens positionally onto the
// form's field order. An unrecognized leading token falls back to the
// configured poll form, which swallows the whole remainder as one free-text
// answer; see the product note in DESIGN.md before tightening this.
type OrderedTextParser struct {
	forms        DefinitionSource
	pollFormCode string
}

func NewOrderedTextParser(forms DefinitionSource, pollFormCode string) *OrderedTextParser {
	return &OrderedTextParser{forms: forms, pollFormCode: models.Fold(pollFormCode)}
}

func (p *OrderedTextParser) Parse(ctx context.Context, text string) (Parsed, error) {
	message := strings.TrimSpace(text)
	if !orderedPrefix.MatchString(message) {
		return Parsed{}, FormatError{Message: "message does not match the ordered sms format"}
	}

	tokens := strings.Fields(message)
	formCode := models.Fold(tokens[0])

	def, err := p.forms.Resolve(ctx, formCode)
	if errors.Is(err, form.ErrFormNotFound) && p.pollFormCode != "" {
		return p.parsePoll(ctx, message)
	}
	if err != nil {
		return Parsed{}, err
	}

	fields := models.NewFieldMap()
	var extras []string
	for i, value := range tokens[1:] {
		if i < len(def.Fields) {
			fields.Set(def.Fields[i].Code, value)
			continue
		}
		extras = append(extras, value)
	}

	return Parsed{FormCode: formCode, Def: def, Fields: fields, Extras: extras}, nil
}

// parsePoll treats the entire message as one free-text answer to the poll
// form's first field.
func (p *OrderedTextParser) parsePoll(ctx context.Context, message string) (Parsed, error) {
	def, err := p.forms.Resolve(ctx, p.pollFormCode)
	if err != nil {
		return Parsed{}, err
	}
	fields := models.NewFieldMap()
	if len(def.Fields) > 0 {
		fields.Set(def.Fields[0].Code, message)
	}
	return Parsed{FormCode: p.pollFormCode, Def: def, Fields: fields}, nil
}
