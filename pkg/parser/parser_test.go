package parser

import (
	"context"

	"github.com/fieldscope/collect/pkg/form"
)

// stubForms resolves form codes from a fixed map, standing in for the
// cache-backed form service.
type stubForms map[string]*form.FormDefinition

func (s stubForms) Resolve(_ context.Context, formCode string) (*form.FormDefinition, error) {
	if def, ok := s[formCode]; ok {
		return def, nil
	}
	return nil, form.ErrFormNotFound
}

func waterPointForm() *form.FormDefinition {
	def := &form.FormDefinition{
		FormCode: "wp",
		Kind:     form.KindData,
		Fields: []form.FieldSchema{
			{Code: "id", Name: "Water point id", Type: form.TypeText, EntityLink: true},
			{Code: "name", Name: "Name", Type: form.TypeText},
			{Code: "age", Name: "Age", Type: form.TypeInteger},
		},
		Active: true,
	}
	if err := def.Normalize(); err != nil {
		panic(err)
	}
	return def
}
