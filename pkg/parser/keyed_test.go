package parser

import (
	"context"
	"errors"
	"testing"
)

func TestKeyedParseFoldsCodesAndPreservesValueWhitespace(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	parsed, err := p.Parse(context.Background(), "WP .ID 1 .NAME FirstName LastName .AGE 10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.FormCode != "wp" {
		t.Fatalf("expected form code wp, got %q", parsed.FormCode)
	}

	want := map[string]string{"id": "1", "name": "FirstName LastName", "age": "10"}
	for code, expected := range want {
		got, ok := parsed.Fields.Get(code)
		if !ok {
			t.Fatalf("missing field %q", code)
		}
		if got != expected {
			t.Fatalf("field %q: expected %q, got %q", code, expected, got)
		}
	}
	if len(parsed.Extras) != 0 {
		t.Fatalf("expected no extras, got %v", parsed.Extras)
	}
}

func TestKeyedParseMixedCaseCodes(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	parsed, err := p.Parse(context.Background(), "wp .Id 2 .NaMe x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := parsed.Fields.Get("ID"); v != "2" {
		t.Fatalf("case-insensitive lookup failed, got %q", v)
	}
}

func TestKeyedParseDuplicateFieldCode(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	_, err := p.Parse(context.Background(), "WP .NAME a .NAME b")
	if err == nil {
		t.Fatal("expected duplicate field error")
	}
	if !IsDuplicateFieldError(err) {
		t.Fatalf("expected DuplicateFieldError, got %T", err)
	}
	var dup DuplicateFieldError
	if !errors.As(err, &dup) || dup.Code != "name" {
		t.Fatalf("expected duplicate code name, got %+v", err)
	}
}

func TestKeyedParseUnknownCodesBecomeExtras(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	parsed, err := p.Parse(context.Background(), "WP .ID 1 .LEGACY old value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Fields.Has("legacy") {
		t.Fatal("unknown code should not stay in the field map")
	}
	if len(parsed.Extras) != 1 || parsed.Extras[0] != "legacy old value" {
		t.Fatalf("expected one extra, got %v", parsed.Extras)
	}
}

func TestKeyedParseRejectsWrongGrammar(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	for _, msg := range []string{"", "WP", "WP name age", ".ID 1"} {
		if _, err := p.Parse(context.Background(), msg); !IsFormatError(err) {
			t.Fatalf("message %q: expected format error, got %v", msg, err)
		}
	}
}

func TestKeyedParseDiscardsSeparatorOnlyTokens(t *testing.T) {
	p := NewKeyedTextParser(stubForms{"wp": waterPointForm()})

	parsed, err := p.Parse(context.Background(), "WP .ID 1 . .NAME x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Fields.Len() != 2 {
		t.Fatalf("expected 2 fields, got %d (%v)", parsed.Fields.Len(), parsed.Fields.Codes())
	}
}
