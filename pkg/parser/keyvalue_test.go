package parser

import (
	"context"
	"testing"
)

func TestKeyValueParseCoercesValues(t *testing.T) {
	p := NewKeyValueParser(stubForms{"wp": waterPointForm()}, "csrfmiddlewaretoken")

	parsed, err := p.Parse(context.Background(), map[string]interface{}{
		"form_code":           "WP",
		"id":                  "wp1",
		"age":                 10,
		"name":                []interface{}{"First", "Last"},
		"note":                nil,
		"csrfmiddlewaretoken": "deadbeef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.FormCode != "wp" {
		t.Fatalf("expected form code wp, got %q", parsed.FormCode)
	}
	if parsed.Fields.Has("form_code") {
		t.Fatal("form_code must be removed from the field map")
	}
	if parsed.Fields.Has("csrfmiddlewaretoken") {
		t.Fatal("csrf token must be stripped")
	}
	if v, _ := parsed.Fields.Get("age"); v != "10" {
		t.Fatalf("expected number stringified, got %q", v)
	}
	if v, _ := parsed.Fields.Get("name"); v != "FirstLast" {
		t.Fatalf("expected sequence concatenated, got %q", v)
	}
	if v, ok := parsed.Fields.Get("note"); !ok || v != "" {
		t.Fatalf("expected nil preserved as empty, got %q ok=%v", v, ok)
	}
}

func TestKeyValueParseFloatFormatting(t *testing.T) {
	p := NewKeyValueParser(stubForms{"wp": waterPointForm()}, "")

	parsed, err := p.Parse(context.Background(), map[string]interface{}{
		"form_code": "wp",
		"age":       10.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := parsed.Fields.Get("age"); v != "10.5" {
		t.Fatalf("expected locale-independent decimal, got %q", v)
	}
}

func TestKeyValueParseMissingFormCode(t *testing.T) {
	p := NewKeyValueParser(stubForms{"wp": waterPointForm()}, "")

	if _, err := p.Parse(context.Background(), map[string]interface{}{"id": "1"}); !IsFormatError(err) {
		t.Fatalf("expected format error, got %v", err)
	}
	if _, err := p.Parse(context.Background(), nil); !IsFormatError(err) {
		t.Fatalf("expected format error for nil payload, got %v", err)
	}
}
