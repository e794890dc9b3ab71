// Package parser turns raw channel payloads into the canonical field map the
// validation pipeline consumes. Each channel has its own grammar; all of them
// produce the same Parsed shape.
package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/form"
)

// Parsed is the channel-independent result of one parse: the governing form
// code, its resolved definition snapshot, the ordered field map, and any
// values the definition has no field for.
type Parsed struct {
	FormCode string
	Def      *form.FormDefinition
	Fields   *models.FieldMap
	Extras   []string
}

// DefinitionSource resolves a form code to its current definition snapshot.
// Implemented by form.Service.
type DefinitionSource interface {
	Resolve(ctx context.Context, formCode string) (*form.FormDefinition, error)
}

// Kind is the closed set of parser variants, one per channel grammar.
type Kind string

const (
	KindKeyedSMS   Kind = "keyed-sms"
	KindOrderedSMS Kind = "ordered-sms"
	KindWeb        Kind = "web"
	KindTabular    Kind = "tabular"
	KindXForm      Kind = "xform"
)

// FormatError reports a payload that does not match its channel's grammar.
type FormatError struct {
	Message string
}

func (e FormatError) Error() string {
	return e.Message
}

func IsFormatError(err error) bool {
	var fe FormatError
	return errors.As(err, &fe)
}

// DuplicateFieldError names a field code supplied more than once in one
// message.
type DuplicateFieldError struct {
	Code string
}

func (e DuplicateFieldError) Error() string {
	return fmt.Sprintf("field %s was supplied more than once", e.Code)
}

func IsDuplicateFieldError(err error) bool {
	var de DuplicateFieldError
	return errors.As(err, &de)
}

// HeaderError reports a malformed tabular header row.
type HeaderError struct {
	Reason string
}

func (e HeaderError) Error() string {
	return e.Reason
}

func IsHeaderError(err error) bool {
	var he HeaderError
	return errors.As(err, &he)
}
