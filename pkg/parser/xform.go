package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"path"
	"strings"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/form"
)

// StructuredXmlParser handles ODK/XForm submissions. The nested instance
// document is flattened one level: leaf elements become scalar answers,
// repeat groups become ordered sequences of sub-maps bound to field-set
// questions. Values are post-processed into the shape each field type's
// validation expects.
type StructuredXmlParser struct {
	forms DefinitionSource
}

func NewStructuredXmlParser(forms DefinitionSource) *StructuredXmlParser {
	return &StructuredXmlParser{forms: forms}
}

// ODK wire formats for temporal answers, tried in order.
var odkTemporalLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02",
	"15:04:05.000-07:00",
	"15:04:05",
}

type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

func (p *StructuredXmlParser) Parse(ctx context.Context, payload []byte) (Parsed, error) {
	root, err := decodeXML(payload)
	if err != nil {
		return Parsed{}, FormatError{Message: "submission is not well-formed xml"}
	}

	scalars := models.NewFieldMap()
	groups := make(map[string][]map[string]string)
	var groupOrder []string

	formCode := ""
	for _, child := range root.children {
		code := models.Fold(child.name)
		if code == formCodeKey {
			formCode = models.Fold(child.text)
			continue
		}
		if len(child.children) == 0 {
			if scalars.Has(code) {
				return Parsed{}, DuplicateFieldError{Code: code}
			}
			scalars.Set(code, strings.TrimSpace(child.text))
			continue
		}
		repeat := make(map[string]string, len(child.children))
		for _, sub := range child.children {
			subCode := models.Fold(sub.name)
			if _, dup := repeat[subCode]; dup {
				return Parsed{}, DuplicateFieldError{Code: subCode}
			}
			repeat[subCode] = strings.TrimSpace(flattenText(sub))
		}
		if _, seen := groups[code]; !seen {
			groupOrder = append(groupOrder, code)
		}
		groups[code] = append(groups[code], repeat)
	}

	if formCode == "" {
		return Parsed{}, FormatError{Message: "submission has no form_code element"}
	}

	def, err := p.forms.Resolve(ctx, formCode)
	if err != nil {
		return Parsed{}, err
	}

	fields := models.NewFieldMap()
	var extras []string
	for _, code := range scalars.Codes() {
		value, _ := scalars.Get(code)
		field, known := def.Field(code)
		if !known {
			if value != "" {
				extras = append(extras, value)
			}
			continue
		}
		fields.Set(code, reshapeValue(field, value))
	}
	for _, code := range groupOrder {
		field, known := def.Field(code)
		if !known || field.Type != form.TypeFieldSet {
			continue
		}
		repeats := groups[code]
		for _, repeat := range repeats {
			for childCode, value := range repeat {
				if child, ok := childField(field, childCode); ok {
					repeat[childCode] = reshapeValue(child, value)
				}
			}
		}
		encoded, err := json.Marshal(repeats)
		if err != nil {
			return Parsed{}, FormatError{Message: "could not encode repeat group " + code}
		}
		fields.Set(code, string(encoded))
	}

	return Parsed{FormCode: formCode, Def: def, Fields: fields, Extras: extras}, nil
}

// reshapeValue converts ODK wire values into what the field's validation
// expects: geocodes become "lat,long", temporal answers are reformatted to
// the declared layout, media answers keep the attachment file name only.
func reshapeValue(field form.FieldSchema, value string) string {
	if value == "" {
		return value
	}
	switch field.Type {
	case form.TypeGeocode:
		parts := strings.Fields(value)
		// ODK sends "lat long alt accuracy"; only the coordinate pair matters.
		if len(parts) >= 2 {
			return parts[0] + "," + parts[1]
		}
		return value
	case form.TypeDate, form.TypeTime, form.TypeDateTime:
		layout := field.Constraints.Format
		if layout == "" {
			return value
		}
		for _, wire := range odkTemporalLayouts {
			if t, err := time.Parse(wire, value); err == nil {
				return t.Format(layout)
			}
		}
		return value
	case form.TypeMedia:
		return path.Base(strings.ReplaceAll(value, "\\", "/"))
	default:
		return value
	}
}

func childField(field form.FieldSchema, code string) (form.FieldSchema, bool) {
	for _, child := range field.Constraints.Children {
		if models.Fold(child.Code) == models.Fold(code) {
			return child, true
		}
	}
	return form.FieldSchema{}, false
}

func decodeXML(payload []byte) (*xmlNode, error) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var root *xmlNode
	var stack []*xmlNode
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// flattenText joins the text content of a node and its descendants; used for
// repeat-group leaves that themselves wrap a single value element.
func flattenText(node *xmlNode) string {
	if len(node.children) == 0 {
		return node.text
	}
	var b strings.Builder
	b.WriteString(node.text)
	for _, child := range node.children {
		b.WriteString(flattenText(child))
	}
	return b.String()
}
