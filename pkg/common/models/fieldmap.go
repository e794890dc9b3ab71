package models

import "strings"

// FieldMap is an ordered field-code -> raw-value map. Codes are folded to
// lower case on every write and read, so lookups are case-insensitive while
// the original submission order is preserved for positional channels and for
// audit serialization.
type FieldMap struct {
	codes  []string
	values map[string]string
}

func NewFieldMap() *FieldMap {
	return &FieldMap{values: make(map[string]string)}
}

// FieldMapFrom builds a FieldMap from code/value pairs in the given order.
func FieldMapFrom(pairs ...[2]string) *FieldMap {
	fm := NewFieldMap()
	for _, p := range pairs {
		fm.Set(p[0], p[1])
	}
	return fm
}

// Set stores value under the folded code. Overwriting an existing code keeps
// its original position.
func (fm *FieldMap) Set(code, value string) {
	key := Fold(code)
	if _, ok := fm.values[key]; !ok {
		fm.codes = append(fm.codes, key)
	}
	fm.values[key] = value
}

func (fm *FieldMap) Get(code string) (string, bool) {
	v, ok := fm.values[Fold(code)]
	return v, ok
}

func (fm *FieldMap) Has(code string) bool {
	_, ok := fm.values[Fold(code)]
	return ok
}

func (fm *FieldMap) Delete(code string) {
	key := Fold(code)
	if _, ok := fm.values[key]; !ok {
		return
	}
	delete(fm.values, key)
	for i, c := range fm.codes {
		if c == key {
			fm.codes = append(fm.codes[:i], fm.codes[i+1:]...)
			break
		}
	}
}

// Codes returns field codes in insertion order.
func (fm *FieldMap) Codes() []string {
	out := make([]string, len(fm.codes))
	copy(out, fm.codes)
	return out
}

func (fm *FieldMap) Len() int {
	return len(fm.codes)
}

// Values returns a plain map copy, losing order. Used when serializing into
// JSONMap columns.
func (fm *FieldMap) Values() map[string]string {
	out := make(map[string]string, len(fm.values))
	for k, v := range fm.values {
		out[k] = v
	}
	return out
}

// Fold is the single case-folding rule applied to field and form codes.
func Fold(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
