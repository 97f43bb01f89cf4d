package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type fieldState uint8

const (
	fieldAbsent fieldState = iota
	fieldNull
	fieldSet
)

// Field is an optional text column value. The zero Field is absent, which
// is distinct from an explicit null: absent fields are omitted from the
// encoded entry, null fields encode as JSON null.
type Field struct {
	state fieldState
	value string
}

// Text returns a Field holding s.
func Text(s string) Field {
	return Field{state: fieldSet, value: s}
}

// Null returns a Field that is present with a null value.
func Null() Field {
	return Field{state: fieldNull}
}

// IsZero reports whether the field is absent. It makes `omitzero` drop
// absent fields when encoding.
func (f Field) IsZero() bool { return f.state == fieldAbsent }

// Present reports whether the field was supplied, either null or set.
func (f Field) Present() bool { return f.state != fieldAbsent }

// IsNull reports whether the field was supplied as null.
func (f Field) IsNull() bool { return f.state == fieldNull }

// Value returns the text value and whether it is set.
func (f Field) Value() (string, bool) {
	return f.value, f.state == fieldSet
}

// NonEmpty reports whether the field holds text other than whitespace.
func (f Field) NonEmpty() bool {
	return f.state == fieldSet && strings.TrimSpace(f.value) != ""
}

// Arg returns the value as a database/sql argument: the string when set,
// nil otherwise.
func (f Field) Arg() any {
	if f.state == fieldSet {
		return f.value
	}
	return nil
}

func (f Field) String() string {
	switch f.state {
	case fieldSet:
		return f.value
	case fieldNull:
		return "<null>"
	default:
		return "<absent>"
	}
}

// MarshalJSON encodes a set field as a JSON string and anything else as null.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON accepts a string, a number (kept as its literal text) or null.
// Loosely typed payloads sometimes carry wave numbers as JSON numbers.
func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = Null()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("text field: unsupported value %s", data)
	}
	*f = Text(n.String())
	return nil
}
