// Package codec converts queue entries between their JSON wire form and the
// typed variants of types.Entry, and normalizes optional fields.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// Decode reads one wire entry. The "type" discriminator selects the variant;
// a missing or unknown discriminator returns types.ErrUnknownEntryType.
// Required fields are not checked here: the writer validates at apply time.
func Decode(raw []byte) (types.Entry, error) {
	var head struct {
		Type types.Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	switch head.Type {
	case types.KindInsertCase:
		var e types.InsertCase
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return e, nil
	case types.KindUpdateCase:
		var e types.UpdateCase
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return e, nil
	case types.KindDeleteCase:
		var e types.DeleteCase
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return e, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", types.ErrUnknownEntryType)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownEntryType, head.Type)
	}
}

// FromPayload decodes a loosely typed record, as handed over by a caller
// whose direct write failed.
func FromPayload(payload map[string]any) (types.Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return Decode(raw)
}

// Encode returns the compact wire form of e with "type" as the first key.
// Absent fields are omitted.
func Encode(e types.Entry) (json.RawMessage, error) {
	var doc any
	switch x := e.(type) {
	case types.InsertCase:
		doc = struct {
			Type types.Kind `json:"type"`
			types.InsertCase
		}{x.Kind(), x}
	case *types.InsertCase:
		return Encode(*x)
	case types.UpdateCase:
		doc = struct {
			Type types.Kind `json:"type"`
			types.UpdateCase
		}{x.Kind(), x}
	case *types.UpdateCase:
		return Encode(*x)
	case types.DeleteCase:
		doc = struct {
			Type types.Kind `json:"type"`
			types.DeleteCase
		}{x.Kind(), x}
	case *types.DeleteCase:
		return Encode(*x)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownEntryType, e)
	}
	return json.Marshal(doc)
}
