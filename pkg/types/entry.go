package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the wire discriminator of a queue entry.
type Kind string

// Entry kinds as written to the queue file.
const (
	KindInsertCase Kind = "insert_case"
	KindUpdateCase Kind = "update_case"
	KindDeleteCase Kind = "delete_case"
)

// Meta is bookkeeping stamped on an entry when it is enqueued. It never
// reaches the primary store.
type Meta struct {
	QueueID  string `json:"queue_id,omitempty"`
	QueuedAt string `json:"queued_at,omitempty"`
}

// Entry is one buffered case mutation. The implementations are
// InsertCase, UpdateCase and DeleteCase; the set is closed.
type Entry interface {
	Kind() Kind
	Metadata() Meta
	// WithMeta returns a copy of the entry carrying m.
	WithMeta(m Meta) Entry
	isEntry()
}

// CaseID is a primary-store case identifier. It decodes from a JSON number
// or a numeric string.
type CaseID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *CaseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("case id %q: %w", s, err)
		}
		*id = CaseID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("case id %s: %w", data, err)
	}
	*id = CaseID(n)
	return nil
}

// ID returns a pointer to a CaseID, for building entries in code.
func ID(n int64) *CaseID {
	id := CaseID(n)
	return &id
}

// InsertCase creates a new case row. It carries no id; the primary store
// assigns one.
type InsertCase struct {
	Meta

	Clinic     Field `json:"clinic,omitzero"`
	DeviceName Field `json:"device_name,omitzero"`
	// Device is the legacy name of DeviceName, used when DeviceName is absent.
	Device          Field `json:"device,omitzero"`
	WaveNumber      Field `json:"wave_number,omitzero"`
	Submitter       Field `json:"submitter,omitzero"`
	ServiceProvider Field `json:"service_provider,omitzero"`
	Status          Field `json:"status,omitzero"`
	Reason          Field `json:"reason,omitzero"`
	DateSubmitted   Field `json:"date_submitted,omitzero"`
	DateReturned    Field `json:"date_returned,omitzero"`
	Notes           Field `json:"notes,omitzero"`
	CreatedBy       Field `json:"created_by,omitzero"`

	// Actor hints. Normalization derives CreatedBy from these when it is missing.
	Username Field `json:"username,omitzero"`
	User     Field `json:"user,omitzero"`
	Owner    Field `json:"owner,omitzero"`
}

func (InsertCase) Kind() Kind { return KindInsertCase }
func (e InsertCase) Metadata() Meta { return e.Meta }
func (InsertCase) isEntry() {}
func (e InsertCase) WithMeta(m Meta) Entry {
	e.Meta = m
	return e
}

// DeviceValue returns the device name, falling back to the legacy alias
// when device_name is absent or null.
func (e InsertCase) DeviceValue() Field {
	if _, ok := e.DeviceName.Value(); ok {
		return e.DeviceName
	}
	return e.Device
}

// UpdateCase changes status fields of an existing case.
type UpdateCase struct {
	Meta

	ID           *CaseID `json:"id,omitempty"`
	Status       Field   `json:"status,omitzero"`
	DateReturned Field   `json:"date_returned,omitzero"`
	ClosedBy     Field   `json:"closed_by,omitzero"`
}

func (UpdateCase) Kind() Kind { return KindUpdateCase }
func (e UpdateCase) Metadata() Meta { return e.Meta }
func (UpdateCase) isEntry() {}
func (e UpdateCase) WithMeta(m Meta) Entry {
	e.Meta = m
	return e
}

// DeleteCase removes an existing case.
type DeleteCase struct {
	Meta

	ID        *CaseID `json:"id,omitempty"`
	DeletedBy Field   `json:"deleted_by,omitzero"`
}

func (DeleteCase) Kind() Kind { return KindDeleteCase }
func (e DeleteCase) Metadata() Meta { return e.Meta }
func (DeleteCase) isEntry() {}
func (e DeleteCase) WithMeta(m Meta) Entry {
	e.Meta = m
	return e
}
