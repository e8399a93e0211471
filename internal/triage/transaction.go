package triage

import (
	"encoding/json"
	"maps"
	"slices"
)

// LabelField is the ground-truth column carried by labelled datasets. It is
// never part of a Transaction.
const LabelField = "is_fraud"

// Transaction is an immutable set of named fields describing one financial event.
type Transaction struct {
	fields map[string]any
}

// NewTransaction copies fields into a Transaction, dropping the label field.
func NewTransaction(fields map[string]any) Transaction {
	tx, _ := SplitLabel(fields)
	return tx
}

// SplitLabel separates the ground-truth label from the transaction fields.
// The returned label is nil when fields carry no usable label.
func SplitLabel(fields map[string]any) (Transaction, *bool) {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == LabelField {
			continue
		}
		cp[k] = v
	}
	return Transaction{fields: cp}, parseLabel(fields[LabelField])
}

func parseLabel(v any) *bool {
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case float64:
		b = x != 0
	case int:
		b = x != 0
	case string:
		switch x {
		case "1", "true", "True", "TRUE":
			b = true
		case "0", "false", "False", "FALSE":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

// Get returns the value of a single field.
func (t Transaction) Get(name string) (any, bool) {
	v, ok := t.fields[name]
	return v, ok
}

// Fields returns a copy of all fields.
func (t Transaction) Fields() map[string]any {
	return maps.Clone(t.fields)
}

// Names returns the field names in sorted order.
func (t Transaction) Names() []string {
	return slices.Sorted(maps.Keys(t.fields))
}

// Len returns the number of fields.
func (t Transaction) Len() int { return len(t.fields) }

// Amount returns the "amt" field when it is numeric.
func (t Transaction) Amount() (float64, bool) {
	f, ok := t.fields["amt"].(float64)
	return f, ok
}

// MarshalJSON encodes the fields as a JSON object.
func (t Transaction) MarshalJSON() ([]byte, error) {
	if t.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.fields)
}

// UnmarshalJSON decodes a JSON object into fields, dropping the label field.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = NewTransaction(raw)
	return nil
}
