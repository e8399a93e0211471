package triage

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestSplitLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		label any
		want  *bool
	}{
		{"float one", 1.0, ptr(true)},
		{"float zero", 0.0, ptr(false)},
		{"string true", "1", ptr(true)},
		{"bool", false, ptr(false)},
		{"garbage", "x", nil},
		{"absent", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fields := map[string]any{"amt": 3.0}
			if tt.label != nil {
				fields[LabelField] = tt.label
			}
			tx, got := SplitLabel(fields)

			if _, ok := tx.Get(LabelField); ok {
				t.Error("label leaked into transaction")
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("label = %v, want %v", deref(got), deref(tt.want))
			}
		})
	}
}

func TestTransaction_Immutable(t *testing.T) {
	t.Parallel()

	src := map[string]any{"amt": 10.0, "city": "Reno"}
	tx := NewTransaction(src)
	src["amt"] = 99.0

	f := tx.Fields()
	f["city"] = "Elko"

	if v, _ := tx.Get("amt"); v != 10.0 {
		t.Errorf("amt = %v, want 10 after mutating source", v)
	}
	if v, _ := tx.Get("city"); v != "Reno" {
		t.Errorf("city = %v, want Reno after mutating Fields copy", v)
	}
	if amt, ok := tx.Amount(); !ok || amt != 10.0 {
		t.Errorf("Amount = %v, %v", amt, ok)
	}
	if !slices.Equal(tx.Names(), []string{"amt", "city"}) {
		t.Errorf("Names = %v", tx.Names())
	}
}

func TestTransaction_JSONDropsLabel(t *testing.T) {
	t.Parallel()

	var tx Transaction
	if err := json.Unmarshal([]byte(`{"amt": 5, "is_fraud": 1}`), &tx); err != nil {
		t.Fatal(err)
	}
	if tx.Len() != 1 {
		t.Errorf("Len = %d, want 1", tx.Len())
	}

	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"amt":5}` {
		t.Errorf("marshal = %s", b)
	}

	var empty Transaction
	b, _ = json.Marshal(empty)
	if string(b) != `{}` {
		t.Errorf("empty marshal = %s, want {}", b)
	}
}

func ptr(b bool) *bool { return &b }

func deref(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
