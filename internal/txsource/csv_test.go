package txsource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/warden/internal/triage"
)

const sample = `,trans_date_trans_time,cc_num,amt,category,merchant,zip,city_pop,is_fraud
0,2020-06-21 12:14:25,2291163933867244,2.86,personal_care,fraud_Kirlin,29209,333497,0
1,2020-06-21 12:14:33,3573030041201292,29.84,personal_care,fraud_Sporer,84002,302,0
2,2020-06-21 12:14:53,3598215285024754123,41.28,health_fitness,fraud_Swaniawski,01748,34496,1
3,2020-06-21 12:15:15,3591919803438423,60.05,misc_pos,fraud_Haley,32780,54767,0
`

func TestRead_ParsesAndStripsLabel(t *testing.T) {
	t.Parallel()

	recs, err := Read(strings.NewReader(sample), Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("records = %d, want 4", len(recs))
	}

	r := recs[2]
	if r.Row != 2 {
		t.Errorf("row = %d, want 2", r.Row)
	}
	if r.Label == nil || !*r.Label {
		t.Errorf("label = %v, want true", r.Label)
	}
	if _, ok := r.Tx.Get(triage.LabelField); ok {
		t.Error("label left in transaction")
	}
	if _, ok := r.Tx.Get(""); ok {
		t.Error("unnamed index column kept")
	}
	if amt, ok := r.Tx.Amount(); !ok || amt != 41.28 {
		t.Errorf("amt = %v, %v", amt, ok)
	}
	if v, _ := r.Tx.Get("city_pop"); v != 34496.0 {
		t.Errorf("city_pop = %#v, want float64", v)
	}
	if v, _ := r.Tx.Get("trans_date_trans_time"); v != "2020-06-21 12:14:53" {
		t.Errorf("timestamp = %#v, want string", v)
	}
	if v, _ := r.Tx.Get("cc_num"); v != "3598215285024754123" {
		t.Errorf("cc_num = %#v, want exact string", v)
	}
	if v, _ := r.Tx.Get("zip"); v != "01748" {
		t.Errorf("zip = %#v, want zero-padded string", v)
	}
	if v, _ := recs[0].Tx.Get("zip"); v != 29209.0 {
		t.Errorf("unpadded zip = %#v, want float64", v)
	}
	if r.Tx.Len() != 7 {
		t.Errorf("fields = %v", r.Tx.Names())
	}
}

func TestRead_SkipAndLimit(t *testing.T) {
	t.Parallel()

	recs, err := Read(strings.NewReader(sample), Options{Skip: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Row != 1 || recs[1].Row != 2 {
		t.Fatalf("rows = %+v, want rows 1 and 2", recs)
	}

	recs, _ = Read(strings.NewReader(sample), Options{Skip: 10})
	if len(recs) != 0 {
		t.Errorf("skip past end returned %d records", len(recs))
	}
}

func TestRead_Empty(t *testing.T) {
	t.Parallel()

	recs, err := Read(strings.NewReader(""), Options{})
	if err != nil || recs != nil {
		t.Errorf("Read(empty) = %v, %v", recs, err)
	}
}

func TestRead_MalformedRow(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("a,b\n1,2\n3\n"), Options{})
	if err == nil {
		t.Fatal("expected error for short row")
	}
}

func TestParseValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want any
	}{
		{"3.5", 3.5},
		{" 42 ", 42.0},
		{"NaN", "NaN"},
		{"inf", "inf"},
		{"fraud_Kirlin", "fraud_Kirlin"},
		{"", ""},
		{"0", 0.0},
		{"-12", -12.0},
		{"9007199254740992", 9007199254740992.0},
		{"9007199254740993", "9007199254740993"},
		{"2703186189652095", 2703186189652095.0},
		{"4613314721966", 4613314721966.0},
		{"3573030041201292123", "3573030041201292123"},
		{"01748", "01748"},
		{"-007", "-007"},
		{"0.5", 0.5},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tx.csv")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := ReadFile(path, Options{Limit: 1})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := Transactions(recs); len(got) != 1 {
		t.Errorf("transactions = %d, want 1", len(got))
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRandomSkip(t *testing.T) {
	t.Parallel()

	if RandomSkip(0) != 0 {
		t.Error("RandomSkip(0) != 0")
	}
	for range 100 {
		if n := RandomSkip(5); n < 0 || n >= 5 {
			t.Fatalf("RandomSkip(5) = %d", n)
		}
	}
}
