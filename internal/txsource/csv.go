// Package txsource reads labelled transaction datasets for batch runs.
package txsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Options selects a window of data rows.
type Options struct {
	Skip  int // data rows to skip after the header
	Limit int // maximum rows to return; 0 means all
}

// Record is one data row split into the transaction and its ground-truth label.
type Record struct {
	Row   int // zero-based data row index in the file
	Tx    triage.Transaction
	Label *bool
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string, opts Options) ([]Record, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator flags
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f, opts)
}

// Read parses CSV with a header row. Finite numeric values become float64,
// everything else stays a string. Columns with an empty header (a saved
// dataframe index) are dropped, and the label column is split off.
func Read(r io.Reader, opts Options) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	var out []Record
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if row < opts.Skip {
			continue
		}

		fields := make(map[string]any, len(names))
		for i, v := range rec {
			if i >= len(names) || names[i] == "" {
				continue
			}
			fields[names[i]] = parseValue(v)
		}
		tx, label := triage.SplitLabel(fields)
		out = append(out, Record{Row: row, Tx: tx, Label: label})

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

// parseValue turns finite numbers into float64. Integers that would lose
// digits as float64 (card numbers) and zero-padded codes (zips) stay strings.
func parseValue(s string) any {
	t := strings.TrimSpace(s)
	if isInteger(t) {
		digits := strings.TrimLeft(t, "+-")
		if len(digits) > 1 && digits[0] == '0' {
			return s
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil || n > maxExactInt || n < -maxExactInt {
			return s
		}
		return float64(n)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}

func isInteger(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// RandomSkip picks a skip offset in [0, maxSkip) so repeated runs sample
// different windows of a large dataset.
func RandomSkip(maxSkip int) int {
	if maxSkip <= 0 {
		return 0
	}
	return rand.IntN(maxSkip) //nolint:gosec // sampling, not security
}

// Transactions returns just the transactions of records.
func Transactions(recs []Record) []triage.Transaction {
	out := make([]triage.Transaction, len(recs))
	for i, r := range recs {
		out[i] = r.Tx
	}
	return out
}
