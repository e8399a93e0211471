package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/txsource"
)

// reporter prints one line per notable case while a batch runs. Clean
// approvals only print a progress dot every tenth case. Calls are serialized
// by the orchestrator.
type reporter struct {
	out      io.Writer
	records  []txsource.Record
	approved int

	// ground truth comparison, only rows carrying a label count
	labelled int
	fraud    int
	caught   int
	falsePos int
}

func newReporter(out io.Writer, records []txsource.Record) *reporter {
	return &reporter{out: out, records: records}
}

func (r *reporter) onCase(idx int, c *triage.Case) {
	row := idx
	var label *bool
	if idx < len(r.records) {
		row = r.records[idx].Row
		label = r.records[idx].Label
	}

	switch c.Outcome() {
	case triage.OutcomeAutoBlocked:
		rationale := ""
		if c.Recommendation != nil {
			rationale = c.Recommendation.Rationale
		}
		_, _ = fmt.Fprintf(r.out, " [Row %d] AI BLOCKED: %s...\n", row, head(rationale, 60))
	case triage.OutcomeHuman:
		verdict := ""
		if c.Verdict != nil {
			verdict = string(c.Verdict.Decision)
		}
		_, _ = fmt.Fprintf(r.out, " [Row %d] HUMAN REVIEW: %s\n", row, verdict)
	case triage.OutcomeErrored:
		_, _ = fmt.Fprintf(r.out, " [Row %d] ERROR: %s\n", row, c.Error)
	default:
		r.approved++
		if r.approved%10 == 0 {
			_, _ = fmt.Fprint(r.out, ".")
		}
	}

	if label == nil || c.Status == triage.StatusFailed {
		return
	}
	r.labelled++
	blocked := c.Resolution == triage.ActionBlock
	switch {
	case *label && blocked:
		r.fraud++
		r.caught++
	case *label:
		r.fraud++
	case blocked:
		r.falsePos++
	}
}

// summary renders the run statistics followed by the ground-truth comparison.
func (r *reporter) summary(s triage.StatsSnapshot) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(s.Summary())
	if r.labelled > 0 {
		fmt.Fprintf(&b, " Labelled Rows:      %d\n", r.labelled)
		fmt.Fprintf(&b, " Labelled Fraud:     %d\n", r.fraud)
		fmt.Fprintf(&b, " Fraud Blocked:      %d\n", r.caught)
		fmt.Fprintf(&b, " Legit Blocked:      %d\n", r.falsePos)
		b.WriteString(strings.Repeat("=", 40) + "\n")
	}
	return b.String()
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
