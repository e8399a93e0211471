package triage

import (
	"fmt"
	"strings"
	"sync"
)

// RunStatistics counts terminal cases of one batch run. It is safe for
// concurrent use; only the orchestrator records into it.
type RunStatistics struct {
	mu               sync.Mutex
	total            int
	autoBlocked      int
	escalatedToHuman int
	approved         int
	errored          int
}

// StatsSnapshot is a point-in-time copy of RunStatistics.
type StatsSnapshot struct {
	Total            int     `json:"total"`
	AutoBlocked      int     `json:"auto_blocked"`
	EscalatedToHuman int     `json:"escalated_to_human"`
	Approved         int     `json:"approved"`
	Errored          int     `json:"errored"`
	HitRate          float64 `json:"hit_rate"`
}

// Record counts one terminal case. Non-terminal cases are ignored and
// reported as false.
func (s *RunStatistics) Record(c *Case) bool {
	o := c.Outcome()
	if o == OutcomeNone {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	switch o {
	case OutcomeApproved:
		s.approved++
	case OutcomeAutoBlocked:
		s.autoBlocked++
	case OutcomeHuman:
		s.escalatedToHuman++
	case OutcomeErrored:
		s.errored++
	}
	return true
}

// Snapshot returns the current counters and derived hit rate.
func (s *RunStatistics) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Total:            s.total,
		AutoBlocked:      s.autoBlocked,
		EscalatedToHuman: s.escalatedToHuman,
		Approved:         s.approved,
		Errored:          s.errored,
		HitRate:          hitRate(s.autoBlocked+s.escalatedToHuman, s.total),
	}
}

// HitRate returns the percentage of cases flagged in some form. It is zero
// for an empty run.
func (s *RunStatistics) HitRate() float64 {
	return s.Snapshot().HitRate
}

func hitRate(flagged, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(flagged) / float64(total) * 100
}

// Summary renders the final investigation report.
func (s StatsSnapshot) Summary() string {
	var b strings.Builder
	bar := strings.Repeat("=", 40)
	fmt.Fprintf(&b, "%s\n FINAL INVESTIGATION SUMMARY\n%s\n", bar, bar)
	fmt.Fprintf(&b, " Total Scanned:      %d\n", s.Total)
	fmt.Fprintf(&b, " AI Auto-Blocked:    %d\n", s.AutoBlocked)
	fmt.Fprintf(&b, " Human Reviews:      %d\n", s.EscalatedToHuman)
	fmt.Fprintf(&b, " Clean Transactions: %d\n", s.Approved)
	fmt.Fprintf(&b, " Errored:            %d\n", s.Errored)
	fmt.Fprintf(&b, " Fraud Hit Rate:     %s%%\n", s.HitRateString())
	b.WriteString(bar + "\n")
	return b.String()
}

// HitRateString formats the hit rate with two decimals.
func (s StatsSnapshot) HitRateString() string {
	return fmt.Sprintf("%.2f", s.HitRate)
}
