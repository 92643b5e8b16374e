package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssueOutcome is the terminal state of one issue in a run.
type IssueOutcome string

const (
	OutcomeSucceeded IssueOutcome = "succeeded"
	OutcomeSkipped   IssueOutcome = "skipped"
	OutcomeFailed    IssueOutcome = "failed"
)

// IssueResult is the per-issue line item of a run report.
type IssueResult struct {
	IssueID string       `json:"issue_id"`
	Outcome IssueOutcome `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
}

// RunReport summarizes a backup or restore run. Per-issue failures are
// recorded here instead of aborting sibling issues.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Command   string        `json:"command"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Results   []IssueResult `json:"results"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Add appends one issue outcome.
func (r *RunReport) Add(issueID string, outcome IssueOutcome, reason string) {
	r.Results = append(r.Results, IssueResult{IssueID: issueID, Outcome: outcome, Reason: reason})
}

// Warn appends a warning line.
func (r *RunReport) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ByOutcome returns the sorted issue ids that ended in the given outcome.
func (r *RunReport) ByOutcome(outcome IssueOutcome) []string {
	var ids []string
	for _, res := range r.Results {
		if res.Outcome == outcome {
			ids = append(ids, res.IssueID)
		}
	}
	sort.Strings(ids)
	return ids
}

// FailedCount returns the number of failed issues.
func (r *RunReport) FailedCount() int {
	return len(r.ByOutcome(OutcomeFailed))
}

// Summary renders the user-facing end-of-run summary.
func (r *RunReport) Summary() string {
	succeeded := r.ByOutcome(OutcomeSucceeded)
	skipped := r.ByOutcome(OutcomeSkipped)
	failed := r.ByOutcome(OutcomeFailed)

	var b strings.Builder
	fmt.Fprintf(&b, "%s run %s: %d succeeded, %d skipped, %d failed",
		r.Command, r.RunID, len(succeeded), len(skipped), len(failed))
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nfailed issues: %s", strings.Join(failed, ", "))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\nwarning: %s", w)
	}
	fmt.Fprintf(&b, "\nelapsed: %.4f seconds", r.Elapsed.Seconds())
	return b.String()
}
