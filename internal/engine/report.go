package engine

import (
	"sort"

	"github.com/triage-ai/comply/internal/grading"
)

// SessionReport is the per-session compliance summary consumed by the API
// layer. Compliant, Issues, and Resolved are disjoint: an evaluation lands in
// exactly one bucket.
type SessionReport struct {
	SessionID         string             `json:"session_id"`
	IsCompliant       bool               `json:"is_compliant"`
	PoliciesEvaluated int                `json:"policies_evaluated"`
	Compliant         []PolicyEvaluation `json:"compliant"`
	Issues            []PolicyEvaluation `json:"issues"`
	Resolved          []PolicyEvaluation `json:"resolved"`
	LLMUsage          []grading.Usage    `json:"llm_usage,omitempty"`
}

// severityRank orders issues most-severe first.
var severityRank = map[string]int{
	"error":   0,
	"warning": 1,
	"info":    2,
}

// BuildReport aggregates the evaluations of one session. Non-compliant
// evaluations become issues, ordered error > warning > info (stable within a
// severity). Compliant evaluations whose forbidden hits were all excused by a
// passed authorization check count as resolved rather than plainly compliant.
func BuildReport(sessionID string, evals []PolicyEvaluation) *SessionReport {
	report := &SessionReport{
		SessionID:         sessionID,
		IsCompliant:       true,
		PoliciesEvaluated: len(evals),
	}

	usageByModel := make(map[string]*grading.Usage)
	var modelOrder []string

	for _, ev := range evals {
		switch {
		case !ev.IsCompliant:
			report.IsCompliant = false
			report.Issues = append(report.Issues, ev)
		case len(ev.ForbiddenChecksAvoided) > 0:
			report.Resolved = append(report.Resolved, ev)
		default:
			report.Compliant = append(report.Compliant, ev)
		}

		u := ev.Usage()
		if u.APICalls == 0 {
			continue
		}
		key := u.Provider + "/" + u.Model
		if existing, ok := usageByModel[key]; ok {
			existing.Add(u)
		} else {
			copied := u
			usageByModel[key] = &copied
			modelOrder = append(modelOrder, key)
		}
	}

	sort.SliceStable(report.Issues, func(i, j int) bool {
		return severityRank[report.Issues[i].Severity] < severityRank[report.Issues[j].Severity]
	})

	for _, key := range modelOrder {
		report.LLMUsage = append(report.LLMUsage, *usageByModel[key])
	}
	return report
}

// TotalCost sums the estimated USD cost across all usage records.
func (r *SessionReport) TotalCost() float64 {
	var total float64
	for _, u := range r.LLMUsage {
		total += u.CostUSD
	}
	return total
}
