package api

import (
	"fmt"
	"strings"

	"github.com/skillforge/skillforge/pkg/models"
)

// renderSkillReport builds the markdown admin report document for one
// skill's validation history (spec.md §6: GET .../report returns
// "{content (markdown), content_type}").
func renderSkillReport(sk *models.Skill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sk.Name)
	fmt.Fprintf(&b, "- Status: `%s`\n", sk.Status)
	fmt.Fprintf(&b, "- Validation stage: `%s`\n", orNone(string(sk.ValidationStg)))
	if sk.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", sk.Description)
	}
	b.WriteString("\n## Format check\n\n")
	fmt.Fprintf(&b, "- Valid: %t\n", sk.FormatValid)
	renderStringList(&b, "Errors", sk.FormatErrors)
	renderStringList(&b, "Warnings", sk.FormatWarnings)

	renderLayerReport(&b, "Layer 1", sk.Layer1Report)
	renderLayerReport(&b, "Layer 2 (regression)", sk.Layer2Report)

	if sk.ScoreBreak != nil {
		b.WriteString("\n## Score breakdown\n\n")
		fmt.Fprintf(&b, "- Completion: %.1f\n", sk.ScoreBreak.CompletionScore)
		fmt.Fprintf(&b, "- Trigger: %.1f\n", sk.ScoreBreak.TriggerScore)
		fmt.Fprintf(&b, "- Offline: %.1f\n", sk.ScoreBreak.OfflineScore)
		fmt.Fprintf(&b, "- Overall: %.1f\n", sk.ScoreBreak.Overall)
	}

	if sk.Status == models.SkillStatusApproved {
		fmt.Fprintf(&b, "\nApproved by %s", orNone(strPtr(sk.ApprovedBy)))
		if sk.ApprovedAt != nil {
			fmt.Fprintf(&b, " at %s", sk.ApprovedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		b.WriteString("\n")
	}
	if sk.Status == models.SkillStatusRejected {
		fmt.Fprintf(&b, "\nRejected by %s: %s\n", orNone(strPtr(sk.RejectedBy)), sk.RejectReason)
	}

	renderLayerReport(&b, "Full-test results", sk.FullTestResults)

	return b.String()
}

func renderLayerReport(b *strings.Builder, title string, r *models.LayerReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	fmt.Fprintf(b, "- Passed: %t\n", r.Passed)
	if r.Notes != "" {
		fmt.Fprintf(b, "- Notes: %s\n", r.Notes)
	}
	for _, ev := range r.TaskEvaluations {
		fmt.Fprintf(b, "- task %s: score=%d correct_skill=%t\n", ev.TaskID, ev.RawScore, ev.CorrectSkillUsed)
	}
	if len(r.RegressionResults) > 0 {
		for name, passed := range r.RegressionResults {
			fmt.Fprintf(b, "- regression against %s: passed=%t\n", name, passed)
		}
	}
}

func renderStringList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
