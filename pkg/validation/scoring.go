package validation

import "github.com/skillforge/skillforge/pkg/models"

// Scoring weights and thresholds (spec.md §4.7 step 3).
const (
	completionWeight = 0.50
	triggerWeight    = 0.35
	offlineWeight    = 0.15
	passThreshold    = 70.0
	minRawScore      = 3
)

// CompletionScore is the mean of (rawScore-1)*25 over evaluations, mapping
// the 1..5 scale onto 0..100.
func CompletionScore(evals []models.TaskEvaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evals {
		sum += float64(e.RawScore-1) * 25
	}
	return sum / float64(len(evals))
}

// TriggerScore is the fraction of evaluations with CorrectSkillUsed=true,
// expressed out of 100.
func TriggerScore(evals []models.TaskEvaluation) float64 {
	if len(evals) == 0 {
		return 0
	}
	var correct int
	for _, e := range evals {
		if e.CorrectSkillUsed {
			correct++
		}
	}
	return float64(correct) / float64(len(evals)) * 100
}

// OfflineScore maps the count of blocked-call violations observed during
// the offline replay onto the spec's three-tier scale.
func OfflineScore(blockedCalls int) float64 {
	switch {
	case blockedCalls == 0:
		return 100
	case blockedCalls <= 2:
		return 70
	default:
		return 0
	}
}

// Overall combines the three component scores per spec.md §4.7's weights.
func Overall(completion, trigger, offline float64) float64 {
	return completionWeight*completion + triggerWeight*trigger + offlineWeight*offline
}

// Passes reports whether a skill's layer-1 result clears the bar: overall
// score at least the threshold AND every individual evaluation scored at
// least minRawScore.
func Passes(overall float64, evals []models.TaskEvaluation) bool {
	if overall < passThreshold {
		return false
	}
	for _, e := range evals {
		if e.RawScore < minRawScore {
			return false
		}
	}
	return true
}

// Breakdown computes the full ScoreBreakdown for one layer-1 run.
func Breakdown(evals []models.TaskEvaluation, blockedCalls int) *models.ScoreBreakdown {
	completion := CompletionScore(evals)
	trigger := TriggerScore(evals)
	offline := OfflineScore(blockedCalls)
	return &models.ScoreBreakdown{
		CompletionScore: completion,
		TriggerScore:    trigger,
		OfflineScore:    offline,
		Overall:         Overall(completion, trigger, offline),
	}
}
