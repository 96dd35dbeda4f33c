package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skillforge/skillforge/pkg/models"
)

func TestCompletionScore(t *testing.T) {
	evals := []models.TaskEvaluation{{RawScore: 5}, {RawScore: 3}, {RawScore: 1}}
	// (5-1)*25=100, (3-1)*25=50, (1-1)*25=0 -> mean 50
	assert.InDelta(t, 50.0, CompletionScore(evals), 0.001)
}

func TestTriggerScore(t *testing.T) {
	evals := []models.TaskEvaluation{
		{CorrectSkillUsed: true},
		{CorrectSkillUsed: true},
		{CorrectSkillUsed: false},
	}
	assert.InDelta(t, 66.666, TriggerScore(evals), 0.01)
}

func TestOfflineScore(t *testing.T) {
	assert.Equal(t, 100.0, OfflineScore(0))
	assert.Equal(t, 70.0, OfflineScore(1))
	assert.Equal(t, 70.0, OfflineScore(2))
	assert.Equal(t, 0.0, OfflineScore(3))
	assert.Equal(t, 0.0, OfflineScore(10))
}

func TestOverall(t *testing.T) {
	// 0.5*100 + 0.35*100 + 0.15*100 = 100
	assert.InDelta(t, 100.0, Overall(100, 100, 100), 0.001)
	assert.InDelta(t, 0.0, Overall(0, 0, 0), 0.001)
}

func TestPasses_RequiresOverallAndEveryRawScoreFloor(t *testing.T) {
	highEvals := []models.TaskEvaluation{{RawScore: 5, CorrectSkillUsed: true}, {RawScore: 4, CorrectSkillUsed: true}, {RawScore: 5, CorrectSkillUsed: true}}
	assert.True(t, Passes(Overall(CompletionScore(highEvals), TriggerScore(highEvals), 100), highEvals))

	lowRawScore := []models.TaskEvaluation{{RawScore: 5, CorrectSkillUsed: true}, {RawScore: 2, CorrectSkillUsed: true}, {RawScore: 5, CorrectSkillUsed: true}}
	overall := Overall(CompletionScore(lowRawScore), TriggerScore(lowRawScore), 100)
	assert.False(t, Passes(overall, lowRawScore), "one rawScore below 3 must fail even with a high overall")
}

func TestBreakdown(t *testing.T) {
	evals := []models.TaskEvaluation{{RawScore: 5, CorrectSkillUsed: true}}
	b := Breakdown(evals, 0)
	assert.Equal(t, 100.0, b.CompletionScore)
	assert.Equal(t, 100.0, b.TriggerScore)
	assert.Equal(t, 100.0, b.OfflineScore)
	assert.Equal(t, 100.0, b.Overall)
}
