package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/skillforge/skillforge/pkg/llmclient"
	"github.com/skillforge/skillforge/pkg/models"
)

// driver talks to the big-variant LLM to synthesize blind test tasks and
// evaluate sub-agent transcripts against them. Kept separate from the
// orchestrator so its JSON-over-tokens parsing is unit-testable against a
// scripted llmclient.Client, grounded on vanducng-goclaw's provider
// abstraction (a narrow Generate/parse seam around a chat completion).
type driver struct {
	llm llmclient.Client
}

func newDriver(llm llmclient.Client) *driver {
	return &driver{llm: llm}
}

// synthesizedTasks is the JSON shape the driver prompt asks the model to
// return.
type synthesizedTasks struct {
	Tasks []string `json:"tasks"`
}

// synthesizeTasks asks the driver LLM to read skillMD and propose n blind
// test tasks that do not mention the skill by name (spec.md §4.7 step 1).
func (d *driver) synthesizeTasks(ctx context.Context, skillMD string, n int) ([]models.ValidationTask, error) {
	prompt := fmt.Sprintf(
		"You are testing a coding skill without telling the test-taker which skill it is.\n"+
			"Skill definition:\n%s\n\n"+
			"Propose exactly %d short task prompts a user might naturally give an agent that "+
			"would require this skill, without mentioning the skill's name. "+
			"Respond with ONLY JSON of the form {\"tasks\":[\"...\", ...]}.",
		skillMD, n,
	)

	text, err := d.generateText(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesizing tasks: %w", err)
	}

	var parsed synthesizedTasks
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fmt.Errorf("decoding synthesized tasks: %w", err)
	}
	if len(parsed.Tasks) < n {
		return nil, fmt.Errorf("driver returned %d tasks, want %d", len(parsed.Tasks), n)
	}

	tasks := make([]models.ValidationTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, models.ValidationTask{TaskID: uuid.NewString(), Text: parsed.Tasks[i], IsNew: true})
	}
	return tasks, nil
}

// evaluationResult is the JSON shape the evaluation prompt asks for.
type evaluationResult struct {
	RawScore         int    `json:"raw_score"`
	CorrectSkillUsed bool   `json:"correct_skill_used"`
	Notes            string `json:"notes"`
}

// evaluateTask asks the driver LLM to grade one sub-agent transcript
// against its originating task on a 1-5 scale (spec.md §4.7 step 1).
func (d *driver) evaluateTask(ctx context.Context, task models.ValidationTask, transcript string, skillName string) (models.TaskEvaluation, error) {
	prompt := fmt.Sprintf(
		"Task given to the agent: %s\n\nAgent transcript:\n%s\n\n"+
			"Grade the transcript 1-5 (5=excellent) on whether it correctly solved the task, "+
			"and report whether it used the %q skill. "+
			"Respond with ONLY JSON of the form "+
			"{\"raw_score\":<1-5>,\"correct_skill_used\":<bool>,\"notes\":\"...\"}.",
		task.Text, transcript, skillName,
	)

	text, err := d.generateText(ctx, prompt)
	if err != nil {
		return models.TaskEvaluation{}, fmt.Errorf("evaluating task %s: %w", task.TaskID, err)
	}

	var parsed evaluationResult
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return models.TaskEvaluation{}, fmt.Errorf("decoding evaluation for task %s: %w", task.TaskID, err)
	}

	return models.TaskEvaluation{
		TaskID:           task.TaskID,
		Text:             task.Text,
		RawScore:         parsed.RawScore,
		CorrectSkillUsed: parsed.CorrectSkillUsed,
		Notes:            parsed.Notes,
	}, nil
}

// generateText drives the big variant with a single user turn and
// concatenates streamed tokens into one string.
func (d *driver) generateText(ctx context.Context, prompt string) (string, error) {
	units := make(chan llmclient.StreamUnit, 16)
	genErr := make(chan error, 1)
	go func() {
		genErr <- d.llm.Generate(ctx, llmclient.GenerateInput{
			Variant:  llmclient.VariantBig,
			Messages: []llmclient.Message{{Role: "user", Content: prompt}},
		}, units)
	}()

	var text strings.Builder
	for unit := range units {
		if unit.Kind == llmclient.StreamUnitToken {
			text.WriteString(unit.Text)
		}
	}
	if err := <-genErr; err != nil {
		return "", err
	}
	return text.String(), nil
}

// extractJSON trims surrounding prose/code fences a model sometimes wraps
// its JSON answer in, returning the substring from the first '{' to the
// last '}'.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
