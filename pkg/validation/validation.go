// Package validation is the Validation Orchestrator of spec.md §4.7: moves
// a Skill from pending to either approved-eligible (completed) or failed,
// via a format check, a two-layer blind-test pipeline, and a layer-2
// regression sweep over every already-approved skill. Grounded on
// codeready-toolchain-tarsy's pkg/queue.WorkerPool for the bounded-
// concurrency fan-out shape (golang.org/x/sync/semaphore-gated worker
// launch) and on pkg/agent/agent.go's own turn-driving idiom for running
// each blind-test task as a sub-agent.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/llmclient"
	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/sandbox"
	"github.com/skillforge/skillforge/pkg/store"
)

// MaxConcurrent bounds layer-2 regression fan-out and full-test fan-out
// (spec.md §4.7 step 4).
const MaxConcurrent = 5

const (
	layer1TaskCount     = 3
	layer2TaskCount     = 2
	fullTestNewTasks    = 2
	fullTestTotalTasks  = 5
	layer2PassThreshold = 0.5
)

// SkillMDReader reads a skill's SKILL.md document given its storage path.
// A narrow seam over the filesystem so tests can fake skill content
// without touching disk.
type SkillMDReader interface {
	ReadSkillMD(ctx context.Context, skillPath string) (string, error)
}

// FileSkillMDReader reads SKILL.md from local disk at
// "{skillPath}/SKILL.md", the layout the upload/WebDAV components write
// skills to.
type FileSkillMDReader struct{}

// ReadSkillMD implements SkillMDReader.
func (FileSkillMDReader) ReadSkillMD(ctx context.Context, skillPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(skillPath, "SKILL.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ThreadLister lists checkpoint thread ids by prefix, used for the startup
// resume scan. Implemented by pkg/store/sqlitecheckpoint.Store.
type ThreadLister interface {
	ListThreadIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Orchestrator drives the validation pipeline.
type Orchestrator struct {
	skills      store.SkillStore
	sandboxes   *sandbox.Manager
	checkpoints *checkpoint.Adapter
	llm         llmclient.Client
	driver      *driver
	reader      SkillMDReader

	sem *semaphore.Weighted

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator.
func New(skills store.SkillStore, sandboxes *sandbox.Manager, checkpoints *checkpoint.Adapter, llm llmclient.Client, reader SkillMDReader) *Orchestrator {
	if reader == nil {
		reader = FileSkillMDReader{}
	}
	return &Orchestrator{
		skills:      skills,
		sandboxes:   sandboxes,
		checkpoints: checkpoints,
		llm:         llm,
		driver:      newDriver(llm),
		reader:      reader,
		sem:         semaphore.NewWeighted(MaxConcurrent),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockFor returns the process-wide validationLock for one skill id,
// creating it on first use (spec.md §4.7 cross-cutting concurrency: a
// single mutex serializes step 0-5 for one skill; layer-2 fan-out still
// runs concurrently inside one skill's run).
func (o *Orchestrator) lockFor(skillID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[skillID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[skillID] = l
	}
	return l
}

func validationThreadID(skillID string) string {
	return "validation_" + skillID
}

// RunValidation runs the full pipeline for one skill: format check, layer-1
// online, layer-1 offline, scoring, layer-2 regression, and the status
// transition. It never runs two validations for the same skill id
// concurrently.
func (o *Orchestrator) RunValidation(ctx context.Context, skillID string) error {
	lock := o.lockFor(skillID)
	lock.Lock()
	defer lock.Unlock()

	sk, err := o.skills.Get(ctx, skillID)
	if err != nil {
		return fmt.Errorf("loading skill: %w", err)
	}

	if err := o.runPipeline(ctx, sk); err != nil {
		sk.Status = models.SkillStatusPending
		sk.ValidationStg = models.ValidationStageFailed
		if updateErr := o.skills.Update(ctx, sk); updateErr != nil {
			slog.Error("failed to persist failed validation state", "skill_id", skillID, "error", updateErr)
		}
		_ = o.checkpoints.Delete(ctx, validationThreadID(skillID))
		return err
	}

	_ = o.checkpoints.Delete(ctx, validationThreadID(skillID))
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, sk *models.Skill) error {
	threadID := validationThreadID(sk.SkillID)

	// Step 0: format.
	sk.Status = models.SkillStatusValidating
	skillMD, err := o.reader.ReadSkillMD(ctx, sk.SkillPath)
	if err != nil {
		return fmt.Errorf("reading SKILL.md: %w", err)
	}
	valid, formatErrs, formatWarnings := checkFormat(skillMD)
	sk.FormatValid = valid
	sk.FormatErrors = formatErrs
	sk.FormatWarnings = formatWarnings
	sk.ValidationStg = models.ValidationStageLayer1
	if err := o.checkpointStep(ctx, threadID, "format checked"); err != nil {
		return err
	}
	if err := o.skills.Update(ctx, sk); err != nil {
		return fmt.Errorf("persisting format check: %w", err)
	}

	tasks, err := o.driver.synthesizeTasks(ctx, skillMD, layer1TaskCount)
	if err != nil {
		return fmt.Errorf("synthesizing blind tasks: %w", err)
	}
	sk.ValidationTasks = tasks

	// Step 1: layer-1 online.
	onlineSB, err := o.sandboxes.GetValidationSandbox(ctx, sk.SkillID)
	if err != nil {
		return fmt.Errorf("creating validation sandbox: %w", err)
	}
	depsBeforeOnline, _ := snapshotDependencies(ctx, onlineSB)
	onlineEvals, err := o.runTasksAsSubAgents(ctx, onlineSB, threadID+"_online", sk.Name, tasks)
	if err != nil {
		return fmt.Errorf("layer-1 online run: %w", err)
	}
	depsAfterOnline, _ := snapshotDependencies(ctx, onlineSB)
	sk.InstalledDependencies = diffDependencies(depsBeforeOnline, depsAfterOnline)

	if err := o.checkpointStep(ctx, threadID, "layer1 online complete"); err != nil {
		return err
	}

	// Step 2: layer-1 offline.
	offlineSB, err := o.sandboxes.GetOfflineSandbox(ctx, sk.SkillID)
	if err != nil {
		return fmt.Errorf("creating offline sandbox: %w", err)
	}
	offlineEvals, blockedCalls, err := o.runOfflineReplay(ctx, offlineSB, threadID+"_offline", sk.Name, tasks)
	if err != nil {
		return fmt.Errorf("layer-1 offline run: %w", err)
	}
	_ = offlineEvals

	// Step 3: scoring.
	breakdown := Breakdown(onlineEvals, blockedCalls)
	passed := Passes(breakdown.Overall, onlineEvals)

	sk.ScoreBreak = breakdown
	sk.OverallScore = &breakdown.Overall
	sk.Layer1Report = &models.LayerReport{
		Passed:          passed,
		TaskEvaluations: onlineEvals,
		BlockedCalls:    blockedCalls,
		InstalledDeps:   sk.InstalledDependencies,
	}
	if err := o.checkpointStep(ctx, threadID, "layer1 scored"); err != nil {
		return err
	}
	if !passed {
		return fmt.Errorf("layer-1 did not pass: overall=%.1f", breakdown.Overall)
	}

	// Step 4: layer-2 regression.
	sk.ValidationStg = models.ValidationStageLayer2
	if err := o.skills.Update(ctx, sk); err != nil {
		return fmt.Errorf("persisting layer1 result: %w", err)
	}
	layer2Report, err := o.runLayer2Regression(ctx, sk.SkillID)
	if err != nil {
		return fmt.Errorf("layer-2 regression: %w", err)
	}
	sk.Layer2Report = layer2Report
	if err := o.checkpointStep(ctx, threadID, "layer2 complete"); err != nil {
		return err
	}
	if !layer2Report.Passed {
		return fmt.Errorf("layer-2 regression failed one or more approved skills")
	}

	// Step 5: transition.
	sk.ValidationStg = models.ValidationStageCompleted
	sk.Status = models.SkillStatusPending
	if err := o.skills.Update(ctx, sk); err != nil {
		return fmt.Errorf("persisting validation completion: %w", err)
	}
	return nil
}

func (o *Orchestrator) checkpointStep(ctx context.Context, threadID, note string) error {
	state := &checkpoint.State{
		ThreadID: threadID,
		Messages: []checkpoint.Message{{Role: "system", Content: note}},
	}
	if err := o.checkpoints.Put(ctx, state); err != nil {
		return fmt.Errorf("checkpointing validation step: %w", err)
	}
	return nil
}

// runTasksAsSubAgents runs each task serially as a sub-agent inside sb and
// evaluates the resulting transcript (spec.md §4.7 step 1).
func (o *Orchestrator) runTasksAsSubAgents(ctx context.Context, sb *sandbox.Sandbox, threadPrefix, skillName string, tasks []models.ValidationTask) ([]models.TaskEvaluation, error) {
	tools := &sandbox.BoundToolExecutor{SB: sb}
	runner := agent.New(o.checkpoints, o.llm, tools)

	evals := make([]models.TaskEvaluation, 0, len(tasks))
	for _, task := range tasks {
		transcript, err := o.runOneSubAgent(ctx, runner, threadPrefix+"_"+task.TaskID, task.Text)
		if err != nil {
			return nil, err
		}
		eval, err := o.driver.evaluateTask(ctx, task, transcript, skillName)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

// subAgentCompletes runs one task as a sub-agent inside sb using a fresh
// runner bound to sb, reporting whether the turn finished without
// surfacing an Error event.
func (o *Orchestrator) subAgentCompletes(ctx context.Context, sb *sandbox.Sandbox, threadID, taskText string) bool {
	runner := agent.New(o.checkpoints, o.llm, &sandbox.BoundToolExecutor{SB: sb})
	completed := true
	for ev := range runner.RunTurn(ctx, threadID, threadID, taskText, nil, agent.ModeBuild) {
		if ev.Kind == agent.EventError {
			completed = false
		}
	}
	_ = o.checkpoints.Delete(ctx, threadID)
	return completed
}

func (o *Orchestrator) runOneSubAgent(ctx context.Context, runner *agent.Runner, threadID, taskText string) (string, error) {
	var transcript string
	for ev := range runner.RunTurn(ctx, threadID, threadID, taskText, nil, agent.ModeBuild) {
		switch ev.Kind {
		case agent.EventToken:
			transcript += ev.Text
		case agent.EventToolStart:
			transcript += fmt.Sprintf("\n[tool_start %s]\n", ev.ToolName)
		case agent.EventToolEnd:
			transcript += fmt.Sprintf("\n[tool_end %s]\n", ev.ToolName)
		case agent.EventError:
			transcript += fmt.Sprintf("\n[error %s]\n", ev.Text)
		}
	}
	_ = o.checkpoints.Delete(ctx, threadID)
	return transcript, nil
}

// runOfflineReplay replays the same tasks against the block-all-network
// sandbox and counts attempted outbound calls (spec.md §4.7 step 2). The
// reference sandbox executor does not itself simulate network blocking
// (it is an opaque collaborator per spec.md §1), so this counts any
// "execute" tool call whose output looks like a network attempt was
// rejected by the runtime, which a real sandboxing backend is expected to
// surface in its stdout/stderr.
func (o *Orchestrator) runOfflineReplay(ctx context.Context, sb *sandbox.Sandbox, threadPrefix, skillName string, tasks []models.ValidationTask) ([]models.TaskEvaluation, int, error) {
	tools := &countingToolExecutor{inner: &sandbox.BoundToolExecutor{SB: sb}}
	runner := agent.New(o.checkpoints, o.llm, tools)

	evals := make([]models.TaskEvaluation, 0, len(tasks))
	for _, task := range tasks {
		transcript, err := o.runOneSubAgent(ctx, runner, threadPrefix+"_"+task.TaskID, task.Text)
		if err != nil {
			return nil, 0, err
		}
		eval, err := o.driver.evaluateTask(ctx, task, transcript, skillName)
		if err != nil {
			return nil, 0, err
		}
		evals = append(evals, eval)
	}
	return evals, tools.blockedCalls, nil
}

// countingToolExecutor wraps another agent.ToolExecutor, counting calls
// whose output reports a blocked network attempt.
type countingToolExecutor struct {
	inner        agent.ToolExecutor
	blockedCalls int
}

func (c *countingToolExecutor) ExecuteTool(ctx context.Context, userID string, call llmclient.ToolCall) (string, error) {
	output, err := c.inner.ExecuteTool(ctx, userID, call)
	text := output
	if err != nil {
		text = err.Error()
	}
	if call.Name == "execute" && looksLikeBlockedNetworkCall(text) {
		c.blockedCalls++
	}
	return output, err
}

func looksLikeBlockedNetworkCall(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"network is unreachable", "connection refused", "could not resolve host", "blocked"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// snapshotDependencies inspects a sandbox's installed packages so the
// caller can diff before/after a task run (spec.md §4.7 step 1:
// "snapshot shell-history deltas").
func snapshotDependencies(ctx context.Context, sb *sandbox.Sandbox) ([]string, error) {
	res, err := sb.Execute(ctx, []string{"sh", "-c", "pip list --format=freeze 2>/dev/null; npm ls -g --depth=0 2>/dev/null"})
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(res.Stdout), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

func diffDependencies(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, b := range before {
		seen[b] = true
	}
	var added []string
	for _, a := range after {
		if !seen[a] {
			added = append(added, a)
		}
	}
	sort.Strings(added)
	return added
}
