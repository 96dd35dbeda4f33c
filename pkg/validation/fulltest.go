package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillforge/skillforge/pkg/models"
)

// RunFullTest implements the runFullTest() admin command (spec.md §4.7): for
// every approved skill, under the same MaxConcurrent cap, reuse the 3
// stored tasks from its original validation plus 2 freshly synthesized
// ones, run all 5 as sub-agents, and persist the results.
func (o *Orchestrator) RunFullTest(ctx context.Context) error {
	approved, err := o.skills.ListApproved(ctx)
	if err != nil {
		return fmt.Errorf("listing approved skills: %w", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(approved))

	for i, sk := range approved {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquiring full-test slot: %w", err)
		}
		wg.Add(1)
		go func(idx int, sk *models.Skill) {
			defer wg.Done()
			defer o.sem.Release(1)
			errs[idx] = o.fullTestOne(ctx, sk)
		}(i, sk)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) fullTestOne(ctx context.Context, sk *models.Skill) error {
	skillMD, err := o.reader.ReadSkillMD(ctx, sk.SkillPath)
	if err != nil {
		return fmt.Errorf("reading SKILL.md for %s: %w", sk.Name, err)
	}

	fresh, err := o.driver.synthesizeTasks(ctx, skillMD, fullTestNewTasks)
	if err != nil {
		return fmt.Errorf("synthesizing full-test tasks for %s: %w", sk.Name, err)
	}

	tasks := append(append([]models.ValidationTask{}, sk.ValidationTasks...), fresh...)
	if len(tasks) > fullTestTotalTasks {
		tasks = tasks[:fullTestTotalTasks]
	}

	sb, err := o.sandboxes.GetValidationSandbox(ctx, sk.SkillID+"_fulltest")
	if err != nil {
		return fmt.Errorf("creating full-test sandbox for %s: %w", sk.Name, err)
	}

	evals, err := o.runTasksAsSubAgents(ctx, sb, fmt.Sprintf("fulltest_%s", sk.SkillID), sk.Name, tasks)
	if err != nil {
		return fmt.Errorf("running full-test tasks for %s: %w", sk.Name, err)
	}

	breakdown := Breakdown(evals, 0)
	now := time.Now()
	sk.FullTestResults = &models.LayerReport{
		Passed:          Passes(breakdown.Overall, evals),
		TaskEvaluations: evals,
	}
	sk.LastFullTestAt = &now

	if err := o.skills.Update(ctx, sk); err != nil {
		return fmt.Errorf("persisting full-test results for %s: %w", sk.Name, err)
	}
	return nil
}

// ResumeIncomplete implements the startup resume scan (spec.md §4.7
// cross-cutting durability): skills left mid-pipeline by a prior process
// are resumed from their checkpoint if one survived, or marked failed
// ("lost checkpoint") otherwise.
func (o *Orchestrator) ResumeIncomplete(ctx context.Context, lister ThreadLister) error {
	all, _, err := o.skills.List(ctx, nil, 0, 1<<30)
	if err != nil {
		return fmt.Errorf("listing skills: %w", err)
	}
	var incomplete []*models.Skill
	for _, sk := range all {
		if sk.Status == models.SkillStatusValidating ||
			sk.ValidationStg == models.ValidationStageLayer1 ||
			sk.ValidationStg == models.ValidationStageLayer2 {
			incomplete = append(incomplete, sk)
		}
	}

	threadIDs, err := lister.ListThreadIDsWithPrefix(ctx, "validation_")
	if err != nil {
		return fmt.Errorf("scanning checkpoint store: %w", err)
	}
	haveCheckpoint := make(map[string]bool, len(threadIDs))
	for _, id := range threadIDs {
		haveCheckpoint[id] = true
	}

	for _, sk := range incomplete {
		if sk.ValidationStg != models.ValidationStageLayer1 && sk.ValidationStg != models.ValidationStageLayer2 {
			continue
		}
		if haveCheckpoint[validationThreadID(sk.SkillID)] {
			slog.Info("resuming validation from checkpoint", "skill_id", sk.SkillID)
			go func(skillID string) {
				if err := o.RunValidation(context.Background(), skillID); err != nil {
					slog.Error("resumed validation failed", "skill_id", skillID, "error", err)
				}
			}(sk.SkillID)
			continue
		}

		slog.Warn("validation checkpoint lost, marking failed", "skill_id", sk.SkillID)
		sk.ValidationStg = models.ValidationStageFailed
		sk.Status = models.SkillStatusPending
		if err := o.skills.Update(ctx, sk); err != nil {
			slog.Error("failed to mark lost-checkpoint skill as failed", "skill_id", sk.SkillID, "error", err)
		}
	}
	return nil
}
