package validation

import (
	"context"
	"fmt"
	"sync"

	"github.com/skillforge/skillforge/pkg/models"
)

// runLayer2Regression re-checks every currently-approved skill in
// parallel, up to MaxConcurrent at a time, while skillID is mid-
// validation (spec.md §4.7 step 4). A skill passes if at least half its
// 2-task sanity check completes without error; the layer as a whole
// passes iff every approved skill passes.
func (o *Orchestrator) runLayer2Regression(ctx context.Context, skillID string) (*models.LayerReport, error) {
	approved, err := o.skills.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing approved skills: %w", err)
	}

	results := make(map[string]bool, len(approved))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, other := range approved {
		if other.SkillID == skillID {
			continue
		}
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquiring regression slot: %w", err)
		}
		wg.Add(1)
		go func(sk *models.Skill) {
			defer wg.Done()
			defer o.sem.Release(1)

			ok, runErr := o.regressionCheck(ctx, sk, skillID)
			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				if firstErr == nil {
					firstErr = runErr
				}
				results[sk.Name] = false
				return
			}
			results[sk.Name] = ok
		}(other)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	passed := true
	for _, ok := range results {
		if !ok {
			passed = false
			break
		}
	}

	return &models.LayerReport{
		Passed:            passed,
		RegressionResults: results,
	}, nil
}

// regressionCheck runs sk's 2-task sanity check inside a dedicated
// sandbox keyed by both sk's and the triggering skill's ids, so two
// regression runs for different triggering skills never collide.
func (o *Orchestrator) regressionCheck(ctx context.Context, sk *models.Skill, triggeringSkillID string) (bool, error) {
	skillMD, err := o.reader.ReadSkillMD(ctx, sk.SkillPath)
	if err != nil {
		return false, fmt.Errorf("reading SKILL.md for %s: %w", sk.Name, err)
	}

	tasks, err := o.driver.synthesizeTasks(ctx, skillMD, layer2TaskCount)
	if err != nil {
		return false, fmt.Errorf("synthesizing regression tasks for %s: %w", sk.Name, err)
	}

	sb, err := o.sandboxes.GetValidationSandbox(ctx, sk.SkillID+"_regression_"+triggeringSkillID)
	if err != nil {
		return false, fmt.Errorf("creating regression sandbox for %s: %w", sk.Name, err)
	}

	completed := 0
	for _, task := range tasks {
		threadID := fmt.Sprintf("validation_%s_regression_%s", sk.SkillID, task.TaskID)
		if o.subAgentCompletes(ctx, sb, threadID, task.Text) {
			completed++
		}
	}

	return float64(completed)/float64(len(tasks)) >= layer2PassThreshold, nil
}
