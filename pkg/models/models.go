// Package models defines the core entities shared across skillforge's
// components: users, threads, skills, uploads and image versions.
//
// Sandbox and CheckpointState are intentionally NOT defined here: Sandbox is
// runtime-only state owned by pkg/sandbox, and CheckpointState is the opaque
// payload owned by the external checkpoint store (pkg/checkpoint).
package models

import "time"

// User is a registered account. Created at registration; never destroyed
// in-band.
type User struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Thread is a conversation between a user and the agent. ThreadID always
// has the form "{userID}-{uuid}"; that prefix is the sole authorization
// proof used by every endpoint that accepts a thread id.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SkillStatus is the coarse-grained lifecycle state of a Skill.
type SkillStatus string

const (
	SkillStatusPending    SkillStatus = "pending"
	SkillStatusValidating SkillStatus = "validating"
	SkillStatusApproved   SkillStatus = "approved"
	SkillStatusRejected   SkillStatus = "rejected"
)

// ValidationStage tracks progress through the two-layer validation pipeline.
// The zero value is the empty string, representing "never validated" (spec's
// null).
type ValidationStage string

const (
	ValidationStageNone      ValidationStage = ""
	ValidationStageLayer1    ValidationStage = "layer1"
	ValidationStageLayer2    ValidationStage = "layer2"
	ValidationStageCompleted ValidationStage = "completed"
	ValidationStageFailed    ValidationStage = "failed"
)

// TaskEvaluation is one blind-test task's outcome, used by both layer-1
// online/offline runs and full-test regression re-runs.
type TaskEvaluation struct {
	TaskID           string `json:"task_id"`
	Text             string `json:"text"`
	RawScore         int    `json:"raw_score"` // 1..5
	CorrectSkillUsed bool   `json:"correct_skill_used"`
	Notes            string `json:"notes,omitempty"`
}

// LayerReport captures the per-layer outcome of the validation pipeline.
type LayerReport struct {
	Passed            bool             `json:"passed"`
	TaskEvaluations   []TaskEvaluation `json:"task_evaluations,omitempty"`
	BlockedCalls      int              `json:"blocked_calls,omitempty"`
	InstalledDeps     []string         `json:"installed_dependencies,omitempty"`
	RegressionResults map[string]bool  `json:"regression_results,omitempty"` // approved skill name -> passed
	Notes             string           `json:"notes,omitempty"`
}

// ScoreBreakdown is the pure scoring function's output (see
// pkg/validation/scoring.go); kept on the Skill row so the admin report can
// reproduce the overall score without recomputation.
type ScoreBreakdown struct {
	CompletionScore float64 `json:"completion_score"`
	TriggerScore    float64 `json:"trigger_score"`
	OfflineScore    float64 `json:"offline_score"`
	Overall         float64 `json:"overall"`
}

// ValidationTask is a synthesized blind-test task, persisted so full-test
// regression can reuse the original three tasks.
type ValidationTask struct {
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
	IsNew  bool   `json:"is_new,omitempty"`
}

// Skill is a third-party extension package gated through the validation
// pipeline before being shared into every user sandbox.
type Skill struct {
	SkillID       string      `json:"skill_id"`
	Name          string      `json:"name"`
	DisplayName   string      `json:"display_name,omitempty"`
	Description   string      `json:"description,omitempty"`
	Status        SkillStatus `json:"status"`
	ValidationStg ValidationStage `json:"validation_stage"`
	SkillPath     string      `json:"skill_path"`

	FormatValid    bool     `json:"format_valid"`
	FormatErrors   []string `json:"format_errors,omitempty"`
	FormatWarnings []string `json:"format_warnings,omitempty"`

	Layer1Report *LayerReport    `json:"layer1_report,omitempty"`
	Layer2Report *LayerReport    `json:"layer2_report,omitempty"`
	ScoreBreak   *ScoreBreakdown `json:"score_breakdown,omitempty"`
	OverallScore *float64        `json:"overall_score,omitempty"`

	InstalledDependencies []string `json:"installed_dependencies,omitempty"`

	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedBy *string    `json:"rejected_by,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	RejectReason string   `json:"reject_reason,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	ValidationTasks []ValidationTask `json:"validation_tasks,omitempty"`
	FullTestResults *LayerReport     `json:"full_test_results,omitempty"`
	LastFullTestAt  *time.Time       `json:"last_full_test_at,omitempty"`
}

// CanApprove reports whether the skill is in the one legal pre-state for
// Approve (spec P5): status=pending AND validationStage=completed.
func (s *Skill) CanApprove() bool {
	return s.Status == SkillStatusPending && s.ValidationStg == ValidationStageCompleted
}

// UploadSession tracks one in-progress chunked upload.
type UploadSession struct {
	UploadID     string       `json:"upload_id"`
	UserID       string       `json:"user_id"`
	Filename     string       `json:"filename"`
	TotalChunks  int          `json:"total_chunks"`
	TotalSize    int64        `json:"total_size"`
	TargetPath   string       `json:"target_path"`
	Received     map[int]bool `json:"received"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ReceivedList returns the received chunk indices sorted ascending.
func (u *UploadSession) ReceivedList() []int {
	out := make([]int, 0, len(u.Received))
	for idx := range u.Received {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Complete reports whether every chunk 0..TotalChunks-1 has arrived.
func (u *UploadSession) Complete() bool {
	return len(u.Received) == u.TotalChunks
}

// ImageVersion is a monotonic tag of the shared skills image.
type ImageVersion struct {
	Version               string    `json:"version"`
	SkillID               *string   `json:"skill_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	IsCurrent             bool      `json:"is_current"`
	DependenciesSnapshot  []string  `json:"dependencies_snapshot,omitempty"`
}
