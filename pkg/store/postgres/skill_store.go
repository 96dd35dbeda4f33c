package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

// SkillStore is the pgx-backed store.SkillStore. JSONB columns hold the
// validation reports and score breakdown, which are internal detail never
// queried on directly.
type SkillStore struct {
	pool *pgxpool.Pool
}

var _ store.SkillStore = (*SkillStore)(nil)

func (s *SkillStore) Create(ctx context.Context, sk *models.Skill) error {
	cols, err := marshalSkillJSON(sk)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO skills (
			skill_id, name, display_name, description, status, validation_stage, skill_path,
			format_valid, format_errors, format_warnings,
			layer1_report, layer2_report, score_breakdown, overall_score,
			installed_dependencies,
			approved_by, approved_at, rejected_by, rejected_at, reject_reason,
			created_by, created_at,
			validation_tasks, full_test_results, last_full_test_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15,
			$16, $17, $18, $19, $20,
			$21, $22,
			$23, $24, $25
		)`,
		sk.SkillID, sk.Name, sk.DisplayName, sk.Description, sk.Status, sk.ValidationStg, sk.SkillPath,
		sk.FormatValid, cols.formatErrors, cols.formatWarnings,
		cols.layer1Report, cols.layer2Report, cols.scoreBreak, sk.OverallScore,
		cols.installedDeps,
		sk.ApprovedBy, sk.ApprovedAt, sk.RejectedBy, sk.RejectedAt, sk.RejectReason,
		sk.CreatedBy, sk.CreatedAt,
		cols.validationTasks, cols.fullTestResults, sk.LastFullTestAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("inserting skill: %w", err)
	}
	return nil
}

func (s *SkillStore) Get(ctx context.Context, skillID string) (*models.Skill, error) {
	return s.scanOne(ctx, `WHERE skill_id = $1`, skillID)
}

func (s *SkillStore) GetByName(ctx context.Context, name string) (*models.Skill, error) {
	return s.scanOne(ctx, `WHERE name = $1`, name)
}

func (s *SkillStore) Update(ctx context.Context, sk *models.Skill) error {
	cols, err := marshalSkillJSON(sk)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE skills SET
			name = $2, display_name = $3, description = $4, status = $5, validation_stage = $6, skill_path = $7,
			format_valid = $8, format_errors = $9, format_warnings = $10,
			layer1_report = $11, layer2_report = $12, score_breakdown = $13, overall_score = $14,
			installed_dependencies = $15,
			approved_by = $16, approved_at = $17, rejected_by = $18, rejected_at = $19, reject_reason = $20,
			validation_tasks = $21, full_test_results = $22, last_full_test_at = $23
		WHERE skill_id = $1`,
		sk.SkillID,
		sk.Name, sk.DisplayName, sk.Description, sk.Status, sk.ValidationStg, sk.SkillPath,
		sk.FormatValid, cols.formatErrors, cols.formatWarnings,
		cols.layer1Report, cols.layer2Report, cols.scoreBreak, sk.OverallScore,
		cols.installedDeps,
		sk.ApprovedBy, sk.ApprovedAt, sk.RejectedBy, sk.RejectedAt, sk.RejectReason,
		cols.validationTasks, cols.fullTestResults, sk.LastFullTestAt,
	)
	if err != nil {
		return fmt.Errorf("updating skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SkillStore) Delete(ctx context.Context, skillID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM skills WHERE skill_id = $1`, skillID)
	if err != nil {
		return fmt.Errorf("deleting skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SkillStore) List(ctx context.Context, status *models.SkillStatus, offset, limit int) ([]*models.Skill, int, error) {
	var (
		rows  pgx.Rows
		err   error
		total int
	)
	if status != nil {
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM skills WHERE status = $1`, *status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("counting skills: %w", err)
		}
		rows, err = s.pool.Query(ctx, `SELECT `+skillColumns+` FROM skills WHERE status = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`, *status, offset, limit)
	} else {
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM skills`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("counting skills: %w", err)
		}
		rows, err = s.pool.Query(ctx, `SELECT `+skillColumns+` FROM skills ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("listing skills: %w", err)
	}
	defer rows.Close()

	var out []*models.Skill
	for rows.Next() {
		sk, err := scanSkillRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating skills: %w", err)
	}
	return out, total, nil
}

func (s *SkillStore) ListApproved(ctx context.Context) ([]*models.Skill, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+skillColumns+` FROM skills WHERE status = $1 ORDER BY name`, models.SkillStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("listing approved skills: %w", err)
	}
	defer rows.Close()

	var out []*models.Skill
	for rows.Next() {
		sk, err := scanSkillRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

const skillColumns = `
	skill_id, name, display_name, description, status, validation_stage, skill_path,
	format_valid, format_errors, format_warnings,
	layer1_report, layer2_report, score_breakdown, overall_score,
	installed_dependencies,
	approved_by, approved_at, rejected_by, rejected_at, reject_reason,
	created_by, created_at,
	validation_tasks, full_test_results, last_full_test_at`

func (s *SkillStore) scanOne(ctx context.Context, whereClause string, arg any) (*models.Skill, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills `+whereClause, arg)
	sk, err := scanSkillRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sk, nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkillRow(row rowScanner) (*models.Skill, error) {
	var sk models.Skill
	var cols skillJSONCols
	err := row.Scan(
		&sk.SkillID, &sk.Name, &sk.DisplayName, &sk.Description, &sk.Status, &sk.ValidationStg, &sk.SkillPath,
		&sk.FormatValid, &cols.formatErrors, &cols.formatWarnings,
		&cols.layer1Report, &cols.layer2Report, &cols.scoreBreak, &sk.OverallScore,
		&cols.installedDeps,
		&sk.ApprovedBy, &sk.ApprovedAt, &sk.RejectedBy, &sk.RejectedAt, &sk.RejectReason,
		&sk.CreatedBy, &sk.CreatedAt,
		&cols.validationTasks, &cols.fullTestResults, &sk.LastFullTestAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning skill row: %w", err)
	}
	if err := cols.unmarshalInto(&sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// skillJSONCols holds the raw bytes of every JSONB column for one skill row
// so Scan can target them directly before unmarshaling into the typed
// fields on models.Skill.
type skillJSONCols struct {
	formatErrors    []byte
	formatWarnings  []byte
	layer1Report    []byte
	layer2Report    []byte
	scoreBreak      []byte
	installedDeps   []byte
	validationTasks []byte
	fullTestResults []byte
}

func (c *skillJSONCols) unmarshalInto(sk *models.Skill) error {
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{c.formatErrors, &sk.FormatErrors},
		{c.formatWarnings, &sk.FormatWarnings},
		{c.layer1Report, &sk.Layer1Report},
		{c.layer2Report, &sk.Layer2Report},
		{c.scoreBreak, &sk.ScoreBreak},
		{c.installedDeps, &sk.InstalledDependencies},
		{c.validationTasks, &sk.ValidationTasks},
		{c.fullTestResults, &sk.FullTestResults},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("unmarshaling skill JSON column: %w", err)
		}
	}
	return nil
}

func marshalSkillJSON(sk *models.Skill) (*marshaledSkillCols, error) {
	var c marshaledSkillCols
	var err error
	if c.formatErrors, err = marshalOrNil(sk.FormatErrors); err != nil {
		return nil, err
	}
	if c.formatWarnings, err = marshalOrNil(sk.FormatWarnings); err != nil {
		return nil, err
	}
	if c.layer1Report, err = marshalOrNil(sk.Layer1Report); err != nil {
		return nil, err
	}
	if c.layer2Report, err = marshalOrNil(sk.Layer2Report); err != nil {
		return nil, err
	}
	if c.scoreBreak, err = marshalOrNil(sk.ScoreBreak); err != nil {
		return nil, err
	}
	if c.installedDeps, err = marshalOrNil(sk.InstalledDependencies); err != nil {
		return nil, err
	}
	if c.validationTasks, err = marshalOrNil(sk.ValidationTasks); err != nil {
		return nil, err
	}
	if c.fullTestResults, err = marshalOrNil(sk.FullTestResults); err != nil {
		return nil, err
	}
	return &c, nil
}

type marshaledSkillCols struct {
	formatErrors    []byte
	formatWarnings  []byte
	layer1Report    []byte
	layer2Report    []byte
	scoreBreak      []byte
	installedDeps   []byte
	validationTasks []byte
	fullTestResults []byte
}

func marshalOrNil(v any) ([]byte, error) {
	if isNilValue(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling skill JSON column: %w", err)
	}
	return b, nil
}

func isNilValue(v any) bool {
	switch t := v.(type) {
	case []string:
		return t == nil
	case *models.LayerReport:
		return t == nil
	case *models.ScoreBreakdown:
		return t == nil
	case []models.ValidationTask:
		return t == nil
	}
	return v == nil
}
