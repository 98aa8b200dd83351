package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Montage/internal/domain"
)

// RunRepo — хранилище run в PostgreSQL.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, status, progress, current_step, failed_step, error, checkpoint,
       artifacts, plan, qa, attempt, queued_at, started_at, finished_at,
       created_at, updated_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	logJSON, err := json.Marshal(nonNilLog(run.Log))
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	checkpointJSON, err := json.Marshal(nonNilSteps(run.Checkpoint))
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	artifactsJSON, err := json.Marshal(run.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	planJSON, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	query := `
		INSERT INTO runs (id, status, progress, log, checkpoint, artifacts, plan, attempt,
		                  queued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.Progress,
		logJSON,
		checkpointJSON,
		artifactsJSON,
		planJSON,
		run.Attempt,
		run.QueuedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает run по ID вместе с журналом.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + `, log FROM runs WHERE id = $1`

	var logJSON []byte
	run, err := scanRun(r.pool.QueryRow(ctx, query, id), &logJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(logJSON, &run.Log); err != nil {
		return nil, fmt.Errorf("unmarshal log: %w", err)
	}
	return run, nil
}

// Update обновляет поля состояния run. Журнал, артефакты и план не меняются.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	checkpointJSON, err := json.Marshal(nonNilSteps(run.Checkpoint))
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	var qaJSON []byte
	if run.QA != nil {
		if qaJSON, err = json.Marshal(run.QA); err != nil {
			return fmt.Errorf("marshal qa: %w", err)
		}
	}

	query := `
		UPDATE runs
		SET status = $2, progress = $3, current_step = $4, failed_step = $5, error = $6,
		    checkpoint = $7, qa = $8, attempt = $9, queued_at = $10, started_at = $11,
		    finished_at = $12, updated_at = $13
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.Progress,
		nullString(string(run.CurrentStep)),
		nullString(string(run.FailedStep)),
		nullString(run.Error),
		checkpointJSON,
		qaJSON,
		run.Attempt,
		run.QueuedAt,
		run.StartedAt,
		run.FinishedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		filter.limit(),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListByStatus возвращает runs в статусе в порядке постановки в очередь.
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = $1
		ORDER BY queued_at ASC NULLS LAST, created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	return collectRuns(rows)
}

// LoadLog возвращает журнал run.
func (r *RunRepo) LoadLog(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error) {
	var logJSON []byte
	err := r.pool.QueryRow(ctx, `SELECT log FROM runs WHERE id = $1`, id).Scan(&logJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select log: %w", err)
	}

	var entries []domain.LogEntry
	if err := json.Unmarshal(logJSON, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal log: %w", err)
	}
	return entries, nil
}

// SaveLog заменяет журнал run.
func (r *RunRepo) SaveLog(ctx context.Context, id uuid.UUID, entries []domain.LogEntry) error {
	logJSON, err := json.Marshal(nonNilLog(entries))
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	return r.exec(ctx, `UPDATE runs SET log = $2, updated_at = now() WHERE id = $1`, id, logJSON)
}

// LoadArtifacts возвращает манифест артефактов.
func (r *RunRepo) LoadArtifacts(ctx context.Context, id uuid.UUID) (domain.Artifacts, error) {
	var data []byte
	var artifacts domain.Artifacts

	err := r.pool.QueryRow(ctx, `SELECT artifacts FROM runs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return artifacts, ErrNotFound
	}
	if err != nil {
		return artifacts, fmt.Errorf("select artifacts: %w", err)
	}
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return artifacts, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	return artifacts, nil
}

// SaveArtifacts заменяет манифест артефактов.
func (r *RunRepo) SaveArtifacts(ctx context.Context, id uuid.UUID, artifacts domain.Artifacts) error {
	data, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	return r.exec(ctx, `UPDATE runs SET artifacts = $2, updated_at = now() WHERE id = $1`, id, data)
}

func (r *RunRepo) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// scanRun сканирует строку в Run. Дополнительные колонки (например log)
// передаются через extra.
func scanRun(row pgx.Row, extra ...any) (*domain.Run, error) {
	var run domain.Run
	var currentStep, failedStep, runError *string
	var checkpointJSON, artifactsJSON, planJSON, qaJSON []byte

	dest := []any{
		&run.ID,
		&run.Status,
		&run.Progress,
		&currentStep,
		&failedStep,
		&runError,
		&checkpointJSON,
		&artifactsJSON,
		&planJSON,
		&qaJSON,
		&run.Attempt,
		&run.QueuedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal(checkpointJSON, &run.Checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if err := json.Unmarshal(artifactsJSON, &run.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal(planJSON, &run.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if qaJSON != nil {
		run.QA = &domain.QAReport{}
		if err := json.Unmarshal(qaJSON, run.QA); err != nil {
			return nil, fmt.Errorf("unmarshal qa: %w", err)
		}
	}

	if currentStep != nil {
		run.CurrentStep = domain.Step(*currentStep)
	}
	if failedStep != nil {
		run.FailedStep = domain.Step(*failedStep)
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilLog(entries []domain.LogEntry) []domain.LogEntry {
	if entries == nil {
		return []domain.LogEntry{}
	}
	return entries
}

func nonNilSteps(steps []domain.Step) []domain.Step {
	if steps == nil {
		return []domain.Step{}
	}
	return steps
}
