package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/fanflow/internal/domain"
)

// constraintRunsDedupe — частичный уникальный индекс по dedupe_key
// для незавершённых run.
const constraintRunsDedupe = "runs_dedupe_active_uq"

// RunRepo — репозиторий для работы с runs и run_nodes.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, flow_id, flow_version, workspace_id, trigger_node_id, trigger_context,
	status, dedupe_key, graph, error, started_at, ended_at, created_at`

// CreateRun атомарно создаёт run и его первые RunNode
// (успешный trigger-узел и первый фронт).
//
// Если незавершённый run с тем же DedupeKey уже существует,
// возвращает *domain.DuplicateRunError.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run, nodes []domain.RunNode) error {
	contextJSON, err := json.Marshal(orEmpty(run.TriggerContext))
	if err != nil {
		return fmt.Errorf("marshal trigger context: %w", err)
	}
	graphJSON, err := json.Marshal(run.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO runs (id, flow_id, flow_version, workspace_id, trigger_node_id, trigger_context,
		                  status, dedupe_key, graph, error, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		run.ID,
		run.FlowID,
		run.FlowVersion,
		run.WorkspaceID,
		run.TriggerNodeID,
		contextJSON,
		string(run.Status),
		run.DedupeKey,
		graphJSON,
		nullString(run.Error),
		run.StartedAt,
		run.EndedAt,
		run.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintRunsDedupe) {
			_ = tx.Rollback(ctx)
			return r.duplicateError(ctx, run.DedupeKey)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for i := range nodes {
		if _, err := insertRunNode(ctx, tx, &nodes[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// duplicateError находит уже активный run по ключу дедупликации.
func (r *RunRepo) duplicateError(ctx context.Context, dedupeKey string) error {
	var existing uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM runs WHERE dedupe_key = $1 AND status = 'active'`, dedupeKey,
	).Scan(&existing)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lookup duplicate run: %w", err)
	}
	return &domain.DuplicateRunError{DedupeKey: dedupeKey, ExistingRunID: existing}
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// ListRuns возвращает список runs с фильтрацией.
func (r *RunRepo) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::uuid IS NULL OR flow_id = $1)
		  AND ($2::uuid IS NULL OR workspace_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.FlowID),
		nullUUID(filter.WorkspaceID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListRunNodes возвращает все RunNode run в порядке создания.
func (r *RunRepo) ListRunNodes(ctx context.Context, runID uuid.UUID) ([]domain.RunNode, error) {
	return listRunNodes(ctx, r.pool, runID)
}

// CancelRun отменяет активный run: run → canceled, все pending/claimed
// узлы → skipped. Результаты выполняющихся узлов после этого
// отбрасываются (их CAS не пройдёт).
func (r *RunRepo) CancelRun(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status, err := lockRun(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal() {
		return nil, fmt.Errorf("%w: run is %s", ErrInvalidState, status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE run_nodes
		SET status = 'skipped', finished_at = $2
		WHERE run_id = $1 AND status IN ('pending', 'claimed')`, id, now); err != nil {
		return nil, fmt.Errorf("skip run nodes: %w", err)
	}

	run, err := scanRun(tx.QueryRow(ctx, `
		UPDATE runs
		SET status = 'canceled', ended_at = $2
		WHERE id = $1
		RETURNING `+runColumns, id, now))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return run, nil
}

// --- Helpers ---

// lockRun блокирует строку run до конца транзакции и возвращает его статус.
func lockRun(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := tx.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock run: %w", err)
	}
	return status, nil
}

// scanRun сканирует строку в Run. Подходит и для pgx.Row, и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var contextJSON, graphJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.FlowVersion,
		&run.WorkspaceID,
		&run.TriggerNodeID,
		&contextJSON,
		&run.Status,
		&run.DedupeKey,
		&graphJSON,
		&runError,
		&run.StartedAt,
		&run.EndedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.TriggerContext); err != nil {
			return nil, fmt.Errorf("unmarshal trigger context: %w", err)
		}
	}
	if len(graphJSON) > 0 {
		if err := json.Unmarshal(graphJSON, &run.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
