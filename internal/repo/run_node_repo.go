package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/fanflow/internal/domain"
)

// RunNodeRepo — захват узлов и запись результатов их выполнения.
type RunNodeRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRunNodeRepo создаёт новый RunNodeRepo.
func NewRunNodeRepo(pool *pgxpool.Pool, logger *slog.Logger) *RunNodeRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNodeRepo{pool: pool, logger: logger}
}

const runNodeColumns = `
	id, run_id, node_id, status, scheduled_at, attempt, last_error, error_kind,
	claimed_by, claimed_at, outcome, branch_end, finished_at, created_at`

// ClaimBatch атомарно захватывает до req.Limit готовых к выполнению узлов.
//
// Один UPDATE с подзапросом FOR UPDATE SKIP LOCKED: параллельные вызовы
// никогда не получат один и тот же узел, а строки, заблокированные другим
// вызовом, просто пропускаются. Вместе с pending-узлами, у которых
// наступил scheduled_at, захватываются claimed-узлы с истёкшей арендой;
// для них attempt увеличивается.
func (r *RunNodeRepo) ClaimBatch(ctx context.Context, req ClaimRequest) ([]domain.RunNode, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	var leaseCutoff *time.Time
	if !req.LeaseCutoff.IsZero() {
		leaseCutoff = &req.LeaseCutoff
	}

	query := `
		UPDATE run_nodes rn
		SET status     = 'claimed',
		    claimed_by = $1,
		    claimed_at = $2,
		    attempt    = CASE WHEN rn.status = 'claimed' THEN rn.attempt + 1 ELSE rn.attempt END
		FROM (
			SELECT id
			FROM run_nodes
			WHERE (status = 'pending' AND scheduled_at <= $2)
			   OR ($3::timestamptz IS NOT NULL AND status = 'claimed' AND claimed_at < $3)
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) due
		WHERE rn.id = due.id
		RETURNING ` + prefixed("rn.", runNodeColumns)

	rows, err := r.pool.Query(ctx, query, req.Token, req.Now, leaseCutoff, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim run nodes: %w", err)
	}
	defer rows.Close()

	claimed := make([]domain.RunNode, 0, req.Limit)
	for rows.Next() {
		rn, err := scanRunNode(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *rn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim run nodes: %w", err)
	}

	// RETURNING не гарантирует порядок
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
	})

	return claimed, nil
}

// ReleaseClaim возвращает узел, захваченный token, в pending без
// увеличения attempt. Используется для узлов, которые вызов захватил,
// но не начал выполнять. false — узел уже не claimed этим токеном.
func (r *RunNodeRepo) ReleaseClaim(ctx context.Context, runNodeID, token uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE run_nodes
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`, runNodeID, token)
	if err != nil {
		return false, fmt.Errorf("release run node: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyTransition записывает результат выполнения узла в одной транзакции:
//
//  1. блокирует строку run (сериализует переходы одного run и отмену);
//  2. переводит узел из claimed этим токеном в новый статус (CAS);
//  3. для succeeded вставляет следующие узлы;
//  4. если незавершённых узлов не осталось — финализирует run.
//
// Если run уже не active или узел не claimed этим токеном, ничего
// не меняется и возвращается Applied = false.
func (r *RunNodeRepo) ApplyTransition(ctx context.Context, t Transition) (TransitionResult, error) {
	var res TransitionResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	runStatus, err := lockRun(ctx, tx, t.RunID)
	if err != nil {
		return res, err
	}
	res.RunStatus = runStatus
	if runStatus != domain.RunStatusActive {
		return res, nil
	}

	applied, err := casRunNode(ctx, tx, t)
	if err != nil {
		return res, err
	}
	if !applied {
		return res, nil
	}
	res.Applied = true

	if t.Status == domain.RunNodeStatusSucceeded {
		for i := range t.Next {
			inserted, err := insertRunNode(ctx, tx, &t.Next[i])
			if err != nil {
				return res, err
			}
			if inserted {
				res.Inserted++
				continue
			}
			res.Conflicts++
			r.logger.Warn("run node already open, skipping insert",
				"run_id", t.RunID,
				"node_id", t.Next[i].NodeID,
			)
		}
	}

	if t.Status.IsTerminal() {
		nodes, err := listRunNodes(ctx, tx, t.RunID)
		if err != nil {
			return res, err
		}

		status, finished := domain.RollupRunStatus(nodes)
		if finished {
			_, err := tx.Exec(ctx, `
				UPDATE runs SET status = $2, error = $3, ended_at = $4
				WHERE id = $1`,
				t.RunID, string(status), nullString(domain.FailureSummary(nodes)), t.Now)
			if err != nil {
				return res, fmt.Errorf("finish run: %w", err)
			}
			res.RunStatus = status
			res.RunFinished = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit transition: %w", err)
	}
	return res, nil
}

// casRunNode переводит узел из claimed этим токеном в новое состояние.
func casRunNode(ctx context.Context, tx pgx.Tx, t Transition) (bool, error) {
	var outcomeJSON []byte
	if t.Outcome != nil {
		b, err := json.Marshal(t.Outcome)
		if err != nil {
			return false, fmt.Errorf("marshal outcome: %w", err)
		}
		outcomeJSON = b
	}

	var query string
	var args []any

	switch t.Status {
	case domain.RunNodeStatusPending:
		// retry: узел возвращается в очередь, аренда снимается
		query = `
			UPDATE run_nodes
			SET status = 'pending', attempt = $3, scheduled_at = $4,
			    last_error = $5, error_kind = $6, claimed_by = NULL, claimed_at = NULL
			WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`
		args = []any{t.RunNodeID, t.Token, t.Attempt, t.ScheduledAt,
			nullString(t.Error), nullString(string(t.ErrorKind))}

	case domain.RunNodeStatusSucceeded, domain.RunNodeStatusFailed:
		query = `
			UPDATE run_nodes
			SET status = $3, outcome = $4, branch_end = $5,
			    last_error = COALESCE($6, last_error), error_kind = COALESCE($7, error_kind),
			    finished_at = $8
			WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`
		args = []any{t.RunNodeID, t.Token, string(t.Status), outcomeJSON, t.BranchEnd,
			nullString(t.Error), nullString(string(t.ErrorKind)), t.Now}

	default:
		return false, fmt.Errorf("%w: transition to %s", ErrInvalidState, t.Status)
	}

	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update run node: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// insertRunNode вставляет RunNode. Если в run уже есть pending/claimed
// узел с тем же node_id, вставка пропускается и возвращается false.
func insertRunNode(ctx context.Context, tx pgx.Tx, n *domain.RunNode) (bool, error) {
	var outcomeJSON []byte
	if n.Outcome != nil {
		b, err := json.Marshal(n.Outcome)
		if err != nil {
			return false, fmt.Errorf("marshal outcome: %w", err)
		}
		outcomeJSON = b
	}

	query := `
		INSERT INTO run_nodes (id, run_id, node_id, status, scheduled_at, attempt, last_error,
		                       error_kind, claimed_by, claimed_at, outcome, branch_end, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id, node_id) WHERE status IN ('pending', 'claimed') DO NOTHING
	`
	result, err := tx.Exec(ctx, query,
		n.ID,
		n.RunID,
		n.NodeID,
		string(n.Status),
		n.ScheduledAt,
		n.Attempt,
		nullString(n.LastError),
		nullString(string(n.ErrorKind)),
		n.ClaimedBy,
		n.ClaimedAt,
		outcomeJSON,
		n.BranchEnd,
		n.FinishedAt,
		n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert run node %s: %w", n.NodeID, err)
	}
	return result.RowsAffected() == 1, nil
}

// querier — общий интерфейс pgxpool.Pool и pgx.Tx для чтения.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listRunNodes(ctx context.Context, q querier, runID uuid.UUID) ([]domain.RunNode, error) {
	rows, err := q.Query(ctx, `
		SELECT `+runNodeColumns+`
		FROM run_nodes
		WHERE run_id = $1
		ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]domain.RunNode, 0)
	for rows.Next() {
		rn, err := scanRunNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *rn)
	}
	return nodes, rows.Err()
}

// scanRunNode сканирует строку в RunNode.
func scanRunNode(row pgx.Row) (*domain.RunNode, error) {
	var rn domain.RunNode
	var lastError, errorKind *string
	var outcomeJSON []byte

	err := row.Scan(
		&rn.ID,
		&rn.RunID,
		&rn.NodeID,
		&rn.Status,
		&rn.ScheduledAt,
		&rn.Attempt,
		&lastError,
		&errorKind,
		&rn.ClaimedBy,
		&rn.ClaimedAt,
		&outcomeJSON,
		&rn.BranchEnd,
		&rn.FinishedAt,
		&rn.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run node: %w", err)
	}

	if lastError != nil {
		rn.LastError = *lastError
	}
	if errorKind != nil {
		rn.ErrorKind = domain.ErrorKind(*errorKind)
	}
	if len(outcomeJSON) > 0 {
		var o domain.Outcome
		if err := json.Unmarshal(outcomeJSON, &o); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		rn.Outcome = &o
	}

	return &rn, nil
}

// prefixed добавляет префикс таблицы к списку колонок.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
