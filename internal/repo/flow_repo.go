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

// FlowRepo — репозиторий для работы с flows, flow_nodes и flow_edges.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// CreateFlow создаёт flow вместе с графом.
func (r *FlowRepo) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO flows (id, workspace_id, name, version, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query,
		flow.ID,
		flow.WorkspaceID,
		flow.Name,
		flow.Version,
		flow.Enabled,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert flow: %w", err)
	}

	if err := insertGraph(ctx, tx, flow.ID, &flow.Graph); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetFlow возвращает flow с графом.
func (r *FlowRepo) GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `
		SELECT id, workspace_id, name, version, enabled, created_at, updated_at
		FROM flows
		WHERE id = $1
	`
	var flow domain.Flow
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&flow.ID,
		&flow.WorkspaceID,
		&flow.Name,
		&flow.Version,
		&flow.Enabled,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow by id: %w", err)
	}

	graph, err := r.loadGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	flow.Graph = *graph

	return &flow, nil
}

// ListFlows возвращает flows воркспейса (без графа).
// workspaceID == nil — все flows.
func (r *FlowRepo) ListFlows(ctx context.Context, workspaceID *uuid.UUID) ([]domain.Flow, error) {
	query := `
		SELECT id, workspace_id, name, version, enabled, created_at, updated_at
		FROM flows
		WHERE ($1::uuid IS NULL OR workspace_id = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, nullUUID(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	flows := make([]domain.Flow, 0)
	for rows.Next() {
		var flow domain.Flow
		if err := rows.Scan(
			&flow.ID,
			&flow.WorkspaceID,
			&flow.Name,
			&flow.Version,
			&flow.Enabled,
			&flow.CreatedAt,
			&flow.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// UpdateFlow сохраняет новое имя и граф flow, увеличивая версию.
// Заполняет flow.Version и flow.UpdatedAt новыми значениями.
func (r *FlowRepo) UpdateFlow(ctx context.Context, flow *domain.Flow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE flows
		SET name = $2, version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING version
	`
	now := time.Now().UTC()
	err = tx.QueryRow(ctx, query, flow.ID, flow.Name, now).Scan(&flow.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	flow.UpdatedAt = now

	if _, err := tx.Exec(ctx, `DELETE FROM flow_edges WHERE flow_id = $1`, flow.ID); err != nil {
		return fmt.Errorf("delete flow edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM flow_nodes WHERE flow_id = $1`, flow.ID); err != nil {
		return fmt.Errorf("delete flow nodes: %w", err)
	}
	if err := insertGraph(ctx, tx, flow.ID, &flow.Graph); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetFlowEnabled включает или выключает flow.
func (r *FlowRepo) SetFlowEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE flows SET enabled = $2, updated_at = now() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("set flow enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// insertGraph записывает узлы и рёбра flow в рамках транзакции.
func insertGraph(ctx context.Context, tx pgx.Tx, flowID uuid.UUID, g *domain.Graph) error {
	batch := &pgx.Batch{}

	for i, n := range g.Nodes {
		configJSON, err := json.Marshal(n.Config)
		if err != nil {
			return fmt.Errorf("marshal config of node %s: %w", n.ID, err)
		}
		if n.Config == nil {
			configJSON = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO flow_nodes (flow_id, node_id, position, kind, type, name, config)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			flowID, n.ID, i, string(n.Kind), n.Type, nullString(n.Name), configJSON,
		)
	}

	for i, e := range g.Edges {
		batch.Queue(`
			INSERT INTO flow_edges (flow_id, position, from_node, to_node, kind, expected)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			flowID, i, e.From, e.To, string(e.Kind), e.Expected,
		)
	}

	if batch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert flow graph: %w", err)
	}
	return nil
}

// loadGraph читает узлы и рёбра flow в порядке объявления.
func (r *FlowRepo) loadGraph(ctx context.Context, flowID uuid.UUID) (*domain.Graph, error) {
	g := &domain.Graph{
		Nodes: make([]domain.Node, 0),
		Edges: make([]domain.Edge, 0),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT node_id, kind, type, name, config
		FROM flow_nodes
		WHERE flow_id = $1
		ORDER BY position`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list flow nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n domain.Node
		var name *string
		var configJSON []byte
		if err := rows.Scan(&n.ID, &n.Kind, &n.Type, &name, &configJSON); err != nil {
			return nil, fmt.Errorf("scan flow node: %w", err)
		}
		if name != nil {
			n.Name = *name
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &n.Config); err != nil {
				return nil, fmt.Errorf("unmarshal config of node %s: %w", n.ID, err)
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := r.pool.Query(ctx, `
		SELECT from_node, to_node, kind, expected
		FROM flow_edges
		WHERE flow_id = $1
		ORDER BY position`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list flow edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e domain.Edge
		if err := edgeRows.Scan(&e.From, &e.To, &e.Kind, &e.Expected); err != nil {
			return nil, fmt.Errorf("scan flow edge: %w", err)
		}
		g.Edges = append(g.Edges, e)
	}

	return g, edgeRows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
