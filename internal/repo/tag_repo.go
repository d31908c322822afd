package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TagRepo — теги фанов. Используется действием add_tag.
type TagRepo struct {
	pool *pgxpool.Pool
}

// NewTagRepo создаёт новый TagRepo.
func NewTagRepo(pool *pgxpool.Pool) *TagRepo {
	return &TagRepo{pool: pool}
}

// AddTag добавляет тег фану. Повторное добавление того же тега ничего
// не меняет; added = false в этом случае.
func (r *TagRepo) AddTag(ctx context.Context, workspaceID uuid.UUID, fanID, tag string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO fan_tags (workspace_id, fan_id, tag)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, workspaceID, fanID, tag)
	if err != nil {
		return false, fmt.Errorf("add fan tag: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListTags возвращает теги фана.
func (r *TagRepo) ListTags(ctx context.Context, workspaceID uuid.UUID, fanID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tag FROM fan_tags
		WHERE workspace_id = $1 AND fan_id = $2
		ORDER BY tag`, workspaceID, fanID)
	if err != nil {
		return nil, fmt.Errorf("list fan tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan fan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
