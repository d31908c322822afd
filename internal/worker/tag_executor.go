package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Tagger добавляет тег фанату.
type Tagger interface {
	AddTag(ctx context.Context, workspaceID uuid.UUID, fanID, tag string) (bool, error)
}

// TagExecutor — executor для действия "add_tag".
//
// Config:
//   - tag (string): тег (обязательно)
//   - fan_id (string): фанат. Default: fanId из trigger context
//
// Повторное добавление существующего тега — успех.
type TagExecutor struct {
	tagger Tagger
}

// NewTagExecutor создаёт TagExecutor.
func NewTagExecutor(tagger Tagger) *TagExecutor {
	return &TagExecutor{tagger: tagger}
}

// Execute добавляет тег.
func (e *TagExecutor) Execute(ctx context.Context, req *Request) Result {
	tag := getString(req.Config, "tag", "")
	if tag == "" {
		return Permanent(fmt.Errorf("%w: tag is required", ErrInvalidConfig))
	}

	fanID := fanIDFrom(req)
	if fanID == "" {
		return Permanent(fmt.Errorf("%w: fan_id is required", ErrInvalidConfig))
	}

	added, err := e.tagger.AddTag(ctx, req.WorkspaceID, fanID, tag)
	if err != nil {
		return Transient(fmt.Errorf("add tag: %w", err))
	}

	return Succeeded(map[string]any{
		"fan_id": fanID,
		"tag":    tag,
		"added":  added,
	})
}
