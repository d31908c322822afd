package repo

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store объединяет репозитории поверх одного пула.
type Store struct {
	*FlowRepo
	*RunRepo
	*RunNodeRepo
	*TagRepo
}

// NewStore создаёт Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		FlowRepo:    NewFlowRepo(pool),
		RunRepo:     NewRunRepo(pool),
		RunNodeRepo: NewRunNodeRepo(pool, logger),
		TagRepo:     NewTagRepo(pool),
	}
}
