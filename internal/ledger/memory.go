package ledger

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory — ledger в памяти процесса.
type Memory struct {
	cache *gocache.Cache
}

// NewMemory создаёт Memory ledger.
func NewMemory() *Memory {
	return &Memory{cache: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

// Acquire выставляет ключ, если его ещё нет. go-cache Add атомарен.
func (l *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if err := l.cache.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Release удаляет ключ.
func (l *Memory) Release(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}
