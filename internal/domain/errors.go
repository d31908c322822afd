package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDuplicateRun — run с таким ключом дедупликации уже выполняется.
var ErrDuplicateRun = errors.New("duplicate run")

// DuplicateRunError возвращается при попытке создать второй незавершённый
// run с тем же DedupeKey. Содержит ID существующего run.
type DuplicateRunError struct {
	DedupeKey     string
	ExistingRunID uuid.UUID
}

// Error реализует интерфейс error.
func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run with dedupe key %q already active: %s", e.DedupeKey, e.ExistingRunID)
}

// Unwrap позволяет сравнивать через errors.Is(err, ErrDuplicateRun).
func (e *DuplicateRunError) Unwrap() error {
	return ErrDuplicateRun
}
