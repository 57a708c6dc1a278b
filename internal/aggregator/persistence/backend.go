package persistence

import (
	"context"
	"errors"
)

// ErrTaskNotPersisted is returned when a task is absent from the backend
var ErrTaskNotPersisted = errors.New("task not persisted")

// Backend stores durable task snapshots
type Backend interface {
	// SaveTask upserts one task
	SaveTask(ctx context.Context, task *PersistedTaskState) error

	// SaveTasks atomically replaces the whole stored set
	SaveTasks(ctx context.Context, tasks []*PersistedTaskState) error

	// LoadTask returns one task or ErrTaskNotPersisted
	LoadTask(ctx context.Context, serviceID, callID uint64) (*PersistedTaskState, error)

	// LoadAllTasks returns every stored task
	LoadAllTasks(ctx context.Context) ([]*PersistedTaskState, error)

	// DeleteTask removes one task. Deleting an absent task is not an error.
	DeleteTask(ctx context.Context, serviceID, callID uint64) error

	// Clear removes every stored task
	Clear(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
