package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileSnapshot is the on-disk layout of the file backend
type fileSnapshot struct {
	Tasks       map[string]*PersistedTaskState `json:"tasks"`
	LastUpdated time.Time                      `json:"last_updated"`
}

// FileBackend stores all tasks in a single JSON file. Writes go through
// a temp file and rename so a crash never leaves a torn snapshot.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend creates a file backend at the given path, creating
// parent directories as needed
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

func taskKey(serviceID, callID uint64) string {
	return fmt.Sprintf("%d:%d", serviceID, callID)
}

func (f *FileBackend) SaveTask(ctx context.Context, task *PersistedTaskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return err
	}
	snapshot.Tasks[taskKey(task.ServiceID, task.CallID)] = task
	return f.write(snapshot)
}

func (f *FileBackend) SaveTasks(ctx context.Context, tasks []*PersistedTaskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := &fileSnapshot{Tasks: make(map[string]*PersistedTaskState, len(tasks))}
	for _, task := range tasks {
		snapshot.Tasks[taskKey(task.ServiceID, task.CallID)] = task
	}
	return f.write(snapshot)
}

func (f *FileBackend) LoadTask(ctx context.Context, serviceID, callID uint64) (*PersistedTaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return nil, err
	}
	task, ok := snapshot.Tasks[taskKey(serviceID, callID)]
	if !ok {
		return nil, ErrTaskNotPersisted
	}
	return task, nil
}

func (f *FileBackend) LoadAllTasks(ctx context.Context) ([]*PersistedTaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return nil, err
	}
	tasks := make([]*PersistedTaskState, 0, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (f *FileBackend) DeleteTask(ctx context.Context, serviceID, callID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.read()
	if err != nil {
		return err
	}
	key := taskKey(serviceID, callID)
	if _, ok := snapshot.Tasks[key]; !ok {
		return nil
	}
	delete(snapshot.Tasks, key)
	return f.write(snapshot)
}

func (f *FileBackend) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.write(&fileSnapshot{Tasks: make(map[string]*PersistedTaskState)})
}

func (f *FileBackend) Close() error {
	return nil
}

func (f *FileBackend) read() (*fileSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return &fileSnapshot{Tasks: make(map[string]*PersistedTaskState)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snapshot.Tasks == nil {
		snapshot.Tasks = make(map[string]*PersistedTaskState)
	}
	return &snapshot, nil
}

func (f *FileBackend) write(snapshot *fileSnapshot) error {
	snapshot.LastUpdated = time.Now()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
