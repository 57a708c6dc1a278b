package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

const createTableCQL = `CREATE TABLE IF NOT EXISTS aggregation_tasks (
	service_id bigint,
	call_id bigint,
	task_state text,
	PRIMARY KEY ((service_id), call_id)
)`

// ScyllaConfig holds the connection settings for the Scylla backend
type ScyllaConfig struct {
	Hosts       []string
	Keyspace    string
	Timeout     time.Duration
	ConnectWait time.Duration
	Retries     int
}

// DefaultScyllaConfig returns connection defaults for a local cluster
func DefaultScyllaConfig(host, keyspace string) *ScyllaConfig {
	return &ScyllaConfig{
		Hosts:       []string{host},
		Keyspace:    keyspace,
		Timeout:     10 * time.Second,
		ConnectWait: 10 * time.Second,
		Retries:     3,
	}
}

// ScyllaBackend stores each task as a JSON blob keyed by (service_id, call_id)
type ScyllaBackend struct {
	session *gocql.Session
}

// NewScyllaBackend connects to the cluster and ensures the task table exists
func NewScyllaBackend(config *ScyllaConfig) (*ScyllaBackend, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Timeout = config.Timeout
	cluster.ConnectTimeout = config.ConnectWait
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: config.Retries}
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scylla: %w", err)
	}

	if err := session.Query(createTableCQL).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create task table: %w", err)
	}

	return &ScyllaBackend{session: session}, nil
}

func (s *ScyllaBackend) SaveTask(ctx context.Context, task *PersistedTaskState) error {
	blob, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return s.session.Query(
		`INSERT INTO aggregation_tasks (service_id, call_id, task_state) VALUES (?, ?, ?)`,
		int64(task.ServiceID), int64(task.CallID), string(blob),
	).WithContext(ctx).Exec()
}

func (s *ScyllaBackend) SaveTasks(ctx context.Context, tasks []*PersistedTaskState) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	for _, task := range tasks {
		if err := s.SaveTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScyllaBackend) LoadTask(ctx context.Context, serviceID, callID uint64) (*PersistedTaskState, error) {
	var blob string
	err := s.session.Query(
		`SELECT task_state FROM aggregation_tasks WHERE service_id = ? AND call_id = ?`,
		int64(serviceID), int64(callID),
	).WithContext(ctx).Scan(&blob)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrTaskNotPersisted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	var task PersistedTaskState
	if err := json.Unmarshal([]byte(blob), &task); err != nil {
		return nil, fmt.Errorf("failed to parse stored task: %w", err)
	}
	return &task, nil
}

func (s *ScyllaBackend) LoadAllTasks(ctx context.Context) ([]*PersistedTaskState, error) {
	iter := s.session.Query(`SELECT task_state FROM aggregation_tasks`).WithContext(ctx).Iter()

	var tasks []*PersistedTaskState
	var blob string
	for iter.Scan(&blob) {
		var task PersistedTaskState
		if err := json.Unmarshal([]byte(blob), &task); err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("failed to parse stored task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}
	return tasks, nil
}

func (s *ScyllaBackend) DeleteTask(ctx context.Context, serviceID, callID uint64) error {
	return s.session.Query(
		`DELETE FROM aggregation_tasks WHERE service_id = ? AND call_id = ?`,
		int64(serviceID), int64(callID),
	).WithContext(ctx).Exec()
}

func (s *ScyllaBackend) Clear(ctx context.Context) error {
	return s.session.Query(`TRUNCATE aggregation_tasks`).WithContext(ctx).Exec()
}

func (s *ScyllaBackend) Close() error {
	s.session.Close()
	return nil
}
