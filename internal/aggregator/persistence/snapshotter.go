package persistence

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/metrics"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

// Snapshotter persists the full aggregation state on a cron schedule
// and restores it on startup
type Snapshotter struct {
	logger   logging.Logger
	state    *state.AggregationState
	backend  Backend
	schedule string
	cron     *cron.Cron
}

// NewSnapshotter creates a snapshotter. The schedule uses cron syntax,
// including the @every form.
func NewSnapshotter(logger logging.Logger, registry *state.AggregationState, backend Backend, schedule string) *Snapshotter {
	return &Snapshotter{
		logger:   logger,
		state:    registry,
		backend:  backend,
		schedule: schedule,
	}
}

// Start begins periodic snapshots
func (s *Snapshotter) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Snapshot(context.Background()); err != nil {
			s.logger.Errorf("Snapshot failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Infof("Snapshotter started with schedule %q", s.schedule)
	return nil
}

// Stop halts the schedule and takes one final snapshot
func (s *Snapshotter) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if err := s.Snapshot(context.Background()); err != nil {
		s.logger.Errorf("Final snapshot failed: %v", err)
	}
}

// Snapshot writes the full task set to the backend
func (s *Snapshotter) Snapshot(ctx context.Context) error {
	tasks := s.state.SnapshotTasks()

	persisted := make([]*PersistedTaskState, 0, len(tasks))
	for _, task := range tasks {
		persisted = append(persisted, FromTask(task))
	}

	if err := s.backend.SaveTasks(ctx, persisted); err != nil {
		metrics.TrackSnapshot(false)
		return err
	}

	metrics.TrackSnapshot(true)
	s.logger.Debugf("Persisted %d tasks", len(persisted))
	return nil
}

// Restore loads the stored task set into the registry. Tasks already
// past their expiry are dropped, tasks already present are kept as-is.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	stored, err := s.backend.LoadAllTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading persisted tasks: %w", err)
	}

	restored := 0
	for _, persisted := range stored {
		task, err := persisted.ToTask()
		if err != nil {
			s.logger.Warnf("Skipping corrupt persisted task service=%d call=%d: %v",
				persisted.ServiceID, persisted.CallID, err)
			continue
		}
		if task.IsExpired() {
			s.logger.Debugf("Dropping expired persisted task service=%d call=%d",
				task.ServiceID, task.CallID)
			continue
		}
		if err := s.state.RestoreTask(task); err != nil {
			continue
		}
		restored++
	}

	s.logger.Infof("Restored %d of %d persisted tasks", restored, len(stored))
	return restored, nil
}
