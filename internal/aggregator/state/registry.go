package state

import (
	"sync"
	"time"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/holiman/uint256"
)

// AggregationState is the concurrency-safe registry of open aggregation
// tasks. A single reader/writer lock guards the whole map: task churn is
// low-volume relative to lock overhead, and cross-task invariants
// (uniqueness, cleanup sweeps) are easier to reason about under one lock.
// No lock is ever held across an external call.
type AggregationState struct {
	mu    sync.RWMutex
	tasks map[TaskID]*TaskState
}

// NewAggregationState creates an empty registry
func NewAggregationState() *AggregationState {
	return &AggregationState{
		tasks: make(map[TaskID]*TaskState),
	}
}

// InitTask initializes a task with a count-based threshold and no expiry
func (s *AggregationState) InitTask(serviceID, callID uint64, output []byte, operatorCount, threshold uint32) error {
	return s.InitTaskWithConfig(serviceID, callID, output, operatorCount, TaskConfig{
		ThresholdType: CountThreshold(threshold),
	})
}

// InitTaskWithConfig initializes a task with full configuration. Re-initializing
// an existing (serviceID, callID) pair is an error, not an overwrite.
func (s *AggregationState) InitTaskWithConfig(serviceID, callID uint64, output []byte, operatorCount uint32, config TaskConfig) error {
	taskID := NewTaskID(serviceID, callID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; exists {
		return ErrTaskAlreadyExists
	}

	s.tasks[taskID] = NewTaskStateWithConfig(serviceID, callID, output, operatorCount, config)
	return nil
}

// TaskOutput returns a copy of the expected output for a task, for
// validating submissions against it
func (s *AggregationState) TaskOutput(serviceID, callID uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[NewTaskID(serviceID, callID)]
	if !exists {
		return nil, false
	}
	output := make([]byte, len(task.Output))
	copy(output, task.Output)
	return output, true
}

// SubmitSignature records one operator's signature for a task. This is the
// layer that enforces the frozen-after-submission guarantee; TaskState alone
// does not. On success it returns the new signature count and whether the
// threshold is now met, so the caller can trigger aggregation without a
// second lookup.
func (s *AggregationState) SubmitSignature(serviceID, callID uint64, operatorIndex uint32, signature *bls.Signature, publicKey *bls.G2Point) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[NewTaskID(serviceID, callID)]
	if !exists {
		return 0, false, ErrTaskNotFound
	}
	if task.Submitted {
		return 0, false, ErrTaskAlreadySubmitted
	}
	if task.IsExpired() {
		return 0, false, ErrTaskExpired
	}

	if err := task.AddSignature(operatorIndex, signature, publicKey); err != nil {
		return 0, false, err
	}

	return task.SignatureCount(), task.ThresholdMet(), nil
}

// TaskStatus is a point-in-time snapshot of one task for status queries
type TaskStatus struct {
	SignaturesCollected int
	ThresholdRequired   uint32
	ThresholdType       ThresholdType
	ThresholdMet        bool
	SignerBitmap        *uint256.Int
	SignedStakeBps      uint32
	Submitted           bool
	IsExpired           bool
	TimeRemaining       *time.Duration
}

// Status returns a snapshot of a task, or false if the task does not exist.
// Absence is a valid, common query outcome, not an error.
func (s *AggregationState) Status(serviceID, callID uint64) (*TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[NewTaskID(serviceID, callID)]
	if !exists {
		return nil, false
	}

	status := &TaskStatus{
		SignaturesCollected: task.SignatureCount(),
		ThresholdRequired:   task.ThresholdValue(),
		ThresholdType:       task.ThresholdType,
		ThresholdMet:        task.ThresholdMet(),
		SignerBitmap:        task.SignerBitmap.Clone(),
		SignedStakeBps:      task.SignedStakeBps(),
		Submitted:           task.Submitted,
		IsExpired:           task.IsExpired(),
	}
	if remaining, ok := task.TimeRemaining(); ok {
		status.TimeRemaining = &remaining
	}
	return status, true
}

// TaskForAggregation is the aggregation-ready bundle handed to the BLS
// aggregation and chain submission step
type TaskForAggregation struct {
	ServiceID        uint64
	CallID           uint64
	Output           []byte
	SignerBitmap     *uint256.Int
	NonSignerIndices []uint32
	Signatures       []*bls.Signature
	PublicKeys       []*bls.G2Point
}

// ForAggregation returns the aggregation-ready bundle, or nil when there is
// nothing to do: task absent, threshold not met, already submitted, or
// expired all collapse to the same outcome. Use Status to distinguish them.
func (s *AggregationState) ForAggregation(serviceID, callID uint64) *TaskForAggregation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[NewTaskID(serviceID, callID)]
	if !exists {
		return nil
	}
	if !task.ThresholdMet() || task.Submitted || task.IsExpired() {
		return nil
	}

	signatures, publicKeys := task.SignaturesForAggregation()

	return &TaskForAggregation{
		ServiceID:        task.ServiceID,
		CallID:           task.CallID,
		Output:           task.Output,
		SignerBitmap:     task.SignerBitmap.Clone(),
		NonSignerIndices: task.NonSigners(),
		Signatures:       signatures,
		PublicKeys:       publicKeys,
	}
}

// MarkSubmitted flips the one-way submitted flag. Re-marking an already
// submitted task simply re-applies the flag.
func (s *AggregationState) MarkSubmitted(serviceID, callID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[NewTaskID(serviceID, callID)]
	if !exists {
		return ErrTaskNotFound
	}
	task.Submitted = true
	return nil
}

// RemoveTask deletes a task, reporting whether it was present
func (s *AggregationState) RemoveTask(serviceID, callID uint64) bool {
	taskID := NewTaskID(serviceID, callID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; !exists {
		return false
	}
	delete(s.tasks, taskID)
	return true
}

// CleanupExpired removes every expired task and returns the count removed
func (s *AggregationState) CleanupExpired() int {
	return s.cleanupWhere(func(task *TaskState) bool {
		return task.IsExpired()
	})
}

// CleanupSubmitted removes every submitted task and returns the count removed
func (s *AggregationState) CleanupSubmitted() int {
	return s.cleanupWhere(func(task *TaskState) bool {
		return task.Submitted
	})
}

// Cleanup removes tasks that are expired or submitted and returns the
// count removed. Cleanup sweeps are the only way task memory is reclaimed.
func (s *AggregationState) Cleanup() int {
	return s.cleanupWhere(func(task *TaskState) bool {
		return task.IsExpired() || task.Submitted
	})
}

func (s *AggregationState) cleanupWhere(shouldRemove func(*TaskState) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for taskID, task := range s.tasks {
		if shouldRemove(task) {
			delete(s.tasks, taskID)
			removed++
		}
	}
	return removed
}

// TaskCount returns the number of tasks currently in the registry
func (s *AggregationState) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// TaskCounts partitions the registry by task state
type TaskCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Submitted int `json:"submitted"`
	Expired   int `json:"expired"`
}

// TaskCounts walks every task and partitions it into pending, ready
// (threshold met, neither submitted nor expired), submitted, or expired
func (s *AggregationState) TaskCounts() TaskCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts TaskCounts
	for _, task := range s.tasks {
		counts.Total++
		switch {
		case task.IsExpired():
			counts.Expired++
		case task.Submitted:
			counts.Submitted++
		case task.ThresholdMet():
			counts.Ready++
		default:
			counts.Pending++
		}
	}
	return counts
}

// SnapshotTasks returns deep copies of every task, for the persistence
// layer. The copies share the stored signature and public key points, which
// are never mutated after insertion.
func (s *AggregationState) SnapshotTasks() []*TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]*TaskState, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot = append(snapshot, copyTask(task))
	}
	return snapshot
}

// RestoreTask inserts a previously persisted task. Existing tasks are not
// overwritten.
func (s *AggregationState) RestoreTask(task *TaskState) error {
	taskID := NewTaskID(task.ServiceID, task.CallID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; exists {
		return ErrTaskAlreadyExists
	}
	s.tasks[taskID] = copyTask(task)
	return nil
}

func copyTask(task *TaskState) *TaskState {
	dup := &TaskState{
		ServiceID:      task.ServiceID,
		CallID:         task.CallID,
		Output:         append([]byte(nil), task.Output...),
		OperatorCount:  task.OperatorCount,
		ThresholdType:  task.ThresholdType,
		SignerBitmap:   task.SignerBitmap.Clone(),
		Signatures:     make(map[uint32]*bls.Signature, len(task.Signatures)),
		PublicKeys:     make(map[uint32]*bls.G2Point, len(task.PublicKeys)),
		OperatorStakes: make(map[uint32]uint64, len(task.OperatorStakes)),
		TotalStake:     task.TotalStake,
		Submitted:      task.Submitted,
		CreatedAt:      task.CreatedAt,
	}
	for idx, sig := range task.Signatures {
		dup.Signatures[idx] = sig
	}
	for idx, pubKey := range task.PublicKeys {
		dup.PublicKeys[idx] = pubKey
	}
	for idx, stake := range task.OperatorStakes {
		dup.OperatorStakes[idx] = stake
	}
	if task.ExpiresAt != nil {
		expiresAt := *task.ExpiresAt
		dup.ExpiresAt = &expiresAt
	}
	return dup
}
