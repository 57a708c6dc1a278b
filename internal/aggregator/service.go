package aggregator

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/metrics"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/crypto"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

// Service-level validation errors, layered on top of the registry sentinels
var (
	ErrInvalidOutput      = errors.New("malformed output encoding")
	ErrInvalidSignature   = errors.New("malformed signature encoding")
	ErrInvalidPublicKey   = errors.New("malformed public key encoding")
	ErrVerificationFailed = errors.New("signature verification failed")
	ErrOutputMismatch     = errors.New("output does not match task output")
	ErrTaskNotReady       = errors.New("task has no aggregation-ready bundle")
)

// ServiceConfig controls the validation and housekeeping behavior
// wrapped around the core aggregation state
type ServiceConfig struct {
	// VerifyOnSubmit checks each partial signature against the canonical
	// signing message before accepting it
	VerifyOnSubmit bool

	// ValidateOutput rejects submissions whose output does not match the
	// output registered at task creation
	ValidateOutput bool

	// DefaultTaskTTL applies to tasks created without an explicit TTL.
	// Zero means tasks never expire by default.
	DefaultTaskTTL time.Duration

	// CleanupInterval is how often the background worker sweeps expired
	// tasks. Zero disables the worker.
	CleanupInterval time.Duration

	// AutoCleanupSubmitted also removes submitted tasks during sweeps
	AutoCleanupSubmitted bool
}

// DefaultServiceConfig returns the production configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		VerifyOnSubmit:       true,
		ValidateOutput:       true,
		DefaultTaskTTL:       types.DEFAULT_TASK_TTL,
		CleanupInterval:      types.DEFAULT_CLEANUP_INTERVAL,
		AutoCleanupSubmitted: true,
	}
}

// MinimalServiceConfig disables validation and housekeeping, leaving
// only the bookkeeping engine. Useful for tests and trusted callers.
func MinimalServiceConfig() ServiceConfig {
	return ServiceConfig{}
}

// AggregationService wraps the aggregation state with signature
// validation, encoding and lifecycle housekeeping
type AggregationService struct {
	logger logging.Logger
	config ServiceConfig
	state  *state.AggregationState

	shutdownChannel chan struct{}
}

// NewAggregationService creates a new aggregation service instance
func NewAggregationService(logger logging.Logger, config ServiceConfig) *AggregationService {
	return &AggregationService{
		logger:          logger,
		config:          config,
		state:           state.NewAggregationState(),
		shutdownChannel: make(chan struct{}),
	}
}

// State exposes the underlying registry for persistence snapshots
func (s *AggregationService) State() *state.AggregationState {
	return s.state
}

// Start launches the background cleanup worker
func (s *AggregationService) Start(ctx context.Context) error {
	s.logger.Info("Starting aggregation service...")

	if s.config.CleanupInterval > 0 {
		go s.cleanupWorker(ctx)
	}

	s.logger.Info("Aggregation service started successfully")
	return nil
}

// Stop gracefully shuts down the aggregation service
func (s *AggregationService) Stop() error {
	s.logger.Info("Stopping aggregation service...")
	close(s.shutdownChannel)
	return nil
}

// InitTask registers a new aggregation task from an API request
func (s *AggregationService) InitTask(req *types.InitTaskRequest) error {
	output, err := decodeHexString(req.Output)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	config := state.TaskConfig{
		ThresholdType:  s.thresholdFromRequest(req),
		OperatorStakes: req.OperatorStakes,
		TTL:            s.config.DefaultTaskTTL,
	}
	if req.TTLSeconds > 0 {
		config.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	return s.InitTaskWithConfig(req.ServiceID, req.CallID, output, req.OperatorCount, config)
}

// InitTaskWithConfig registers a new aggregation task with an explicit
// task configuration. A zero TTL inherits the service default.
func (s *AggregationService) InitTaskWithConfig(serviceID, callID uint64, output []byte, operatorCount uint32, config state.TaskConfig) error {
	if config.TTL == 0 {
		config.TTL = s.config.DefaultTaskTTL
	}

	if err := s.state.InitTaskWithConfig(serviceID, callID, output, operatorCount, config); err != nil {
		return err
	}

	metrics.TrackTaskInitialized()
	s.updateTaskGauges()
	s.logger.Infof("Initialized task service=%d call=%d operators=%d threshold=%s/%d",
		serviceID, callID, operatorCount, config.ThresholdType.Kind, config.ThresholdType.Value)
	return nil
}

// SubmitSignature validates and records one operator's partial signature
func (s *AggregationService) SubmitSignature(req *types.SubmitSignatureRequest) (*types.SubmitSignatureResponse, error) {
	output, ok := s.state.TaskOutput(req.ServiceID, req.CallID)
	if !ok {
		metrics.TrackSignatureRejected("not_found")
		return nil, state.ErrTaskNotFound
	}

	if s.config.ValidateOutput && req.Output != "" {
		claimed, err := decodeHexString(req.Output)
		if err != nil {
			metrics.TrackSignatureRejected("invalid_output")
			return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if !bytes.Equal(claimed, output) {
			metrics.TrackSignatureRejected("output_mismatch")
			return nil, ErrOutputMismatch
		}
	}

	signature, err := crypto.ParseSignature(req.Signature)
	if err != nil {
		metrics.TrackSignatureRejected("invalid_signature")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	publicKey, err := crypto.ParsePublicKey(req.PublicKey)
	if err != nil {
		metrics.TrackSignatureRejected("invalid_public_key")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	if s.config.VerifyOnSubmit {
		message := crypto.SigningMessage(req.ServiceID, req.CallID, output)
		valid, err := crypto.VerifySignature(publicKey, message, signature)
		if err != nil || !valid {
			metrics.TrackSignatureRejected("verification_failed")
			return nil, ErrVerificationFailed
		}
	}

	count, thresholdMet, err := s.state.SubmitSignature(req.ServiceID, req.CallID, req.OperatorIndex, signature, publicKey)
	if err != nil {
		metrics.TrackSignatureRejected(rejectionReason(err))
		return nil, err
	}

	metrics.TrackSignatureAccepted(thresholdMet)
	s.updateTaskGauges()

	if thresholdMet {
		s.logger.Infof("Task service=%d call=%d reached threshold with %d signatures",
			req.ServiceID, req.CallID, count)
	} else {
		s.logger.Debugf("Accepted signature from operator %d for task service=%d call=%d (%d collected)",
			req.OperatorIndex, req.ServiceID, req.CallID, count)
	}

	return &types.SubmitSignatureResponse{
		ServiceID:           req.ServiceID,
		CallID:              req.CallID,
		SignaturesCollected: count,
		ThresholdMet:        thresholdMet,
	}, nil
}

// Status returns a point-in-time view of one task. A missing task is a
// valid outcome, reported through the Exists flag.
func (s *AggregationService) Status(serviceID, callID uint64) *types.TaskStatusResponse {
	resp := &types.TaskStatusResponse{
		ServiceID: serviceID,
		CallID:    callID,
	}

	status, ok := s.state.Status(serviceID, callID)
	if !ok {
		return resp
	}

	resp.Exists = true
	resp.SignaturesCollected = status.SignaturesCollected
	resp.ThresholdRequired = status.ThresholdRequired
	resp.ThresholdKind = types.ThresholdKind(status.ThresholdType.Kind)
	resp.ThresholdMet = status.ThresholdMet
	resp.SignerBitmap = status.SignerBitmap.Hex()
	resp.SignedStakeBps = status.SignedStakeBps
	resp.Submitted = status.Submitted
	resp.Expired = status.IsExpired
	if status.TimeRemaining != nil {
		ms := status.TimeRemaining.Milliseconds()
		resp.TTLRemainingMs = &ms
	}
	return resp
}

// AggregatedResult aggregates the collected signatures and public keys
// of a threshold-met task into a single submission-ready bundle
func (s *AggregationService) AggregatedResult(serviceID, callID uint64) (*types.AggregatedResultResponse, error) {
	bundle := s.state.ForAggregation(serviceID, callID)
	if bundle == nil {
		return nil, ErrTaskNotReady
	}

	aggSig, err := crypto.AggregateSignatures(bundle.Signatures)
	if err != nil {
		return nil, fmt.Errorf("aggregating signatures: %w", err)
	}
	aggPubKey, err := crypto.AggregatePublicKeys(bundle.PublicKeys)
	if err != nil {
		return nil, fmt.Errorf("aggregating public keys: %w", err)
	}

	return &types.AggregatedResultResponse{
		ServiceID:           bundle.ServiceID,
		CallID:              bundle.CallID,
		Output:              hexutil.Encode(bundle.Output),
		SignerBitmap:        bundle.SignerBitmap.Hex(),
		NonSignerIndices:    bundle.NonSignerIndices,
		AggregatedSignature: crypto.EncodeSignature(aggSig),
		AggregatedPublicKey: crypto.EncodePublicKey(aggPubKey),
		SignatureCount:      len(bundle.Signatures),
	}, nil
}

// MarkSubmitted freezes a task after its aggregate was submitted
func (s *AggregationService) MarkSubmitted(serviceID, callID uint64) error {
	if err := s.state.MarkSubmitted(serviceID, callID); err != nil {
		return err
	}

	metrics.TrackTaskSubmitted()
	s.updateTaskGauges()
	s.logger.Infof("Marked task service=%d call=%d as submitted", serviceID, callID)
	return nil
}

// RemoveTask drops one task from the registry
func (s *AggregationService) RemoveTask(serviceID, callID uint64) bool {
	removed := s.state.RemoveTask(serviceID, callID)
	if removed {
		s.updateTaskGauges()
		s.logger.Debugf("Removed task service=%d call=%d", serviceID, callID)
	}
	return removed
}

// Stats returns the current task partition counters
func (s *AggregationService) Stats() types.ServiceStats {
	counts := s.state.TaskCounts()
	return types.ServiceStats{
		TotalTasks:     counts.Total,
		PendingTasks:   counts.Pending,
		ReadyTasks:     counts.Ready,
		SubmittedTasks: counts.Submitted,
		ExpiredTasks:   counts.Expired,
	}
}

// CleanupExpired sweeps expired tasks and returns the removed count
func (s *AggregationService) CleanupExpired() int {
	removed := s.state.CleanupExpired()
	metrics.TrackTasksCleaned("expired", removed)
	s.updateTaskGauges()
	return removed
}

// CleanupSubmitted sweeps submitted tasks and returns the removed count
func (s *AggregationService) CleanupSubmitted() int {
	removed := s.state.CleanupSubmitted()
	metrics.TrackTasksCleaned("submitted", removed)
	s.updateTaskGauges()
	return removed
}

// Cleanup sweeps both expired and submitted tasks
func (s *AggregationService) Cleanup() int {
	removed := s.state.Cleanup()
	metrics.TrackTasksCleaned("combined", removed)
	s.updateTaskGauges()
	return removed
}

// cleanupWorker periodically sweeps stale tasks
func (s *AggregationService) cleanupWorker(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChannel:
			return
		case <-ticker.C:
			var removed int
			if s.config.AutoCleanupSubmitted {
				removed = s.Cleanup()
			} else {
				removed = s.CleanupExpired()
			}
			if removed > 0 {
				s.logger.Infof("Cleanup sweep removed %d tasks", removed)
			}
		}
	}
}

func (s *AggregationService) thresholdFromRequest(req *types.InitTaskRequest) state.ThresholdType {
	switch req.ThresholdKind {
	case types.ThresholdStakeWeighted:
		return state.StakeWeightedThreshold(req.ThresholdValue)
	case types.ThresholdCount:
		return state.CountThreshold(req.ThresholdValue)
	default:
		if req.ThresholdValue > 0 {
			return state.CountThreshold(req.ThresholdValue)
		}
		return state.DefaultThreshold()
	}
}

func (s *AggregationService) updateTaskGauges() {
	counts := s.state.TaskCounts()
	metrics.TrackTaskCounts(counts.Total, counts.Pending, counts.Ready, counts.Submitted, counts.Expired)
}

// rejectionReason maps registry errors to metric labels
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, state.ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, state.ErrTaskAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, state.ErrTaskExpired):
		return "expired"
	case errors.Is(err, state.ErrDuplicateSignature):
		return "duplicate"
	case errors.Is(err, state.ErrOperatorOutOfBounds):
		return "out_of_bounds"
	default:
		return "other"
	}
}

func decodeHexString(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
