package types

import "time"

// Task management constants
const (
	// Default lifetime of an aggregation task
	DEFAULT_TASK_TTL = time.Hour

	// Background sweep interval for expired tasks
	DEFAULT_CLEANUP_INTERVAL = time.Minute

	// Maximum operator set addressable by the signer bitmap
	MAX_OPERATOR_COUNT = 256

	// Basis point scale for stake-weighted thresholds
	BPS_DENOMINATOR = 10000

	// Retry and timeout settings
	MAX_RETRY_ATTEMPTS = 3
	RPC_TIMEOUT        = 30 * time.Second
)

// ThresholdKind selects the quorum algebra for a task
type ThresholdKind string

const (
	ThresholdCount         ThresholdKind = "count"
	ThresholdStakeWeighted ThresholdKind = "stake_weighted"
)

// InitTaskRequest creates a new aggregation task
type InitTaskRequest struct {
	ServiceID      uint64            `json:"service_id"`
	CallID         uint64            `json:"call_id"`
	Output         string            `json:"output" binding:"required"`
	OperatorCount  uint32            `json:"operator_count" binding:"required"`
	ThresholdKind  ThresholdKind     `json:"threshold_kind,omitempty"`
	ThresholdValue uint32            `json:"threshold_value,omitempty"`
	OperatorStakes map[uint32]uint64 `json:"operator_stakes,omitempty"`
	TTLSeconds     uint64            `json:"ttl_seconds,omitempty"`
}

// SubmitSignatureRequest carries one operator's partial signature
type SubmitSignatureRequest struct {
	ServiceID     uint64 `json:"service_id"`
	CallID        uint64 `json:"call_id"`
	OperatorIndex uint32 `json:"operator_index"`
	Output        string `json:"output,omitempty"`
	Signature     string `json:"signature" binding:"required"`
	PublicKey     string `json:"public_key" binding:"required"`
}

// SubmitSignatureResponse reports the state after accepting a signature
type SubmitSignatureResponse struct {
	ServiceID           uint64 `json:"service_id"`
	CallID              uint64 `json:"call_id"`
	SignaturesCollected int    `json:"signatures_collected"`
	ThresholdMet        bool   `json:"threshold_met"`
}

// TaskStatusResponse is a point-in-time view of one task
type TaskStatusResponse struct {
	ServiceID           uint64        `json:"service_id"`
	CallID              uint64        `json:"call_id"`
	Exists              bool          `json:"exists"`
	SignaturesCollected int           `json:"signatures_collected"`
	ThresholdRequired   uint32        `json:"threshold_required"`
	ThresholdKind       ThresholdKind `json:"threshold_kind"`
	ThresholdMet        bool          `json:"threshold_met"`
	SignerBitmap        string        `json:"signer_bitmap"`
	SignedStakeBps      uint32        `json:"signed_stake_bps"`
	Submitted           bool          `json:"submitted"`
	Expired             bool          `json:"expired"`
	TTLRemainingMs      *int64        `json:"ttl_remaining_ms,omitempty"`
}

// AggregatedResultResponse is the aggregation-ready bundle for submission
type AggregatedResultResponse struct {
	ServiceID           uint64   `json:"service_id"`
	CallID              uint64   `json:"call_id"`
	Output              string   `json:"output"`
	SignerBitmap        string   `json:"signer_bitmap"`
	NonSignerIndices    []uint32 `json:"non_signer_indices"`
	AggregatedSignature string   `json:"aggregated_signature"`
	AggregatedPublicKey string   `json:"aggregated_public_key"`
	SignatureCount      int      `json:"signature_count"`
}

// ServiceStats holds aggregation service counters
type ServiceStats struct {
	TotalTasks     int `json:"total_tasks"`
	PendingTasks   int `json:"pending_tasks"`
	ReadyTasks     int `json:"ready_tasks"`
	SubmittedTasks int `json:"submitted_tasks"`
	ExpiredTasks   int `json:"expired_tasks"`
}

// CleanupResponse reports a manual sweep
type CleanupResponse struct {
	RemovedTasks int `json:"removed_tasks"`
}
