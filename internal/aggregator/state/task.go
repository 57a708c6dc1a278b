package state

import (
	"sort"
	"time"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/holiman/uint256"
)

// TaskID identifies an aggregation task by (service, call) pair. Two tasks
// with the same pair are the same logical task.
type TaskID struct {
	ServiceID uint64
	CallID    uint64
}

func NewTaskID(serviceID, callID uint64) TaskID {
	return TaskID{ServiceID: serviceID, CallID: callID}
}

// ThresholdKind selects the quorum algebra for a task
type ThresholdKind string

const (
	// ThresholdCount requires at least N signatures
	ThresholdCount ThresholdKind = "count"
	// ThresholdStakeWeighted requires at least N basis points (0-10000) of total stake
	ThresholdStakeWeighted ThresholdKind = "stake_weighted"
)

// ThresholdType is the quorum policy chosen at task creation
type ThresholdType struct {
	Kind  ThresholdKind `json:"kind"`
	Value uint32        `json:"value"`
}

// CountThreshold returns a count-based policy requiring n signatures
func CountThreshold(n uint32) ThresholdType {
	return ThresholdType{Kind: ThresholdCount, Value: n}
}

// StakeWeightedThreshold returns a stake-weighted policy requiring bps
// basis points of total stake
func StakeWeightedThreshold(bps uint32) ThresholdType {
	return ThresholdType{Kind: ThresholdStakeWeighted, Value: bps}
}

// DefaultThreshold is a single-signature count threshold
func DefaultThreshold() ThresholdType {
	return CountThreshold(1)
}

// TaskConfig carries the optional knobs for task initialization
type TaskConfig struct {
	ThresholdType  ThresholdType
	OperatorStakes map[uint32]uint64 // optional, defaults to weight 1 per operator
	TTL            time.Duration     // zero means the task never expires
}

// DefaultTaskConfig returns a config with a Count(1) threshold, equal
// stakes and no expiry
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{ThresholdType: DefaultThreshold()}
}

// TaskState is the per-task aggregation record. It is owned exclusively by
// the AggregationState registry; all mutation happens under the registry
// lock. TaskState itself does not know about the submitted-to-chain freeze,
// that gate lives in the registry's SubmitSignature.
type TaskState struct {
	ServiceID     uint64
	CallID        uint64
	Output        []byte
	OperatorCount uint32
	ThresholdType ThresholdType

	// SignerBitmap has bit i set iff operator i has submitted a signature.
	// 256-bit, so operator indices are expected to stay below 256.
	SignerBitmap *uint256.Int

	Signatures     map[uint32]*bls.Signature
	PublicKeys     map[uint32]*bls.G2Point
	OperatorStakes map[uint32]uint64

	// TotalStake is fixed at construction. Stake of operators that never
	// sign still counts toward the denominator.
	TotalStake uint64

	Submitted bool

	CreatedAt time.Time
	ExpiresAt *time.Time // nil means never
}

// NewTaskState creates a task with a count-based threshold and no expiry
func NewTaskState(serviceID, callID uint64, output []byte, operatorCount, threshold uint32) *TaskState {
	return NewTaskStateWithConfig(serviceID, callID, output, operatorCount, TaskConfig{
		ThresholdType: CountThreshold(threshold),
	})
}

// NewTaskStateWithConfig creates a task with full configuration. When no
// stake map is supplied every operator gets weight 1. A supplied stake map
// is taken as-is: total stake is the sum of whatever entries it has, and
// operators missing from it contribute zero stake when they sign.
func NewTaskStateWithConfig(serviceID, callID uint64, output []byte, operatorCount uint32, config TaskConfig) *TaskState {
	now := time.Now()

	var expiresAt *time.Time
	if config.TTL > 0 {
		t := now.Add(config.TTL)
		expiresAt = &t
	}

	stakes := config.OperatorStakes
	var totalStake uint64
	if stakes == nil {
		stakes = make(map[uint32]uint64, operatorCount)
		for i := uint32(0); i < operatorCount; i++ {
			stakes[i] = 1
		}
		totalStake = uint64(operatorCount)
	} else {
		for _, stake := range stakes {
			totalStake += stake
		}
	}

	return &TaskState{
		ServiceID:      serviceID,
		CallID:         callID,
		Output:         output,
		OperatorCount:  operatorCount,
		ThresholdType:  config.ThresholdType,
		SignerBitmap:   uint256.NewInt(0),
		Signatures:     make(map[uint32]*bls.Signature),
		PublicKeys:     make(map[uint32]*bls.G2Point),
		OperatorStakes: stakes,
		TotalStake:     totalStake,
		Submitted:      false,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}
}

// IsExpired reports whether the task's TTL has elapsed
func (t *TaskState) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

// TimeRemaining returns the time left until expiry, or false once the task
// has expired or never expires
func (t *TaskState) TimeRemaining() (time.Duration, bool) {
	if t.ExpiresAt == nil {
		return 0, false
	}
	remaining := time.Until(*t.ExpiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// AddSignature records one operator's signature. Preconditions are checked
// in order: bounds, duplicate, expiry. On success the signer bit is set and
// both maps are updated atomically.
func (t *TaskState) AddSignature(operatorIndex uint32, signature *bls.Signature, publicKey *bls.G2Point) error {
	if operatorIndex >= t.OperatorCount {
		return ErrOperatorOutOfBounds
	}
	if t.HasSigned(operatorIndex) {
		return ErrDuplicateSignature
	}
	if t.IsExpired() {
		return ErrTaskExpired
	}

	t.SignerBitmap.Or(t.SignerBitmap, bitmapMask(operatorIndex))
	t.Signatures[operatorIndex] = signature
	t.PublicKeys[operatorIndex] = publicKey

	return nil
}

// HasSigned reports whether bit operatorIndex is set in the signer bitmap
func (t *TaskState) HasSigned(operatorIndex uint32) bool {
	return !new(uint256.Int).And(t.SignerBitmap, bitmapMask(operatorIndex)).IsZero()
}

// SignatureCount returns the number of signatures collected so far
func (t *TaskState) SignatureCount() int {
	return len(t.Signatures)
}

// SignedStake sums the stakes of every operator that has signed. Signers
// missing from the stake table contribute zero.
func (t *TaskState) SignedStake() uint64 {
	var signed uint64
	for idx := range t.Signatures {
		signed += t.OperatorStakes[idx]
	}
	return signed
}

// SignedStakeBps returns the signed stake as basis points (0-10000) of
// total stake, using integer floor division. A zero-total-stake task always
// reports zero.
func (t *TaskState) SignedStakeBps() uint32 {
	if t.TotalStake == 0 {
		return 0
	}
	return uint32(t.SignedStake() * 10000 / t.TotalStake)
}

// ThresholdMet dispatches on the task's quorum policy
func (t *TaskState) ThresholdMet() bool {
	switch t.ThresholdType.Kind {
	case ThresholdStakeWeighted:
		return t.SignedStakeBps() >= t.ThresholdType.Value
	default:
		return t.SignatureCount() >= int(t.ThresholdType.Value)
	}
}

// ThresholdValue returns the raw threshold value for status responses
func (t *TaskState) ThresholdValue() uint32 {
	return t.ThresholdType.Value
}

// Signers returns the operator indices that have signed, in ascending
// order. The ordering is load-bearing: the chain submission format expects
// deterministic signer ordering.
func (t *TaskState) Signers() []uint32 {
	signers := make([]uint32, 0, len(t.Signatures))
	for idx := range t.Signatures {
		signers = append(signers, idx)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })
	return signers
}

// NonSigners returns the operator indices that have not signed, ascending
func (t *TaskState) NonSigners() []uint32 {
	nonSigners := make([]uint32, 0, t.OperatorCount)
	for i := uint32(0); i < t.OperatorCount; i++ {
		if !t.HasSigned(i) {
			nonSigners = append(nonSigners, i)
		}
	}
	return nonSigners
}

// SignaturesForAggregation returns the collected signatures and public keys
// as two parallel slices in ascending operator-index order, index-for-index
// corresponding to the same operator.
func (t *TaskState) SignaturesForAggregation() ([]*bls.Signature, []*bls.G2Point) {
	signers := t.Signers()
	sigs := make([]*bls.Signature, 0, len(signers))
	pubKeys := make([]*bls.G2Point, 0, len(signers))

	for _, idx := range signers {
		sig, okSig := t.Signatures[idx]
		pubKey, okPub := t.PublicKeys[idx]
		if okSig && okPub {
			sigs = append(sigs, sig)
			pubKeys = append(pubKeys, pubKey)
		}
	}

	return sigs, pubKeys
}

func bitmapMask(operatorIndex uint32) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(operatorIndex))
}
