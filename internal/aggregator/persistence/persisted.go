package persistence

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/pkg/crypto"
)

// PersistedTaskState is the durable JSON form of one aggregation task.
// Curve points are hex encoded, clocks are unix milliseconds.
type PersistedTaskState struct {
	ServiceID      uint64            `json:"service_id"`
	CallID         uint64            `json:"call_id"`
	Output         string            `json:"output"`
	OperatorCount  uint32            `json:"operator_count"`
	ThresholdKind  string            `json:"threshold_kind"`
	ThresholdValue uint32            `json:"threshold_value"`
	SignerBitmap   string            `json:"signer_bitmap"`
	Signatures     map[uint32]string `json:"signatures"`
	PublicKeys     map[uint32]string `json:"public_keys"`
	OperatorStakes map[uint32]uint64 `json:"operator_stakes"`
	Submitted      bool              `json:"submitted"`
	CreatedAtMs    int64             `json:"created_at_ms"`
	ExpiresAtMs    *int64            `json:"expires_at_ms,omitempty"`
}

// FromTask converts a live task into its durable form
func FromTask(task *state.TaskState) *PersistedTaskState {
	persisted := &PersistedTaskState{
		ServiceID:      task.ServiceID,
		CallID:         task.CallID,
		Output:         hexutil.Encode(task.Output),
		OperatorCount:  task.OperatorCount,
		ThresholdKind:  string(task.ThresholdType.Kind),
		ThresholdValue: task.ThresholdType.Value,
		SignerBitmap:   task.SignerBitmap.Hex(),
		Signatures:     make(map[uint32]string, len(task.Signatures)),
		PublicKeys:     make(map[uint32]string, len(task.PublicKeys)),
		OperatorStakes: make(map[uint32]uint64, len(task.OperatorStakes)),
		Submitted:      task.Submitted,
		CreatedAtMs:    task.CreatedAt.UnixMilli(),
	}

	for idx, sig := range task.Signatures {
		persisted.Signatures[idx] = crypto.EncodeSignature(sig)
	}
	for idx, pubKey := range task.PublicKeys {
		persisted.PublicKeys[idx] = crypto.EncodePublicKey(pubKey)
	}
	for idx, stake := range task.OperatorStakes {
		persisted.OperatorStakes[idx] = stake
	}
	if task.ExpiresAt != nil {
		ms := task.ExpiresAt.UnixMilli()
		persisted.ExpiresAtMs = &ms
	}
	return persisted
}

// ToTask rebuilds a live task from its durable form
func (p *PersistedTaskState) ToTask() (*state.TaskState, error) {
	output, err := hexutil.Decode(p.Output)
	if err != nil {
		return nil, fmt.Errorf("decoding output: %w", err)
	}

	bitmap, err := uint256.FromHex(p.SignerBitmap)
	if err != nil {
		return nil, fmt.Errorf("decoding signer bitmap: %w", err)
	}

	signatures := make(map[uint32]*bls.Signature, len(p.Signatures))
	for idx, encoded := range p.Signatures {
		sig, err := crypto.ParseSignature(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding signature of operator %d: %w", idx, err)
		}
		signatures[idx] = sig
	}

	publicKeys := make(map[uint32]*bls.G2Point, len(p.PublicKeys))
	for idx, encoded := range p.PublicKeys {
		pubKey, err := crypto.ParsePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding public key of operator %d: %w", idx, err)
		}
		publicKeys[idx] = pubKey
	}

	stakes := make(map[uint32]uint64, len(p.OperatorStakes))
	var totalStake uint64
	for idx, stake := range p.OperatorStakes {
		stakes[idx] = stake
		totalStake += stake
	}

	task := &state.TaskState{
		ServiceID:     p.ServiceID,
		CallID:        p.CallID,
		Output:        output,
		OperatorCount: p.OperatorCount,
		ThresholdType: state.ThresholdType{
			Kind:  state.ThresholdKind(p.ThresholdKind),
			Value: p.ThresholdValue,
		},
		SignerBitmap:   bitmap,
		Signatures:     signatures,
		PublicKeys:     publicKeys,
		OperatorStakes: stakes,
		TotalStake:     totalStake,
		Submitted:      p.Submitted,
		CreatedAt:      time.UnixMilli(p.CreatedAtMs),
	}
	if p.ExpiresAtMs != nil {
		expiresAt := time.UnixMilli(*p.ExpiresAtMs)
		task.ExpiresAt = &expiresAt
	}
	return task, nil
}
