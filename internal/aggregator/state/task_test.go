package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blscrypto "github.com/trigg3rX/bls-aggregator/pkg/crypto"
)

func testSignature(t *testing.T, operatorIndex uint32) (*bls.Signature, *bls.G2Point) {
	t.Helper()
	keyPair := blscrypto.NewKeyPairFromSeed(fmt.Sprintf("test-operator-%d", operatorIndex))
	message := blscrypto.SigningMessage(1, 100, []byte{1, 2, 3})
	return keyPair.SignMessage(message), keyPair.GetPubKeyG2()
}

func TestNewTaskState(t *testing.T) {
	task := NewTaskState(1, 100, []byte{1, 2, 3}, 5, 3)

	assert.Equal(t, uint64(1), task.ServiceID)
	assert.Equal(t, uint64(100), task.CallID)
	assert.Equal(t, []byte{1, 2, 3}, task.Output)
	assert.Equal(t, uint32(5), task.OperatorCount)
	assert.Equal(t, CountThreshold(3), task.ThresholdType)
	assert.True(t, task.SignerBitmap.IsZero())
	assert.Empty(t, task.Signatures)
	assert.Empty(t, task.PublicKeys)
	assert.False(t, task.Submitted)
	assert.False(t, task.IsExpired())
	assert.Nil(t, task.ExpiresAt)
}

func TestTaskStateAddSignature(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	sig0, pub0 := testSignature(t, 0)
	require.NoError(t, task.AddSignature(0, sig0, pub0))
	assert.True(t, task.HasSigned(0))
	assert.False(t, task.HasSigned(1))
	assert.Equal(t, 1, task.SignatureCount())

	sig2, pub2 := testSignature(t, 2)
	require.NoError(t, task.AddSignature(2, sig2, pub2))
	assert.True(t, task.HasSigned(2))
	assert.Equal(t, 2, task.SignatureCount())
}

func TestTaskStateDuplicateSignature(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	sig, pub := testSignature(t, 0)
	require.NoError(t, task.AddSignature(0, sig, pub))

	// A second submission fails even when the payload differs
	otherSig, otherPub := testSignature(t, 1)
	err := task.AddSignature(0, otherSig, otherPub)
	assert.ErrorIs(t, err, ErrDuplicateSignature)
	assert.Equal(t, 1, task.SignatureCount())
}

func TestTaskStateOutOfBounds(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	sig, pub := testSignature(t, 5)
	err := task.AddSignature(5, sig, pub)
	assert.ErrorIs(t, err, ErrOperatorOutOfBounds)
	assert.Equal(t, 0, task.SignatureCount())
}

func TestTaskStateCountThreshold(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	assert.False(t, task.ThresholdMet())

	for i := uint32(0); i < 3; i++ {
		sig, pub := testSignature(t, i)
		require.NoError(t, task.AddSignature(i, sig, pub))
		if i < 2 {
			assert.False(t, task.ThresholdMet(), "threshold met after %d signatures", i+1)
		}
	}
	assert.True(t, task.ThresholdMet())
}

func TestTaskStateBitmap(t *testing.T) {
	task := NewTaskState(1, 100, nil, 10, 3)

	for _, idx := range []uint32{0, 3, 7} {
		sig, pub := testSignature(t, idx)
		require.NoError(t, task.AddSignature(idx, sig, pub))
	}

	// 0b10001001 = 137
	assert.Equal(t, uint256.NewInt(137), task.SignerBitmap)
}

func TestTaskStateSignersAndNonSigners(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	// Insert out of ascending order; Signers must still come back sorted
	for _, idx := range []uint32{4, 0, 2} {
		sig, pub := testSignature(t, idx)
		require.NoError(t, task.AddSignature(idx, sig, pub))
	}

	assert.Equal(t, []uint32{0, 2, 4}, task.Signers())
	assert.Equal(t, []uint32{1, 3}, task.NonSigners())
}

func TestTaskStateSignaturesForAggregation(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	expected := make(map[uint32]*bls.Signature)
	for _, idx := range []uint32{3, 1, 4} {
		sig, pub := testSignature(t, idx)
		require.NoError(t, task.AddSignature(idx, sig, pub))
		expected[idx] = sig
	}

	sigs, pubKeys := task.SignaturesForAggregation()
	require.Len(t, sigs, 3)
	require.Len(t, pubKeys, 3)

	// Parallel slices in ascending operator-index order
	for k, idx := range []uint32{1, 3, 4} {
		assert.Same(t, expected[idx], sigs[k])
		assert.Same(t, task.PublicKeys[idx], pubKeys[k])
	}
}

func TestTaskStateStakeWeighted(t *testing.T) {
	stakes := map[uint32]uint64{
		0: 1000, // 10%
		1: 2000, // 20%
		2: 3000, // 30%
		3: 4000, // 40%
	}

	task := NewTaskStateWithConfig(1, 100, nil, 4, TaskConfig{
		ThresholdType:  StakeWeightedThreshold(5000), // 50% required
		OperatorStakes: stakes,
	})

	assert.Equal(t, uint64(10000), task.TotalStake)
	assert.Equal(t, uint64(0), task.SignedStake())
	assert.Equal(t, uint32(0), task.SignedStakeBps())
	assert.False(t, task.ThresholdMet())

	sig3, pub3 := testSignature(t, 3)
	require.NoError(t, task.AddSignature(3, sig3, pub3))
	assert.Equal(t, uint64(4000), task.SignedStake())
	assert.Equal(t, uint32(4000), task.SignedStakeBps())
	assert.False(t, task.ThresholdMet())

	sig1, pub1 := testSignature(t, 1)
	require.NoError(t, task.AddSignature(1, sig1, pub1))
	assert.Equal(t, uint64(6000), task.SignedStake())
	assert.Equal(t, uint32(6000), task.SignedStakeBps())
	assert.True(t, task.ThresholdMet())
}

func TestTaskStateStakeBpsFloorDivision(t *testing.T) {
	// One third of stake against a 3333 bps threshold: floor(1*10000/3) =
	// 3333, so the threshold is met exactly, never rounded up beyond it.
	task := NewTaskStateWithConfig(1, 100, nil, 3, TaskConfig{
		ThresholdType:  StakeWeightedThreshold(3334),
		OperatorStakes: map[uint32]uint64{0: 1, 1: 1, 2: 1},
	})

	sig, pub := testSignature(t, 0)
	require.NoError(t, task.AddSignature(0, sig, pub))

	assert.Equal(t, uint32(3333), task.SignedStakeBps())
	assert.False(t, task.ThresholdMet())
}

func TestTaskStateZeroTotalStake(t *testing.T) {
	task := NewTaskStateWithConfig(1, 100, nil, 2, TaskConfig{
		ThresholdType:  StakeWeightedThreshold(1),
		OperatorStakes: map[uint32]uint64{},
	})

	sig, pub := testSignature(t, 0)
	require.NoError(t, task.AddSignature(0, sig, pub))

	// Zero denominator saturates to 0 bps; a nonzero threshold can never be met
	assert.Equal(t, uint32(0), task.SignedStakeBps())
	assert.False(t, task.ThresholdMet())
}

func TestTaskStatePartialStakeMap(t *testing.T) {
	// Stake maps are taken as-is: operator 1 is missing and contributes
	// zero stake when it signs.
	task := NewTaskStateWithConfig(1, 100, nil, 2, TaskConfig{
		ThresholdType:  StakeWeightedThreshold(5000),
		OperatorStakes: map[uint32]uint64{0: 100},
	})

	assert.Equal(t, uint64(100), task.TotalStake)

	sig, pub := testSignature(t, 1)
	require.NoError(t, task.AddSignature(1, sig, pub))
	assert.Equal(t, uint64(0), task.SignedStake())
	assert.False(t, task.ThresholdMet())
}

func TestTaskStateExpiry(t *testing.T) {
	task := NewTaskStateWithConfig(1, 100, nil, 5, TaskConfig{
		ThresholdType: CountThreshold(3),
		TTL:           50 * time.Millisecond,
	})

	assert.False(t, task.IsExpired())
	_, ok := task.TimeRemaining()
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	assert.True(t, task.IsExpired())
	_, ok = task.TimeRemaining()
	assert.False(t, ok)
}

func TestTaskStateExpiredSignatureRejected(t *testing.T) {
	task := NewTaskStateWithConfig(1, 100, nil, 5, TaskConfig{
		ThresholdType: CountThreshold(3),
		TTL:           10 * time.Millisecond,
	})

	time.Sleep(20 * time.Millisecond)

	sig, pub := testSignature(t, 0)
	err := task.AddSignature(0, sig, pub)
	assert.ErrorIs(t, err, ErrTaskExpired)
}

func TestTaskStateDefaultStakes(t *testing.T) {
	task := NewTaskState(1, 100, nil, 5, 3)

	// Without a stake map every operator gets weight 1
	assert.Equal(t, uint64(5), task.TotalStake)
	for i := uint32(0); i < 5; i++ {
		assert.Equal(t, uint64(1), task.OperatorStakes[i])
	}
}

func TestBitmapMapConsistency(t *testing.T) {
	task := NewTaskState(1, 100, nil, 16, 3)

	for _, idx := range []uint32{2, 5, 11, 15} {
		sig, pub := testSignature(t, idx)
		require.NoError(t, task.AddSignature(idx, sig, pub))
	}

	for i := uint32(0); i < task.OperatorCount; i++ {
		_, inMap := task.Signatures[i]
		assert.Equal(t, inMap, task.HasSigned(i), "bitmap/map mismatch at index %d", i)
	}
}
