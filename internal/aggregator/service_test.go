package aggregator

import (
	"fmt"
	"testing"
	"time"

	"github.com/Layr-Labs/eigensdk-go/crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/crypto"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

func newTestService(config ServiceConfig) *AggregationService {
	return NewAggregationService(logging.NewNoOpLogger(), config)
}

func testKeyPair(operatorIndex uint32) *bls.KeyPair {
	return crypto.NewKeyPairFromSeed(fmt.Sprintf("service-test-operator-%d", operatorIndex))
}

func signedRequest(serviceID, callID uint64, operatorIndex uint32, output []byte) *types.SubmitSignatureRequest {
	keyPair := testKeyPair(operatorIndex)
	message := crypto.SigningMessage(serviceID, callID, output)
	signature := keyPair.SignMessage(message)

	return &types.SubmitSignatureRequest{
		ServiceID:     serviceID,
		CallID:        callID,
		OperatorIndex: operatorIndex,
		Signature:     crypto.EncodeSignature(signature),
		PublicKey:     crypto.EncodePublicKey(keyPair.GetPubKeyG2()),
	}
}

func TestDefaultServiceConfig(t *testing.T) {
	config := DefaultServiceConfig()

	assert.True(t, config.VerifyOnSubmit)
	assert.True(t, config.ValidateOutput)
	assert.Equal(t, time.Hour, config.DefaultTaskTTL)
	assert.Equal(t, time.Minute, config.CleanupInterval)
	assert.True(t, config.AutoCleanupSubmitted)
}

func TestMinimalServiceConfig(t *testing.T) {
	config := MinimalServiceConfig()

	assert.False(t, config.VerifyOnSubmit)
	assert.False(t, config.ValidateOutput)
	assert.Zero(t, config.DefaultTaskTTL)
	assert.Zero(t, config.CleanupInterval)
}

func TestServiceSubmitWithVerification(t *testing.T) {
	service := newTestService(ServiceConfig{VerifyOnSubmit: true, ValidateOutput: true})
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	resp, err := service.SubmitSignature(signedRequest(1, 100, 0, output))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SignaturesCollected)
	assert.False(t, resp.ThresholdMet)

	resp, err = service.SubmitSignature(signedRequest(1, 100, 1, output))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.SignaturesCollected)
	assert.True(t, resp.ThresholdMet)
}

func TestServiceRejectsBadSignature(t *testing.T) {
	service := newTestService(ServiceConfig{VerifyOnSubmit: true})
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	// Signature over a different task's message must not verify
	req := signedRequest(7, 7, 0, output)
	req.ServiceID = 1
	req.CallID = 100

	_, err := service.SubmitSignature(req)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestServiceSkipsVerificationWhenDisabled(t *testing.T) {
	service := newTestService(MinimalServiceConfig())
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	// Wrong-message signature is accepted when verification is off
	req := signedRequest(7, 7, 0, output)
	req.ServiceID = 1
	req.CallID = 100

	resp, err := service.SubmitSignature(req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SignaturesCollected)
}

func TestServiceOutputMismatch(t *testing.T) {
	service := newTestService(ServiceConfig{ValidateOutput: true})
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	req := signedRequest(1, 100, 0, output)
	req.Output = "0xdeadbeef"

	_, err := service.SubmitSignature(req)
	assert.ErrorIs(t, err, ErrOutputMismatch)
}

func TestServiceMalformedEncodings(t *testing.T) {
	service := newTestService(MinimalServiceConfig())
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	good := signedRequest(1, 100, 0, output)

	tests := []struct {
		name    string
		mutate  func(*types.SubmitSignatureRequest)
		wantErr error
	}{
		{
			name:    "bad signature hex",
			mutate:  func(r *types.SubmitSignatureRequest) { r.Signature = "0xzz" },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "truncated signature",
			mutate:  func(r *types.SubmitSignatureRequest) { r.Signature = "0x1234" },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "bad public key hex",
			mutate:  func(r *types.SubmitSignatureRequest) { r.PublicKey = "not-hex" },
			wantErr: ErrInvalidPublicKey,
		},
		{
			name:    "truncated public key",
			mutate:  func(r *types.SubmitSignatureRequest) { r.PublicKey = "0xabcd" },
			wantErr: ErrInvalidPublicKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := *good
			tt.mutate(&req)
			_, err := service.SubmitSignature(&req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServiceSubmitToUnknownTask(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	_, err := service.SubmitSignature(signedRequest(1, 999, 0, nil))
	assert.ErrorIs(t, err, state.ErrTaskNotFound)
}

func TestServiceInitTaskFromRequest(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	require.NoError(t, service.InitTask(&types.InitTaskRequest{
		ServiceID:      1,
		CallID:         100,
		Output:         "0x010203",
		OperatorCount:  4,
		ThresholdKind:  types.ThresholdStakeWeighted,
		ThresholdValue: 5000,
		OperatorStakes: map[uint32]uint64{0: 1000, 1: 2000, 2: 3000, 3: 4000},
	}))

	status := service.Status(1, 100)
	require.True(t, status.Exists)
	assert.Equal(t, types.ThresholdStakeWeighted, status.ThresholdKind)
	assert.Equal(t, uint32(5000), status.ThresholdRequired)

	err := service.InitTask(&types.InitTaskRequest{
		ServiceID:     1,
		CallID:        100,
		Output:        "0x010203",
		OperatorCount: 4,
	})
	assert.ErrorIs(t, err, state.ErrTaskAlreadyExists)
}

func TestServiceInitTaskBadOutput(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	err := service.InitTask(&types.InitTaskRequest{
		ServiceID:     1,
		CallID:        100,
		Output:        "0xnothex",
		OperatorCount: 4,
	})
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestServiceDefaultTTLApplied(t *testing.T) {
	service := newTestService(ServiceConfig{DefaultTaskTTL: time.Minute})

	require.NoError(t, service.InitTaskWithConfig(1, 100, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	status := service.Status(1, 100)
	require.True(t, status.Exists)
	require.NotNil(t, status.TTLRemainingMs)
	assert.LessOrEqual(t, *status.TTLRemainingMs, int64(60_000))
	assert.Greater(t, *status.TTLRemainingMs, int64(50_000))
}

func TestServiceStatusMissingTask(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	status := service.Status(9, 9)
	assert.False(t, status.Exists)
	assert.Equal(t, uint64(9), status.ServiceID)
}

func TestServiceAggregatedResult(t *testing.T) {
	service := newTestService(ServiceConfig{VerifyOnSubmit: true})
	output := []byte{42, 43}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 4, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	_, err := service.AggregatedResult(1, 100)
	assert.ErrorIs(t, err, ErrTaskNotReady)

	for _, idx := range []uint32{1, 3} {
		_, err := service.SubmitSignature(signedRequest(1, 100, idx, output))
		require.NoError(t, err)
	}

	result, err := service.AggregatedResult(1, 100)
	require.NoError(t, err)
	assert.Equal(t, "0x2a2b", result.Output)
	assert.Equal(t, []uint32{0, 2}, result.NonSignerIndices)
	assert.Equal(t, 2, result.SignatureCount)

	// The aggregate must verify against the aggregate public key
	aggSig, err := crypto.ParseSignature(result.AggregatedSignature)
	require.NoError(t, err)
	aggPubKey, err := crypto.ParsePublicKey(result.AggregatedPublicKey)
	require.NoError(t, err)

	valid, err := crypto.VerifySignature(aggPubKey, crypto.SigningMessage(1, 100, output), aggSig)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestServiceAggregatedResultAfterSubmission(t *testing.T) {
	service := newTestService(MinimalServiceConfig())
	output := []byte{1}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 2, state.TaskConfig{
		ThresholdType: state.CountThreshold(1),
	}))
	_, err := service.SubmitSignature(signedRequest(1, 100, 0, output))
	require.NoError(t, err)

	require.NoError(t, service.MarkSubmitted(1, 100))

	_, err = service.AggregatedResult(1, 100)
	assert.ErrorIs(t, err, ErrTaskNotReady)
}

func TestServiceStatsAndCleanup(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	require.NoError(t, service.InitTaskWithConfig(1, 1, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))
	require.NoError(t, service.InitTaskWithConfig(1, 2, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
		TTL:           10 * time.Millisecond,
	}))
	require.NoError(t, service.InitTaskWithConfig(1, 3, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))
	require.NoError(t, service.MarkSubmitted(1, 3))

	time.Sleep(20 * time.Millisecond)

	stats := service.Stats()
	assert.Equal(t, 3, stats.TotalTasks)
	assert.Equal(t, 1, stats.PendingTasks)
	assert.Equal(t, 1, stats.SubmittedTasks)
	assert.Equal(t, 1, stats.ExpiredTasks)

	assert.Equal(t, 1, service.CleanupExpired())
	assert.Equal(t, 1, service.CleanupSubmitted())
	assert.Equal(t, 1, service.Stats().TotalTasks)
}

func TestServiceRemoveTask(t *testing.T) {
	service := newTestService(MinimalServiceConfig())

	require.NoError(t, service.InitTaskWithConfig(1, 100, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	assert.True(t, service.RemoveTask(1, 100))
	assert.False(t, service.RemoveTask(1, 100))
	assert.False(t, service.Status(1, 100).Exists)
}
