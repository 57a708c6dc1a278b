package rpc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/crypto"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

func newTestRPCServer(t *testing.T) (*RPCServer, *aggregator.AggregationService) {
	t.Helper()

	service := aggregator.NewAggregationService(logging.NewNoOpLogger(), aggregator.MinimalServiceConfig())
	return NewRPCServer(service, logging.NewNoOpLogger(), ":0"), service
}

func rpcSignatureRequest(t *testing.T, serviceID, callID uint64, operatorIndex uint32, output []byte) *types.SubmitSignatureRequest {
	t.Helper()

	keyPair := crypto.NewKeyPairFromSeed(fmt.Sprintf("rpc-test-op-%d", operatorIndex))
	message := crypto.SigningMessage(serviceID, callID, output)

	return &types.SubmitSignatureRequest{
		ServiceID:     serviceID,
		CallID:        callID,
		OperatorIndex: operatorIndex,
		Signature:     crypto.EncodeSignature(keyPair.SignMessage(message)),
		PublicKey:     crypto.EncodePublicKey(keyPair.GetPubKeyG2()),
	}
}

func TestRPCSubmitSignature(t *testing.T) {
	server, service := newTestRPCServer(t)
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	var reply SignatureSubmissionReply
	require.NoError(t, server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 0, output), &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, 1, reply.SignaturesCollected)
	assert.False(t, reply.ThresholdMet)

	reply = SignatureSubmissionReply{}
	require.NoError(t, server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 2, output), &reply))
	assert.True(t, reply.ThresholdMet)
}

func TestRPCSubmitSignatureErrors(t *testing.T) {
	server, service := newTestRPCServer(t)
	output := []byte{1, 2, 3}

	require.NoError(t, service.InitTaskWithConfig(1, 100, output, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	var reply SignatureSubmissionReply

	err := server.SubmitSignature(rpcSignatureRequest(t, 9, 9, 0, output), &reply)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = server.SubmitSignature(&types.SubmitSignatureRequest{ServiceID: 1, CallID: 100}, &reply)
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	err = server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 5, output), &reply)
	assert.ErrorIs(t, err, ErrOperatorOutOfBounds)

	require.NoError(t, server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 0, output), &reply))
	err = server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 0, output), &reply)
	assert.ErrorIs(t, err, ErrDuplicateSignature)

	require.NoError(t, service.MarkSubmitted(1, 100))
	err = server.SubmitSignature(rpcSignatureRequest(t, 1, 100, 1, output), &reply)
	assert.ErrorIs(t, err, ErrTaskAlreadySubmitted)
}

func TestRPCGetTaskStatus(t *testing.T) {
	server, service := newTestRPCServer(t)

	require.NoError(t, service.InitTaskWithConfig(1, 100, nil, 3, state.TaskConfig{
		ThresholdType: state.CountThreshold(2),
	}))

	var status types.TaskStatusResponse
	require.NoError(t, server.GetTaskStatus(&TaskStatusRequest{ServiceID: 1, CallID: 100}, &status))
	assert.True(t, status.Exists)
	assert.Equal(t, uint32(2), status.ThresholdRequired)

	status = types.TaskStatusResponse{}
	require.NoError(t, server.GetTaskStatus(&TaskStatusRequest{ServiceID: 9, CallID: 9}, &status))
	assert.False(t, status.Exists)
}

func TestRPCHealthCheck(t *testing.T) {
	server, _ := newTestRPCServer(t)

	var reply HealthCheckResponse
	require.NoError(t, server.HealthCheck(&HealthCheckRequest{}, &reply))
	assert.True(t, reply.Success)
}

func TestRPCShutdownRejectsRequests(t *testing.T) {
	server, _ := newTestRPCServer(t)
	server.isShutdown = true

	var reply SignatureSubmissionReply
	err := server.SubmitSignature(&types.SubmitSignatureRequest{}, &reply)
	assert.ErrorIs(t, err, ErrServerShuttingDown)

	var health HealthCheckResponse
	err = server.HealthCheck(&HealthCheckRequest{}, &health)
	assert.ErrorIs(t, err, ErrServerShuttingDown)
	assert.False(t, server.IsRunning())
}
