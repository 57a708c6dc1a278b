package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/rpc"
	"time"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/metrics"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

// Common RPC errors
var (
	ErrTaskNotFound         = errors.New("400. Task not found")
	ErrTaskAlreadySubmitted = errors.New("400. Task has already been submitted")
	ErrTaskExpired          = errors.New("400. Task has expired")
	ErrDuplicateSignature   = errors.New("400. Operator has already signed this task")
	ErrOperatorOutOfBounds  = errors.New("400. Operator index out of bounds")
	ErrInvalidSubmission    = errors.New("400. Invalid signature submission")
	ErrServerShuttingDown   = errors.New("500. Server is shutting down")
)

// RPCServer handles RPC communication with operators
type RPCServer struct {
	service    *aggregator.AggregationService
	logger     logging.Logger
	serverAddr string
	httpServer *http.Server
	isShutdown bool
}

// NewRPCServer creates a new RPC server instance
func NewRPCServer(service *aggregator.AggregationService, logger logging.Logger, serverAddr string) *RPCServer {
	return &RPCServer{
		service:    service,
		logger:     logger,
		serverAddr: serverAddr,
		isShutdown: false,
	}
}

// Start starts the RPC server
func (s *RPCServer) Start(ctx context.Context) error {
	if s.isShutdown {
		return ErrServerShuttingDown
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Aggregator", s); err != nil {
		s.logger.Errorf("Failed to register RPC service: %v", err)
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, rpcServer)

	s.httpServer = &http.Server{
		Addr:    s.serverAddr,
		Handler: mux,
	}

	go func() {
		s.logger.Infof("Starting RPC server on %s", s.serverAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("RPC server error: %v", err)
		}
	}()

	s.logger.Info("RPC server started successfully")
	return nil
}

// Stop gracefully shuts down the RPC server
func (s *RPCServer) Stop(ctx context.Context) error {
	s.isShutdown = true

	if s.httpServer != nil {
		s.logger.Info("Shutting down RPC server...")

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("Error during RPC server shutdown: %v", err)
			return err
		}
	}

	s.logger.Info("RPC server stopped")
	return nil
}

// SignatureSubmissionReply is the response to a signature submission
type SignatureSubmissionReply struct {
	Success             bool  `json:"success"`
	SignaturesCollected int   `json:"signatures_collected"`
	ThresholdMet        bool  `json:"threshold_met"`
	Timestamp           int64 `json:"timestamp"`
}

// SubmitSignature handles partial signature submission from operators via RPC
func (s *RPCServer) SubmitSignature(req *types.SubmitSignatureRequest, reply *SignatureSubmissionReply) error {
	if s.isShutdown {
		return ErrServerShuttingDown
	}

	if req.Signature == "" || req.PublicKey == "" {
		metrics.TrackRPCRequest("SubmitSignature", "invalid")
		return ErrInvalidSubmission
	}

	resp, err := s.service.SubmitSignature(req)
	if err != nil {
		s.logger.Errorf("Rejected RPC signature from operator %d for task service=%d call=%d: %v",
			req.OperatorIndex, req.ServiceID, req.CallID, err)
		metrics.TrackRPCRequest("SubmitSignature", "rejected")
		return toRPCError(err)
	}

	reply.Success = true
	reply.SignaturesCollected = resp.SignaturesCollected
	reply.ThresholdMet = resp.ThresholdMet
	reply.Timestamp = time.Now().Unix()

	metrics.TrackRPCRequest("SubmitSignature", "accepted")
	return nil
}

// TaskStatusRequest identifies one task
type TaskStatusRequest struct {
	ServiceID uint64 `json:"service_id"`
	CallID    uint64 `json:"call_id"`
}

// GetTaskStatus retrieves the status of a specific task via RPC
func (s *RPCServer) GetTaskStatus(req *TaskStatusRequest, reply *types.TaskStatusResponse) error {
	if s.isShutdown {
		return ErrServerShuttingDown
	}

	*reply = *s.service.Status(req.ServiceID, req.CallID)
	metrics.TrackRPCRequest("GetTaskStatus", "ok")
	return nil
}

// HealthCheckRequest represents a health check request
type HealthCheckRequest struct {
	OperatorID string `json:"operator_id,omitempty"`
}

// HealthCheckResponse represents a health check response
type HealthCheckResponse struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Stats      types.ServiceStats `json:"stats"`
	Timestamp  int64              `json:"timestamp"`
	ServerTime string             `json:"server_time"`
}

// HealthCheck provides health status via RPC
func (s *RPCServer) HealthCheck(req *HealthCheckRequest, reply *HealthCheckResponse) error {
	if s.isShutdown {
		reply.Success = false
		reply.Message = "Server is shutting down"
		reply.Timestamp = time.Now().Unix()
		reply.ServerTime = time.Now().Format(time.RFC3339)
		return ErrServerShuttingDown
	}

	reply.Success = true
	reply.Message = "Aggregator RPC server is healthy"
	reply.Stats = s.service.Stats()
	reply.Timestamp = time.Now().Unix()
	reply.ServerTime = time.Now().Format(time.RFC3339)

	return nil
}

// GetAddress returns the server address
func (s *RPCServer) GetAddress() string {
	return s.serverAddr
}

// IsRunning returns true if the server is running
func (s *RPCServer) IsRunning() bool {
	return s.httpServer != nil && !s.isShutdown
}

// toRPCError flattens service errors into the wire-safe sentinel set.
// net/rpc transports errors by string, so errors.Is does not survive
// the hop and clients match on these fixed messages instead.
func toRPCError(err error) error {
	switch {
	case errors.Is(err, state.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, state.ErrTaskAlreadySubmitted):
		return ErrTaskAlreadySubmitted
	case errors.Is(err, state.ErrTaskExpired):
		return ErrTaskExpired
	case errors.Is(err, state.ErrDuplicateSignature):
		return ErrDuplicateSignature
	case errors.Is(err, state.ErrOperatorOutOfBounds):
		return ErrOperatorOutOfBounds
	case errors.Is(err, aggregator.ErrInvalidSignature),
		errors.Is(err, aggregator.ErrInvalidPublicKey),
		errors.Is(err, aggregator.ErrVerificationFailed),
		errors.Is(err, aggregator.ErrOutputMismatch),
		errors.Is(err, aggregator.ErrInvalidOutput):
		return ErrInvalidSubmission
	default:
		return err
	}
}
