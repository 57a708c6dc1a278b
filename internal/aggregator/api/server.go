package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/state"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/types"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

// APIHandlers contains the aggregation service and provides HTTP handlers
type APIHandlers struct {
	service *aggregator.AggregationService
	logger  logging.Logger
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(service *aggregator.AggregationService, logger logging.Logger) *APIHandlers {
	return &APIHandlers{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers all HTTP routes for the aggregation API
func RegisterRoutes(router *gin.Engine, service *aggregator.AggregationService, logger logging.Logger) {
	handlers := NewAPIHandlers(service, logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tasks", handlers.InitTask)
		v1.POST("/signatures", handlers.SubmitSignature)
		v1.POST("/cleanup", handlers.Cleanup)
		v1.GET("/stats", handlers.GetStats)

		tasks := v1.Group("/tasks/:serviceId/:callId")
		{
			tasks.GET("/status", handlers.GetTaskStatus)
			tasks.GET("/aggregated", handlers.GetAggregatedResult)
			tasks.POST("/submitted", handlers.MarkSubmitted)
		}
		v1.DELETE("/tasks/:serviceId/:callId", handlers.RemoveTask)
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HealthCheck returns the health status of the aggregation service
func (h *APIHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Aggregator service is running",
		"timestamp":   time.Now().Unix(),
		"server_time": time.Now().Format(time.RFC3339),
		"stats":       h.service.Stats(),
		"status":      "healthy",
	})
}

// GetStats returns the task partition counters
func (h *APIHandlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      h.service.Stats(),
		"timestamp": time.Now().Unix(),
	})
}

// InitTask handles task creation requests
func (h *APIHandlers) InitTask(c *gin.Context) {
	var req types.InitTaskRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid task creation request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	if err := h.service.InitTask(&req); err != nil {
		h.logger.Errorf("Failed to create task service=%d call=%d: %v", req.ServiceID, req.CallID, err)
		c.JSON(statusFromError(err), gin.H{
			"success": false,
			"error":   "Failed to create task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"message":   "Task created successfully",
		"data":      h.service.Status(req.ServiceID, req.CallID),
		"timestamp": time.Now().Unix(),
	})
}

// SubmitSignature handles partial signature submissions from operators
func (h *APIHandlers) SubmitSignature(c *gin.Context) {
	var req types.SubmitSignatureRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid signature submission: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.service.SubmitSignature(&req)
	if err != nil {
		h.logger.Errorf("Rejected signature from operator %d for task service=%d call=%d: %v",
			req.OperatorIndex, req.ServiceID, req.CallID, err)
		c.JSON(statusFromError(err), gin.H{
			"success": false,
			"error":   "Failed to submit signature",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      resp,
		"timestamp": time.Now().Unix(),
	})
}

// GetTaskStatus returns a task status snapshot. A missing task is
// reported through the exists flag, not a 404.
func (h *APIHandlers) GetTaskStatus(c *gin.Context) {
	serviceID, callID, ok := h.taskParams(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      h.service.Status(serviceID, callID),
		"timestamp": time.Now().Unix(),
	})
}

// GetAggregatedResult returns the submission-ready aggregate bundle
func (h *APIHandlers) GetAggregatedResult(c *gin.Context) {
	serviceID, callID, ok := h.taskParams(c)
	if !ok {
		return
	}

	result, err := h.service.AggregatedResult(serviceID, callID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{
			"success": false,
			"error":   "No aggregated result available",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      result,
		"timestamp": time.Now().Unix(),
	})
}

// MarkSubmitted freezes a task after on-chain submission
func (h *APIHandlers) MarkSubmitted(c *gin.Context) {
	serviceID, callID, ok := h.taskParams(c)
	if !ok {
		return
	}

	if err := h.service.MarkSubmitted(serviceID, callID); err != nil {
		c.JSON(statusFromError(err), gin.H{
			"success": false,
			"error":   "Failed to mark task as submitted",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Task marked as submitted",
		"timestamp": time.Now().Unix(),
	})
}

// RemoveTask drops a task from the registry
func (h *APIHandlers) RemoveTask(c *gin.Context) {
	serviceID, callID, ok := h.taskParams(c)
	if !ok {
		return
	}

	if !h.service.RemoveTask(serviceID, callID) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Task not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Task removed",
		"timestamp": time.Now().Unix(),
	})
}

// Cleanup runs a manual sweep of expired (and optionally submitted) tasks
func (h *APIHandlers) Cleanup(c *gin.Context) {
	var removed int
	switch c.DefaultQuery("scope", "expired") {
	case "submitted":
		removed = h.service.CleanupSubmitted()
	case "all":
		removed = h.service.Cleanup()
	default:
		removed = h.service.CleanupExpired()
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      types.CleanupResponse{RemovedTasks: removed},
		"timestamp": time.Now().Unix(),
	})
}

func (h *APIHandlers) taskParams(c *gin.Context) (uint64, uint64, bool) {
	serviceID, err := strconv.ParseUint(c.Param("serviceId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid service ID",
		})
		return 0, 0, false
	}
	callID, err := strconv.ParseUint(c.Param("callId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid call ID",
		})
		return 0, 0, false
	}
	return serviceID, callID, true
}

// statusFromError maps service and registry errors onto HTTP statuses
func statusFromError(err error) int {
	switch {
	case errors.Is(err, state.ErrTaskNotFound), errors.Is(err, aggregator.ErrTaskNotReady):
		return http.StatusNotFound
	case errors.Is(err, state.ErrTaskAlreadyExists),
		errors.Is(err, state.ErrDuplicateSignature),
		errors.Is(err, state.ErrTaskAlreadySubmitted),
		errors.Is(err, state.ErrTaskExpired):
		return http.StatusConflict
	case errors.Is(err, state.ErrOperatorOutOfBounds),
		errors.Is(err, aggregator.ErrInvalidOutput),
		errors.Is(err, aggregator.ErrInvalidSignature),
		errors.Is(err, aggregator.ErrInvalidPublicKey),
		errors.Is(err, aggregator.ErrOutputMismatch):
		return http.StatusBadRequest
	case errors.Is(err, aggregator.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
