// Package controller exposes the worker registry over HTTP using the request
// and response shapes stock workers speak.
package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/interfaces"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/registry"
	log "github.com/sirupsen/logrus"
)

// Registry is the subset of *registry.Registry the handlers use.
type Registry interface {
	Register(ctx context.Context, endpoint string, checkHeartbeat bool, status *interfaces.WorkerStatus, multimodal bool) error
	Heartbeat(endpoint string, queueLength int) bool
	Remove(endpoint string)
	RefreshAll(ctx context.Context) error
	ListModels() []string
	ListMultimodalModels() []string
	ListLanguageModels() []string
	GetWorkerAddress(model string) string
	Snapshot() (registry.WorkerRecord, bool)
}

// ControllerAPIHandler serves the registry endpoints.
type ControllerAPIHandler struct {
	*handlers.BaseAPIHandler
	registry Registry
}

// NewControllerAPIHandler wraps reg.
func NewControllerAPIHandler(base *handlers.BaseAPIHandler, reg Registry) *ControllerAPIHandler {
	return &ControllerAPIHandler{BaseAPIHandler: base, registry: reg}
}

type registerRequest struct {
	WorkerName     string                   `json:"worker_name"`
	CheckHeartBeat bool                     `json:"check_heart_beat"`
	WorkerStatus   *interfaces.WorkerStatus `json:"worker_status"`
	Multimodal     bool                     `json:"multimodal"`
}

type heartbeatRequest struct {
	WorkerName  string `json:"worker_name"`
	QueueLength int    `json:"queue_length"`
}

type workerRequest struct {
	WorkerName string `json:"worker_name"`
}

type modelRequest struct {
	Model string `json:"model"`
}

// RegisterWorker handles POST /register_worker. A rejected registration is a
// normal outcome and answers 200 with registered=false.
func (h *ControllerAPIHandler) RegisterWorker(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.WorkerName) == "" {
		h.badRequest(c, "worker_name is required")
		return
	}
	err := h.registry.Register(c.Request.Context(), strings.TrimSpace(req.WorkerName), req.CheckHeartBeat, req.WorkerStatus, req.Multimodal)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"registered": true, "message": "worker registered"})
	case errors.Is(err, registry.ErrWorkerConflict), errors.Is(err, registry.ErrProbeFailed):
		c.JSON(http.StatusOK, gin.H{"registered": false, "message": err.Error()})
	default:
		h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusInternalServerError, Error: err})
	}
}

// ReceiveHeartBeat handles POST /receive_heart_beat. Stock workers read the
// "exist" key and re-register when it is false.
func (h *ControllerAPIHandler) ReceiveHeartBeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.WorkerName) == "" {
		h.badRequest(c, "worker_name is required")
		return
	}
	exists := h.registry.Heartbeat(strings.TrimSpace(req.WorkerName), req.QueueLength)
	if exists {
		logging.SkipGinRequestLogging(c)
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists, "exist": exists})
}

// RemoveWorker handles POST /remove_worker.
func (h *ControllerAPIHandler) RemoveWorker(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.WorkerName) == "" {
		h.badRequest(c, "worker_name is required")
		return
	}
	h.registry.Remove(strings.TrimSpace(req.WorkerName))
	c.JSON(http.StatusOK, gin.H{"message": "worker removed"})
}

// RefreshAllWorkers handles POST /refresh_all_workers.
func (h *ControllerAPIHandler) RefreshAllWorkers(c *gin.Context) {
	if err := h.registry.RefreshAll(c.Request.Context()); err != nil {
		log.WithError(err).Warn("refresh removed an unresponsive worker")
		c.JSON(http.StatusOK, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "workers refreshed"})
}

// GetWorkerAddress handles POST /get_worker_address. An empty address means
// no worker serves the model.
func (h *ControllerAPIHandler) GetWorkerAddress(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "model is required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": h.registry.GetWorkerAddress(req.Model)})
}

// ListModels handles POST /list_models.
func (h *ControllerAPIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.registry.ListModels()})
}

// ListMultimodalModels handles POST /list_multimodal_models.
func (h *ControllerAPIHandler) ListMultimodalModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.registry.ListMultimodalModels()})
}

// ListLanguageModels handles POST /list_language_models.
func (h *ControllerAPIHandler) ListLanguageModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.registry.ListLanguageModels()})
}

// TestConnection handles GET /test_connection.
func (h *ControllerAPIHandler) TestConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Controller is active."})
}

// WorkerStatus handles GET /worker_status.
func (h *ControllerAPIHandler) WorkerStatus(c *gin.Context) {
	record, ok := h.registry.Snapshot()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"worker": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"worker": record})
}

func (h *ControllerAPIHandler) badRequest(c *gin.Context, message string) {
	h.WriteErrorResponse(c, &interfaces.ErrorMessage{StatusCode: http.StatusBadRequest, Error: errors.New(message)})
}
