package handler

import (
	"net/http"
	"strconv"

	appwebhook "github.com/cms/backend/internal/application/webhook"
	"github.com/cms/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// WebhookHandler exposes webhook subscription management and outbox
// inspection
type WebhookHandler struct {
	BaseHandler
	service   *appwebhook.Service
	testLimit gin.HandlerFunc
}

// NewWebhookHandler creates a webhook handler. testLimit, when non-nil, rate
// limits the test-delivery endpoint.
func NewWebhookHandler(service *appwebhook.Service, testLimit gin.HandlerFunc) *WebhookHandler {
	return &WebhookHandler{service: service, testLimit: testLimit}
}

// RegisterRoutes registers webhook and outbox routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	hooks := rg.Group("/webhooks")
	{
		hooks.POST("", h.Register)
		hooks.GET("", h.List)
		hooks.GET("/:id", h.Get)
		hooks.DELETE("/:id", h.Delete)
		if h.testLimit != nil {
			hooks.POST("/:id/test", h.testLimit, h.SendTest)
		} else {
			hooks.POST("/:id/test", h.SendTest)
		}
	}

	outbox := rg.Group("/outbox")
	{
		outbox.GET("/jobs", h.ListJobs)
		outbox.GET("/jobs/stats", h.GetJobStats)
		outbox.POST("/jobs/:id/requeue", h.RequeueJob)
	}
}

// Register handles POST /webhooks
func (h *WebhookHandler) Register(c *gin.Context) {
	var req appwebhook.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	hook, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Created(c, hook)
}

// List handles GET /webhooks
func (h *WebhookHandler) List(c *gin.Context) {
	hooks, err := h.service.List(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, hooks)
}

// Get handles GET /webhooks/:id
func (h *WebhookHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid webhook ID")
		return
	}

	hook, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, hook)
}

// Delete handles DELETE /webhooks/:id
func (h *WebhookHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid webhook ID")
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.NoContent(c)
}

// SendTest handles POST /webhooks/:id/test
func (h *WebhookHandler) SendTest(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid webhook ID")
		return
	}

	result, err := h.service.SendTest(c.Request.Context(), id)
	if err != nil {
		// A reachable endpoint that answered non-2xx still carries the raw
		// outcome for diagnostics
		if result != nil {
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeTestDeliveryFailed, err.Error(), getRequestID(c))
			resp.Data = result
			c.JSON(http.StatusBadGateway, resp)
			return
		}
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, result)
}

// ListJobs handles GET /outbox/jobs?status=&limit=
func (h *WebhookHandler) ListJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.BadRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, jobs)
}

// GetJobStats handles GET /outbox/jobs/stats
func (h *WebhookHandler) GetJobStats(c *gin.Context) {
	stats, err := h.service.GetJobStats(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, stats)
}

// RequeueJob handles POST /outbox/jobs/:id/requeue
func (h *WebhookHandler) RequeueJob(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid job ID")
		return
	}

	job, err := h.service.RequeueJob(c.Request.Context(), id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, job)
}
