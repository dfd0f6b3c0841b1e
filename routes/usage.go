package routes

import (
	"net/http"

	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"

	"github.com/gin-gonic/gin"
)

// UsageHandler exposes the tenant's current-period consumption.
type UsageHandler struct {
	quota *services.QuotaGate
	docs  *store.DocumentStore
}

func NewUsageHandler(quota *services.QuotaGate, docs *store.DocumentStore) *UsageHandler {
	return &UsageHandler{quota: quota, docs: docs}
}

func (h *UsageHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/usage", h.Summary)
}

func (h *UsageHandler) Summary(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	summary, err := h.quota.Summary(c.Request.Context(), tenantID, middleware.Tier(c))
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load usage", nil)
		return
	}
	active, err := h.docs.CountActive(c.Request.Context(), tenantID)
	if err != nil {
		logger.Error("Failed to count active documents", "tenant_id", tenantID, "error", err)
	} else {
		summary.DocumentsActive = int(active)
	}
	c.JSON(http.StatusOK, summary)
}
