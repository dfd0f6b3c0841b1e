package routes

import (
	"errors"
	"io"
	"net/http"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves the end-user conversation routes.
type ChatHandler struct {
	rag      *services.RAGService
	messages *store.MessageStore
	feedback *store.FeedbackStore
	widgets  *store.WidgetStore
}

func NewChatHandler(rag *services.RAGService, messages *store.MessageStore, feedback *store.FeedbackStore, widgets *store.WidgetStore) *ChatHandler {
	return &ChatHandler{rag: rag, messages: messages, feedback: feedback, widgets: widgets}
}

func (h *ChatHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/chat/send", h.Send)
	rg.POST("/chat/stream", h.Stream)
	rg.GET("/chat/conversations/:session_id", h.Conversation)
	rg.POST("/chat/feedback", h.Feedback)
}

// chatContext resolves the widget configuration the verified token
// points at. Document ids the widget still references but that have
// been deleted are filtered lazily at retrieval time.
func (h *ChatHandler) chatContext(c *gin.Context) (services.ChatContext, bool) {
	tenantID := middleware.TenantID(c)
	widgetID := middleware.WidgetID(c)

	widget, err := h.widgets.Get(c.Request.Context(), tenantID, widgetID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondWithNotFound(c, "Widget no longer exists")
		return services.ChatContext{}, false
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load widget", nil)
		return services.ChatContext{}, false
	}

	return services.ChatContext{
		TenantID:      tenantID,
		WidgetID:      widgetID,
		Tier:          middleware.Tier(c),
		ModelID:       widget.ModelID,
		SystemPrompt:  widget.SystemPrompt,
		AllowedDocIDs: widget.DocumentIDs,
	}, true
}

// Send answers a message in one blocking request.
func (h *ChatHandler) Send(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid chat request", err.Error())
		return
	}

	cc, ok := h.chatContext(c)
	if !ok {
		return
	}

	resp, err := h.rag.Send(c.Request.Context(), cc, req)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stream answers a message as server-sent events: ordered delta events
// followed by one done event carrying the full response. Client
// disconnect cancels the request context, which aborts the model call.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid chat request", err.Error())
		return
	}

	cc, ok := h.chatContext(c)
	if !ok {
		return
	}

	events, err := h.rag.Stream(c.Request.Context(), cc, req)
	if err != nil {
		h.respondChatError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, open := <-events
		if !open {
			return false
		}
		c.SSEvent(ev.Type, ev)
		return ev.Type == "delta"
	})
}

// Conversation returns the full transcript of one session.
func (h *ChatHandler) Conversation(c *gin.Context) {
	sessionID := c.Param("session_id")
	msgs, err := h.messages.History(c.Request.Context(), middleware.TenantID(c), sessionID)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load conversation", nil)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   msgs,
		"count":      len(msgs),
	})
}

// Feedback records thumbs up/down on an assistant message.
func (h *ChatHandler) Feedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid feedback request", err.Error())
		return
	}

	fb := &models.Feedback{
		TenantID:  middleware.TenantID(c),
		MessageID: req.MessageID,
		SessionID: req.SessionID,
		Polarity:  req.Polarity,
	}
	if err := h.feedback.Upsert(c.Request.Context(), fb); err != nil {
		utils.RespondWithInternalError(c, "Failed to record feedback", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *ChatHandler) respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrQuotaExceeded):
		utils.RespondWithQuotaExceeded(c, models.UsageMessage)
	case errors.Is(err, ai.ErrGenerationUnavailable), errors.Is(err, ai.ErrEmbeddingUnavailable):
		utils.RespondWithError(c, http.StatusServiceUnavailable, "model_unavailable",
			"The model is temporarily unavailable. Please try again shortly.", nil)
	default:
		logger.Error("Chat request failed", "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithInternalError(c, "Failed to process message", nil)
	}
}
