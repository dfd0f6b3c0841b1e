package routes

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentHandler serves the document ingestion and lifecycle routes.
type DocumentHandler struct {
	cfg     *config.Config
	docs    *store.DocumentStore
	scrapes *store.ScrapeJobStore
	quota   *services.QuotaGate
	queue   *queue.Client
}

func NewDocumentHandler(cfg *config.Config, docs *store.DocumentStore, scrapes *store.ScrapeJobStore, quota *services.QuotaGate, q *queue.Client) *DocumentHandler {
	return &DocumentHandler{cfg: cfg, docs: docs, scrapes: scrapes, quota: quota, queue: q}
}

func (h *DocumentHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/documents", h.Upload)
	rg.POST("/documents/scrape", h.Scrape)
	rg.GET("/documents", h.List)
	rg.GET("/documents/:id/status", h.Status)
	rg.DELETE("/documents/:id", h.Delete)
}

// Upload accepts a multipart file and queues it for ingestion. The
// response is 202; extraction and embedding run on the worker.
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	tier := middleware.Tier(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.RespondWithBadRequest(c, "A file field is required", nil)
		return
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("File exceeds the %d byte limit", h.cfg.MaxFileSize), nil)
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !h.typeAllowed(fileHeader.Filename, contentType) {
		utils.RespondWithError(c, http.StatusUnsupportedMediaType, "unsupported_type",
			"Only PDF, DOCX, plain text and markdown files are accepted", nil)
		return
	}

	if err := h.reserveDocumentSlot(c, tenantID, tier); err != nil {
		return
	}

	doc := &models.Document{
		TenantID:    tenantID,
		WidgetID:    middleware.WidgetID(c),
		SourceType:  models.SourceUpload,
		Filename:    filepath.Base(fileHeader.Filename),
		ContentType: contentType,
	}
	if err := h.docs.Create(c.Request.Context(), doc); err != nil {
		h.releaseDocumentSlot(c, tenantID)
		utils.RespondWithInternalError(c, "Failed to register document", nil)
		return
	}

	storagePath := filepath.Join(h.cfg.UploadDir, doc.ID.Hex())
	if err := h.saveUpload(c, fileHeader, storagePath); err != nil {
		h.docs.MarkFailed(c.Request.Context(), doc.ID, "upload could not be stored") //nolint:errcheck
		utils.RespondWithInternalError(c, "Failed to store upload", nil)
		return
	}
	doc.StoragePath = storagePath
	if err := h.docs.SetStoragePath(c.Request.Context(), doc.ID, storagePath); err != nil {
		utils.RespondWithInternalError(c, "Failed to register upload", nil)
		return
	}

	if err := h.queue.EnqueueIngestUpload(c.Request.Context(), tenantID, doc.ID.Hex()); err != nil {
		logger.Error("Failed to enqueue ingestion", "document_id", doc.ID.Hex(), "error", err)
		utils.RespondWithInternalError(c, "Failed to queue document for processing", nil)
		return
	}

	h.recordDocumentUsage(c, tenantID)

	c.JSON(http.StatusAccepted, models.UploadResponse{
		ID:       doc.ID.Hex(),
		Filename: doc.Filename,
		Status:   doc.Status,
		Message:  "Document accepted for processing",
	})
}

// Scrape queues a site crawl as a new document. Scrape quota is
// consumed when the job is accepted; a crawl that later fails does not
// refund it, matching how crawl capacity is actually spent.
func (h *DocumentHandler) Scrape(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	tier := middleware.Tier(c)

	var req models.ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid scrape request", err.Error())
		return
	}
	if err := h.quota.Check(c.Request.Context(), tenantID, tier, models.UsageScrape); err != nil {
		h.respondQuota(c, err, models.UsageScrape)
		return
	}
	if err := h.reserveDocumentSlot(c, tenantID, tier); err != nil {
		return
	}

	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > h.cfg.MaxScrapePages {
		maxPages = h.cfg.MaxScrapePages
	}

	doc := &models.Document{
		TenantID:   tenantID,
		WidgetID:   middleware.WidgetID(c),
		SourceType: models.SourceScrape,
		URL:        req.URL,
	}
	if err := h.docs.Create(c.Request.Context(), doc); err != nil {
		h.releaseDocumentSlot(c, tenantID)
		utils.RespondWithInternalError(c, "Failed to register document", nil)
		return
	}

	job := &models.ScrapeJob{
		TenantID:        tenantID,
		DocumentID:      doc.ID.Hex(),
		URL:             req.URL,
		MaxPages:        maxPages,
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		RenderJS:        req.RenderJS,
	}
	if err := h.scrapes.Create(c.Request.Context(), job); err != nil {
		utils.RespondWithInternalError(c, "Failed to register scrape job", nil)
		return
	}

	// Authoritative scrape quota consumption; a racing request at the
	// boundary loses here
	err := h.quota.Commit(c.Request.Context(), tier, &models.UsageRecord{
		TenantID: tenantID,
		WidgetID: middleware.WidgetID(c),
		Kind:     models.UsageScrape,
	})
	if err != nil {
		h.docs.MarkFailed(c.Request.Context(), doc.ID, "scrape quota exhausted") //nolint:errcheck
		h.respondQuota(c, err, models.UsageScrape)
		return
	}

	if err := h.queue.EnqueueIngestScrape(c.Request.Context(), tenantID, doc.ID.Hex()); err != nil {
		logger.Error("Failed to enqueue scrape", "document_id", doc.ID.Hex(), "error", err)
		utils.RespondWithInternalError(c, "Failed to queue scrape", nil)
		return
	}

	c.JSON(http.StatusAccepted, models.UploadResponse{
		ID:      doc.ID.Hex(),
		URL:     req.URL,
		Status:  doc.Status,
		Message: "Scrape accepted for processing",
	})
}

// Status reports where a document is in its lifecycle.
func (h *DocumentHandler) Status(c *gin.Context) {
	docID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid document id", nil)
		return
	}

	doc, err := h.docs.Get(c.Request.Context(), middleware.TenantID(c), docID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load document", nil)
		return
	}

	c.JSON(http.StatusOK, models.DocumentStatusResponse{
		ID:          doc.ID.Hex(),
		Status:      doc.Status,
		ChunkCount:  doc.ChunkCount,
		ErrorReason: doc.ErrorReason,
	})
}

// List returns the tenant's documents, newest first.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docs.List(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to list documents", nil)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// Delete marks a document for removal. It disappears from retrieval
// immediately; the sweeper reclaims storage afterwards.
func (h *DocumentHandler) Delete(c *gin.Context) {
	docID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid document id", nil)
		return
	}

	err = h.docs.MarkDeleted(c.Request.Context(), middleware.TenantID(c), docID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to delete document", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// reserveDocumentSlot gates new documents against the plan's stored
// document cap. The cap is a count of live documents, not a monthly
// counter, and the claim is a conditional increment so two requests
// racing at the last slot cannot both pass. Writes the response itself
// on failure; the slot is freed when the document is deleted.
func (h *DocumentHandler) reserveDocumentSlot(c *gin.Context, tenantID, tier string) error {
	err := h.docs.ReserveSlot(c.Request.Context(), tenantID, models.LimitsForTier(tier).Documents)
	if errors.Is(err, store.ErrQuotaExceeded) {
		utils.RespondWithQuotaExceeded(c, models.UsageDocument)
		return err
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to check document allowance", nil)
		return err
	}
	return nil
}

// releaseDocumentSlot undoes a reservation when the document was never
// created; once the document exists its deletion frees the slot.
func (h *DocumentHandler) releaseDocumentSlot(c *gin.Context, tenantID string) {
	if err := h.docs.ReleaseSlot(c.Request.Context(), tenantID); err != nil {
		logger.Error("Failed to release document slot", "tenant_id", tenantID, "error", err)
	}
}

// recordDocumentUsage writes the billing record for an accepted upload.
// The document cap was already enforced against the store, so this
// record is not gated.
func (h *DocumentHandler) recordDocumentUsage(c *gin.Context, tenantID string) {
	err := h.quota.Record(c.Request.Context(), &models.UsageRecord{
		TenantID: tenantID,
		WidgetID: middleware.WidgetID(c),
		Kind:     models.UsageDocument,
	})
	if err != nil {
		logger.Error("Failed to record document usage", "tenant_id", tenantID, "error", err)
	}
}

func (h *DocumentHandler) typeAllowed(filename, contentType string) bool {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for _, allowed := range h.cfg.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

func (h *DocumentHandler) saveUpload(c *gin.Context, fileHeader *multipart.FileHeader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return c.SaveUploadedFile(fileHeader, path)
}

func (h *DocumentHandler) respondQuota(c *gin.Context, err error, kind string) {
	if errors.Is(err, services.ErrQuotaExceeded) {
		utils.RespondWithQuotaExceeded(c, kind)
		return
	}
	utils.RespondWithInternalError(c, "Quota check failed", nil)
}
