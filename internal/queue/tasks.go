package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
)

const (
	TaskIngestUpload = "document:ingest"
	TaskIngestScrape = "document:scrape"
)

type IngestPayload struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
}

// NewIngestUploadTask builds the ingestion task for an uploaded file.
// The task id is derived from the document id so duplicate enqueues of
// the same document collapse into one run.
func NewIngestUploadTask(tenantID, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{TenantID: tenantID, DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestUpload,
		payload,
		asynq.TaskID("ingest:"+documentID),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewIngestScrapeTask(tenantID, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{TenantID: tenantID, DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestScrape,
		payload,
		asynq.TaskID("scrape:"+documentID),
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Client enqueues ingestion work.
type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr, password string, db int) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})}
}

func (c *Client) EnqueueIngestUpload(ctx context.Context, tenantID, documentID string) error {
	task, err := NewIngestUploadTask(tenantID, documentID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil // already queued
	}
	return err
}

func (c *Client) EnqueueIngestScrape(ctx context.Context, tenantID, documentID string) error {
	task, err := NewIngestScrapeTask(tenantID, documentID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}

// TaskProcessor executes ingestion tasks on the worker.
type TaskProcessor struct {
	docs    *store.DocumentStore
	scrapes *store.ScrapeJobStore
	ingest  *services.IngestService
}

func NewTaskProcessor(docs *store.DocumentStore, scrapes *store.ScrapeJobStore, ingest *services.IngestService) *TaskProcessor {
	return &TaskProcessor{docs: docs, scrapes: scrapes, ingest: ingest}
}

// Register wires the processor's handlers into the worker mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestUpload, p.HandleIngestUpload)
	mux.HandleFunc(TaskIngestScrape, p.HandleIngestScrape)
}

func (p *TaskProcessor) HandleIngestUpload(ctx context.Context, t *asynq.Task) error {
	doc, err := p.loadDocument(ctx, t)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(doc.StoragePath)
	if err != nil {
		// The stored file is gone; retrying will not bring it back
		p.failDoc(ctx, doc, fmt.Sprintf("stored file unreadable: %v", err))
		return fmt.Errorf("read %s: %v: %w", doc.StoragePath, err, asynq.SkipRetry)
	}

	if err := p.ingest.IngestUpload(ctx, doc, data); err != nil {
		// Ingest failures are terminal on the document; do not retry
		logger.Error("Upload ingestion failed", "document_id", doc.ID.Hex(), "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	// The raw upload is no longer needed once chunks are committed
	if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove processed upload", "path", doc.StoragePath, "error", err)
	}
	return nil
}

func (p *TaskProcessor) HandleIngestScrape(ctx context.Context, t *asynq.Task) error {
	doc, err := p.loadDocument(ctx, t)
	if err != nil {
		return err
	}

	job, err := p.scrapes.ForDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.failDoc(ctx, doc, "scrape job record missing")
			return fmt.Errorf("scrape job for %s missing: %w", doc.ID.Hex(), asynq.SkipRetry)
		}
		return err
	}

	if err := p.ingest.IngestScrape(ctx, doc, job); err != nil {
		logger.Error("Scrape ingestion failed", "document_id", doc.ID.Hex(), "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (p *TaskProcessor) loadDocument(ctx context.Context, t *asynq.Task) (*models.Document, error) {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := primitive.ObjectIDFromHex(payload.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("bad document id %q: %w", payload.DocumentID, asynq.SkipRetry)
	}

	doc, err := p.docs.Get(ctx, payload.TenantID, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("document %s gone: %w", payload.DocumentID, asynq.SkipRetry)
	}
	if err != nil {
		return nil, err // transient, let asynq retry
	}
	if doc.DeleteMarked {
		return nil, fmt.Errorf("document %s delete-marked: %w", payload.DocumentID, asynq.SkipRetry)
	}
	return doc, nil
}

func (p *TaskProcessor) failDoc(ctx context.Context, doc *models.Document, reason string) {
	if err := p.docs.MarkFailed(ctx, doc.ID, reason); err != nil {
		logger.Error("Failed to mark document failed", "document_id", doc.ID.Hex(), "error", err)
	}
}
