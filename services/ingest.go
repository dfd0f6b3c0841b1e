package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rag-chatbot-platform/internal/extract"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// DocumentLifecycle is the subset of the document store the ingester
// drives: the pending -> processing -> ready|failed state machine.
type DocumentLifecycle interface {
	MarkProcessing(ctx context.Context, docID primitive.ObjectID) error
	CommitReady(ctx context.Context, docID primitive.ObjectID, chunks []models.Chunk) error
	MarkFailed(ctx context.Context, docID primitive.ObjectID, reason string) error
}

// SiteCrawler fetches and extracts a site's pages for scrape sources.
type SiteCrawler interface {
	Crawl(ctx context.Context, startURL string, opts extract.CrawlOptions) ([]extract.Page, error)
}

// ScrapeRecorder persists crawl statistics for a scrape job.
type ScrapeRecorder interface {
	Complete(ctx context.Context, docID primitive.ObjectID, found, crawled, failed int, lastErr string) error
}

// IngestService turns raw sources into ready documents: extract,
// chunk, embed, commit. Each document moves through the status machine
// exactly once; any failure lands it in failed with a reason.
type IngestService struct {
	docs     DocumentLifecycle
	chunker  *Chunker
	embedder Embedder
	crawler  SiteCrawler
	scrapes  ScrapeRecorder

	embedBatchSize int
	embedWorkers   int
}

func NewIngestService(docs DocumentLifecycle, chunker *Chunker, embedder Embedder, crawler SiteCrawler, scrapes ScrapeRecorder, embedBatchSize int) *IngestService {
	if embedBatchSize <= 0 {
		embedBatchSize = 100
	}
	return &IngestService{
		docs:           docs,
		chunker:        chunker,
		embedder:       embedder,
		crawler:        crawler,
		scrapes:        scrapes,
		embedBatchSize: embedBatchSize,
		embedWorkers:   4,
	}
}

// IngestUpload processes an uploaded file end to end.
func (s *IngestService) IngestUpload(ctx context.Context, doc *models.Document, data []byte) error {
	if err := s.docs.MarkProcessing(ctx, doc.ID); err != nil {
		return err
	}

	result, err := extract.Extract(doc.Filename, doc.ContentType, data)
	if err != nil {
		return s.fail(ctx, doc.ID, fmt.Sprintf("extraction: %v", err))
	}

	return s.ingestText(ctx, doc, result.Text)
}

// IngestScrape crawls the job's site and processes the combined page
// text as one document. Individual page failures are tolerated; the
// document only fails when no page yields text.
func (s *IngestService) IngestScrape(ctx context.Context, doc *models.Document, job *models.ScrapeJob) error {
	if s.crawler == nil {
		return errors.New("scrape ingestion not configured")
	}
	if err := s.docs.MarkProcessing(ctx, doc.ID); err != nil {
		return err
	}

	pages, err := s.crawler.Crawl(ctx, job.URL, extract.CrawlOptions{
		MaxPages:        job.MaxPages,
		IncludePatterns: job.IncludePatterns,
		ExcludePatterns: job.ExcludePatterns,
		RenderJS:        job.RenderJS,
	})
	if err != nil && len(pages) == 0 {
		s.recordScrape(ctx, doc.ID, 0, 0, 0, err.Error())
		return s.fail(ctx, doc.ID, fmt.Sprintf("crawl: %v", err))
	}

	var sb strings.Builder
	crawled, failed := 0, 0
	lastErr := ""
	for _, page := range pages {
		if page.Err != nil {
			failed++
			lastErr = page.Err.Error()
			logger.Warn("Page skipped during scrape", "url", page.URL, "error", page.Err)
			continue
		}
		crawled++
		if page.Title != "" {
			fmt.Fprintf(&sb, "# %s\n", page.Title)
		}
		fmt.Fprintf(&sb, "%s\n\n%s\n\n", page.URL, page.Text)
	}
	s.recordScrape(ctx, doc.ID, len(pages), crawled, failed, lastErr)

	if crawled == 0 {
		reason := "no pages could be extracted"
		if lastErr != "" {
			reason = fmt.Sprintf("no pages could be extracted, last error: %s", lastErr)
		}
		return s.fail(ctx, doc.ID, reason)
	}

	return s.ingestText(ctx, doc, sb.String())
}

func (s *IngestService) ingestText(ctx context.Context, doc *models.Document, text string) error {
	pieces := s.chunker.Chunk(text)
	if len(pieces) == 0 {
		return s.fail(ctx, doc.ID, "document contains no chunkable text")
	}

	vectors, err := s.embedAll(ctx, pieces)
	if err != nil {
		return s.fail(ctx, doc.ID, fmt.Sprintf("embedding: %v", err))
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunk := models.Chunk{
			TenantID: doc.TenantID,
			ChunkID:  piece.ChunkID,
			Ordinal:  piece.Ordinal,
			Page:     piece.Page,
			Vector:   vectors[i],
		}
		compressed, err := utils.CompressText(piece.Text)
		if err != nil {
			logger.Warn("Chunk compression failed, storing plaintext",
				"document_id", doc.ID.Hex(), "ordinal", piece.Ordinal, "error", err)
			compressed = nil
		}
		if compressed != nil {
			chunk.Compressed = compressed
		} else {
			chunk.Text = piece.Text
		}
		chunks[i] = chunk
	}

	if err := s.docs.CommitReady(ctx, doc.ID, chunks); err != nil {
		return err
	}
	logger.Info("Document ingested",
		"document_id", doc.ID.Hex(), "tenant_id", doc.TenantID, "chunks", len(chunks))
	return nil
}

// embedAll runs embedding sub-batches concurrently; one failed batch
// cancels the rest.
func (s *IngestService) embedAll(ctx context.Context, pieces []ChunkPiece) ([][]float32, error) {
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedWorkers)

	for start := 0; start < len(texts); start += s.embedBatchSize {
		end := start + s.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch, err := s.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// fail records the terminal failure and returns it as an error so the
// task layer does not retry a permanently broken document.
func (s *IngestService) fail(ctx context.Context, docID primitive.ObjectID, reason string) error {
	if err := s.docs.MarkFailed(ctx, docID, reason); err != nil {
		logger.Error("Failed to mark document failed", "document_id", docID.Hex(), "error", err)
	}
	return fmt.Errorf("ingest %s: %s", docID.Hex(), reason)
}

func (s *IngestService) recordScrape(ctx context.Context, docID primitive.ObjectID, found, crawled, failed int, lastErr string) {
	if s.scrapes == nil {
		return
	}
	if err := s.scrapes.Complete(ctx, docID, found, crawled, failed, lastErr); err != nil {
		logger.Error("Failed to record scrape stats", "document_id", docID.Hex(), "error", err)
	}
}
