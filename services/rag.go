package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator produces model answers, blocking or streamed.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (*ai.GenerationResult, error)
	GenerateStream(ctx context.Context, modelID, prompt string) (<-chan ai.StreamChunk, error)
}

// Memory is the conversation log contract the orchestrator needs.
type Memory interface {
	Append(ctx context.Context, msg *models.Message) error
	ReadWindow(ctx context.Context, tenantID, sessionID string, maxMessages, maxChars int) ([]models.Message, error)
}

// ChatContext is the verified identity and widget configuration a chat
// request runs under.
type ChatContext struct {
	TenantID      string
	WidgetID      string
	Tier          string
	ModelID       string
	SystemPrompt  string
	AllowedDocIDs []string
}

// RAGService answers end-user questions over the tenant's documents:
// sanitize, retrieve, compose, generate, meter.
type RAGService struct {
	embedder  Embedder
	generator Generator
	retriever *Retriever
	memory    Memory
	quota     *QuotaGate

	memoryMaxMessages int
	memoryMaxChars    int
}

func NewRAGService(embedder Embedder, generator Generator, retriever *Retriever, memory Memory, quota *QuotaGate, memoryMaxMessages, memoryMaxChars int) *RAGService {
	return &RAGService{
		embedder:          embedder,
		generator:         generator,
		retriever:         retriever,
		memory:            memory,
		quota:             quota,
		memoryMaxMessages: memoryMaxMessages,
		memoryMaxChars:    memoryMaxChars,
	}
}

// preparedTurn is everything computed before the model call.
type preparedTurn struct {
	sessionID  string
	question   string // redacted
	piiWarning bool
	language   string
	prompt     string
	sources    []models.SourceReference
}

func (s *RAGService) prepare(ctx context.Context, cc ChatContext, req models.ChatRequest) (*preparedTurn, error) {
	tracer := otel.Tracer("rag-service")
	ctx, span := tracer.Start(ctx, "rag.prepare")
	defer span.End()

	if err := s.quota.Check(ctx, cc.TenantID, cc.Tier, models.UsageMessage); err != nil {
		return nil, err
	}

	turn := &preparedTurn{sessionID: req.SessionID}
	if turn.sessionID == "" {
		turn.sessionID = uuid.New().String()
	}

	redacted, categories := RedactPII(req.Message)
	turn.question = redacted
	turn.piiWarning = len(categories) > 0
	if turn.piiWarning {
		logger.Info("PII redacted from message",
			"tenant_id", cc.TenantID, "session_id", turn.sessionID, "categories", categories)
	}
	turn.language = DetectLanguage(redacted)

	allowed := cc.AllowedDocIDs
	if len(req.DocumentIDs) > 0 {
		allowed = req.DocumentIDs
	}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{redacted})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.retriever.Retrieve(ctx, cc.TenantID, vectors[0], allowed)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	turn.sources = sourceReferences(hits)
	span.SetAttributes(
		attribute.Int("rag.retrieved_chunks", len(hits)),
		attribute.String("rag.language", turn.language),
		attribute.Bool("rag.pii_warning", turn.piiWarning),
	)

	history, err := s.memory.ReadWindow(ctx, cc.TenantID, turn.sessionID, s.memoryMaxMessages, s.memoryMaxChars)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}

	turn.prompt = buildPrompt(cc.SystemPrompt, hits, history, redacted)
	return turn, nil
}

// Send answers a chat message in one blocking round trip.
func (s *RAGService) Send(ctx context.Context, cc ChatContext, req models.ChatRequest) (*models.ChatResponse, error) {
	turn, err := s.prepare(ctx, cc, req)
	if err != nil {
		return nil, err
	}

	gen, err := s.generator.Generate(ctx, cc.ModelID, turn.prompt)
	if err != nil {
		return nil, err
	}

	return s.complete(ctx, cc, turn, gen)
}

// complete meters the finished generation and persists the exchange.
// Quota is consumed here, after success, so a failed generation never
// burns a message; the conditional increment also means a racing
// request at the limit boundary loses cleanly.
func (s *RAGService) complete(ctx context.Context, cc ChatContext, turn *preparedTurn, gen *ai.GenerationResult) (*models.ChatResponse, error) {
	err := s.quota.Commit(ctx, cc.Tier, &models.UsageRecord{
		TenantID:     cc.TenantID,
		WidgetID:     cc.WidgetID,
		Kind:         models.UsageMessage,
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		Language:     turn.language,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMsg := &models.Message{
		TenantID:   cc.TenantID,
		WidgetID:   cc.WidgetID,
		SessionID:  turn.sessionID,
		Role:       models.RoleUser,
		Content:    turn.question,
		PIIWarning: turn.piiWarning,
		Timestamp:  now,
	}
	if err := s.memory.Append(ctx, userMsg); err != nil {
		logger.Error("Failed to persist user message", "error", err, "session_id", turn.sessionID)
	}
	assistantMsg := &models.Message{
		TenantID:  cc.TenantID,
		WidgetID:  cc.WidgetID,
		SessionID: turn.sessionID,
		Role:      models.RoleAssistant,
		Content:   gen.Text,
		Sources:   turn.sources,
		Timestamp: now.Add(time.Millisecond),
	}
	if err := s.memory.Append(ctx, assistantMsg); err != nil {
		logger.Error("Failed to persist assistant message", "error", err, "session_id", turn.sessionID)
	}

	return &models.ChatResponse{
		Message:    gen.Text,
		Sources:    turn.sources,
		SessionID:  turn.sessionID,
		Language:   turn.language,
		PIIWarning: turn.piiWarning,
		Timestamp:  now,
	}, nil
}

// Stream answers a chat message as an ordered event stream: delta
// events carrying partial content, then one terminal done event whose
// payload equals what Send would have returned for the same turn.
func (s *RAGService) Stream(ctx context.Context, cc ChatContext, req models.ChatRequest) (<-chan models.StreamEvent, error) {
	turn, err := s.prepare(ctx, cc, req)
	if err != nil {
		return nil, err
	}

	chunks, err := s.generator.GenerateStream(ctx, cc.ModelID, turn.prompt)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		// Every send must bail on ctx.Done: the consumer stops reading
		// when the SSE client disconnects.
		send := func(ev models.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				logger.Error("Stream generation failed",
					"error", chunk.Err, "session_id", turn.sessionID)
				send(models.StreamEvent{Type: "error", Error: streamErrorMessage(chunk.Err)})
				return
			}
			if chunk.Text != "" && !send(models.StreamEvent{Type: "delta", Content: chunk.Text}) {
				return
			}
			if !chunk.Done {
				continue
			}

			resp, err := s.complete(ctx, cc, turn, chunk.Usage)
			if err != nil {
				logger.Error("Stream completion failed",
					"error", err, "session_id", turn.sessionID)
				send(models.StreamEvent{Type: "error", Error: streamErrorMessage(err)})
				return
			}
			send(models.StreamEvent{Type: "done", Response: resp})
			return
		}
		// Producer closed without a terminal chunk
		send(models.StreamEvent{Type: "error", Error: streamErrorMessage(ai.ErrGenerationUnavailable)})
	}()

	return events, nil
}

// streamErrorMessage maps internal failures to the stable messages the
// blocking path returns; raw error text never reaches the widget.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "Monthly message quota exceeded."
	case errors.Is(err, ai.ErrGenerationUnavailable), errors.Is(err, ai.ErrEmbeddingUnavailable):
		return "The model is temporarily unavailable. Please try again shortly."
	default:
		return "Failed to process message."
	}
}

func sourceReferences(hits []ScoredChunk) []models.SourceReference {
	refs := make([]models.SourceReference, 0, len(hits))
	for _, hit := range hits {
		refs = append(refs, models.SourceReference{
			DocumentID: hit.Chunk.DocumentID.Hex(),
			ChunkID:    hit.Chunk.ChunkID,
			Ordinal:    hit.Chunk.Ordinal,
			Page:       hit.Chunk.Page,
			Score:      hit.Score,
			Snippet:    snippet(hit.Chunk.Text, 200),
		})
	}
	return refs
}

func snippet(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func buildPrompt(systemPrompt string, hits []ScoredChunk, history []models.Message, question string) string {
	var sb strings.Builder

	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
	} else {
		sb.WriteString("You are a helpful support assistant. Answer using only the provided context. If the context does not contain the answer, say you don't know.")
	}
	sb.WriteString("\n\n")

	if len(hits) > 0 {
		sb.WriteString("Context:\n")
		for i, hit := range hits {
			fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, hit.Chunk.Text)
		}
	} else {
		sb.WriteString("Context: (no relevant documents found)\n\n")
	}

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, msg := range history {
			role := "User"
			if msg.Role == models.RoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, msg.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User: %s\nAssistant:", question)
	return sb.String()
}
