package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeEmbedder struct {
	lastTexts []string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.lastTexts = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeGenerator struct {
	text         string
	genErr       error
	deltas       []string
	streamFail   bool
	inputTokens  int
	outputTokens int

	calls      int
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (*ai.GenerationResult, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &ai.GenerationResult{Text: f.text, InputTokens: f.inputTokens, OutputTokens: f.outputTokens}, nil
}

func (f *fakeGenerator) GenerateStream(_ context.Context, _ string, prompt string) (<-chan ai.StreamChunk, error) {
	f.calls++
	f.lastPrompt = prompt
	out := make(chan ai.StreamChunk)
	go func() {
		defer close(out)
		var sb strings.Builder
		for i, d := range f.deltas {
			if f.streamFail && i == len(f.deltas)/2 {
				out <- ai.StreamChunk{Err: errors.New("provider reset"), Done: true}
				return
			}
			sb.WriteString(d)
			out <- ai.StreamChunk{Text: d}
		}
		out <- ai.StreamChunk{Done: true, Usage: &ai.GenerationResult{
			Text:         sb.String(),
			InputTokens:  f.inputTokens,
			OutputTokens: f.outputTokens,
		}}
	}()
	return out, nil
}

type memMemory struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (m *memMemory) Append(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = primitive.NewObjectID()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMemory) ReadWindow(_ context.Context, tenantID, sessionID string, maxMessages, _ int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.msgs {
		if msg.TenantID == tenantID && msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if len(out) > maxMessages {
		out = out[len(out)-maxMessages:]
	}
	return out, nil
}

func newTestRAG(gen *fakeGenerator, counter UsageCounter, chunks map[string][]models.Chunk) (*RAGService, *memMemory) {
	memory := &memMemory{}
	retriever := NewRetriever(&fakeChunkSource{chunks: chunks}, 3)
	svc := NewRAGService(&fakeEmbedder{}, gen, retriever, memory, NewQuotaGate(counter), 10, 8000)
	return svc, memory
}

func corpusWithOneDoc() (map[string][]models.Chunk, primitive.ObjectID) {
	docID := primitive.NewObjectID()
	return map[string][]models.Chunk{
		"t1": {
			testChunk(docID, 0, "Widgets are configured in the portal.", []float32{1, 0, 0}),
			testChunk(docID, 1, "Billing runs monthly.", []float32{0, 1, 0}),
		},
	}, docID
}

func nowForTest() time.Time { return time.Now() }

func testChatContext() ChatContext {
	return ChatContext{TenantID: "t1", WidgetID: "w1", Tier: models.TierStarter}
}

func TestSendHappyPath(t *testing.T) {
	corpus, docID := corpusWithOneDoc()
	gen := &fakeGenerator{text: "Configure widgets in the portal.", inputTokens: 50, outputTokens: 10}
	counter := newMemUsageCounter()
	svc, memory := newTestRAG(gen, counter, corpus)

	resp, err := svc.Send(context.Background(), testChatContext(), models.ChatRequest{Message: "how do I configure a widget?"})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Message != gen.text {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.SessionID == "" {
		t.Error("session id not assigned")
	}
	if resp.PIIWarning {
		t.Error("unexpected pii warning")
	}
	if len(resp.Sources) == 0 || resp.Sources[0].DocumentID != docID.Hex() {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.Sources[0].Score < resp.Sources[len(resp.Sources)-1].Score {
		t.Error("sources not ordered by score")
	}

	if len(counter.commits) != 1 {
		t.Fatalf("quota commits = %d", len(counter.commits))
	}
	if counter.commits[0].InputTokens != 50 || counter.commits[0].OutputTokens != 10 {
		t.Errorf("token metering lost: %+v", counter.commits[0])
	}

	if len(memory.msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(memory.msgs))
	}
	if memory.msgs[0].Role != models.RoleUser || memory.msgs[1].Role != models.RoleAssistant {
		t.Error("message roles out of order")
	}

	if !strings.Contains(gen.lastPrompt, "Widgets are configured in the portal.") {
		t.Error("retrieved context missing from prompt")
	}
}

func TestSendRedactsPIIBeforeModel(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{text: "ok"}
	svc, memory := newTestRAG(gen, newMemUsageCounter(), corpus)

	resp, err := svc.Send(context.Background(), testChatContext(),
		models.ChatRequest{Message: "my email is jan@novak.cz, help with billing"})
	if err != nil {
		t.Fatal(err)
	}

	if !resp.PIIWarning {
		t.Error("pii warning not set")
	}
	if strings.Contains(gen.lastPrompt, "jan@novak.cz") {
		t.Error("raw pii reached the model prompt")
	}
	if !strings.Contains(gen.lastPrompt, "[EMAIL]") {
		t.Error("placeholder missing from prompt")
	}
	if strings.Contains(memory.msgs[0].Content, "jan@novak.cz") {
		t.Error("raw pii persisted to memory")
	}
	if !memory.msgs[0].PIIWarning {
		t.Error("stored user message lacks pii flag")
	}
}

func TestSendFailedGenerationConsumesNothing(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{genErr: errors.New("model down")}
	counter := newMemUsageCounter()
	svc, memory := newTestRAG(gen, counter, corpus)

	_, err := svc.Send(context.Background(), testChatContext(), models.ChatRequest{Message: "hello there"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(counter.commits) != 0 {
		t.Error("failed generation consumed quota")
	}
	if len(memory.msgs) != 0 {
		t.Error("failed generation persisted messages")
	}
}

func TestSendQuotaFastFail(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{text: "should not run"}
	counter := newMemUsageCounter()
	// Exhaust the free-tier message allowance up front
	counter.counts[counter.key("t1", models.BillingPeriod(nowForTest()), models.UsageMessage)] = 100
	svc, _ := newTestRAG(gen, counter, corpus)

	cc := testChatContext()
	cc.Tier = models.TierFree
	_, err := svc.Send(context.Background(), cc, models.ChatRequest{Message: "hello"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v", err)
	}
	if gen.calls != 0 {
		t.Error("generator ran despite exhausted quota")
	}
}

// laxCounter passes every pre-flight check so the authoritative
// commit-time gate can be exercised on its own.
type laxCounter struct {
	*memUsageCounter
}

func (l *laxCounter) Check(context.Context, string, string, string, int) error { return nil }

func TestSendCommitGateWithholdsAnswer(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{text: "too late"}
	inner := newMemUsageCounter()
	inner.counts[inner.key("t1", models.BillingPeriod(nowForTest()), models.UsageMessage)] = 100
	svc, memory := newTestRAG(gen, &laxCounter{inner}, corpus)

	cc := testChatContext()
	cc.Tier = models.TierFree
	_, err := svc.Send(context.Background(), cc, models.ChatRequest{Message: "hello"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v", err)
	}
	if gen.calls != 1 {
		t.Error("generator should have run before the commit gate")
	}
	if len(memory.msgs) != 0 {
		t.Error("withheld answer was persisted")
	}
}

func TestStreamDeltasConcatenateToFinal(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{deltas: []string{"Config", "ure in ", "the portal."}, inputTokens: 30, outputTokens: 8}
	counter := newMemUsageCounter()
	svc, memory := newTestRAG(gen, counter, corpus)

	events, err := svc.Stream(context.Background(), testChatContext(), models.ChatRequest{Message: "how do I configure?"})
	if err != nil {
		t.Fatal(err)
	}

	var concat strings.Builder
	var done *models.StreamEvent
	for ev := range events {
		switch ev.Type {
		case "delta":
			if done != nil {
				t.Fatal("delta after done")
			}
			concat.WriteString(ev.Content)
		case "done":
			evCopy := ev
			done = &evCopy
		case "error":
			t.Fatalf("error event: %s", ev.Error)
		}
	}

	if done == nil || done.Response == nil {
		t.Fatal("no terminal done event")
	}
	if concat.String() != done.Response.Message {
		t.Errorf("deltas %q != final %q", concat.String(), done.Response.Message)
	}
	if done.Response.Message != "Configure in the portal." {
		t.Errorf("final message = %q", done.Response.Message)
	}
	if len(done.Response.Sources) == 0 {
		t.Error("done event missing sources")
	}
	if len(counter.commits) != 1 {
		t.Errorf("quota commits = %d", len(counter.commits))
	}
	if len(memory.msgs) != 2 {
		t.Errorf("stored %d messages", len(memory.msgs))
	}
}

func TestStreamProviderFailure(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{deltas: []string{"a", "b", "c", "d"}, streamFail: true}
	counter := newMemUsageCounter()
	svc, memory := newTestRAG(gen, counter, corpus)

	events, err := svc.Stream(context.Background(), testChatContext(), models.ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	sawError := false
	for ev := range events {
		if ev.Type == "error" {
			sawError = true
			// Internal error detail stays server-side.
			if strings.Contains(ev.Error, "provider reset") {
				t.Errorf("error event leaks provider detail: %q", ev.Error)
			}
			if ev.Error != "Failed to process message." {
				t.Errorf("error event = %q, want stable message", ev.Error)
			}
		}
		if ev.Type == "done" {
			t.Fatal("done event after provider failure")
		}
	}
	if !sawError {
		t.Fatal("no error event")
	}
	if len(counter.commits) != 0 {
		t.Error("failed stream consumed quota")
	}
	if len(memory.msgs) != 0 {
		t.Error("failed stream persisted messages")
	}
}

func TestStreamAbandonedConsumerTerminates(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{deltas: []string{"one", "two", "three"}, streamFail: true}
	svc, _ := newTestRAG(gen, newMemUsageCounter(), corpus)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.Stream(ctx, testChatContext(), models.ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	// Read one delta, then walk away like a disconnected SSE client.
	// Cancellation must unblock the producer so the channel closes
	// instead of leaking a goroutine stuck on its terminal send.
	if ev := <-events; ev.Type != "delta" {
		t.Fatalf("first event = %q", ev.Type)
	}
	cancel()

	for range events {
	}
}

func TestSendUsesConversationMemory(t *testing.T) {
	corpus, _ := corpusWithOneDoc()
	gen := &fakeGenerator{text: "second answer"}
	svc, _ := newTestRAG(gen, newMemUsageCounter(), corpus)

	first, err := svc.Send(context.Background(), testChatContext(), models.ChatRequest{Message: "what are widgets?"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Send(context.Background(), testChatContext(), models.ChatRequest{
		Message:   "and how do I delete one?",
		SessionID: first.SessionID,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(gen.lastPrompt, "what are widgets?") {
		t.Error("earlier user turn missing from prompt")
	}
	if !strings.Contains(gen.lastPrompt, "Conversation so far:") {
		t.Error("history section missing from prompt")
	}
}

func TestSendEmptyCorpusStillAnswers(t *testing.T) {
	gen := &fakeGenerator{text: "I don't know."}
	svc, _ := newTestRAG(gen, newMemUsageCounter(), map[string][]models.Chunk{})

	resp, err := svc.Send(context.Background(), testChatContext(), models.ChatRequest{Message: "anything?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources from empty corpus: %+v", resp.Sources)
	}
	if !strings.Contains(gen.lastPrompt, "no relevant documents") {
		t.Error("empty-context note missing from prompt")
	}
}
