package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/logger"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// ErrGenerationUnavailable is returned when the model provider is down
// or the circuit breaker has opened.
var ErrGenerationUnavailable = errors.New("generation provider unavailable")

// GenerationResult carries the full model answer plus the token usage
// metered against it for billing.
type GenerationResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one element of a streaming generation. Exactly one of
// the terminal fields is set on the final chunk: Usage on success, Err
// on failure.
type StreamChunk struct {
	Text  string
	Done  bool
	Usage *GenerationResult
	Err   error
}

// GeminiGenerator wraps the Gemini API with a circuit breaker and a
// client-side request rate limiter so provider failures degrade
// gracefully instead of cascading.
type GeminiGenerator struct {
	client       *genai.Client
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	defaultModel string
	timeout      time.Duration
}

func NewGeminiGenerator(ctx context.Context, cfg *config.Config) (*GeminiGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("missing GEMINI_API_KEY for generation")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// 90% of the provider RPM, with a small burst bucket
	rateLimiter := rate.NewLimiter(rate.Limit(float64(cfg.GenerateRPM)*0.9/60.0), maxInt(cfg.GenerateRPM/10, 1))

	return &GeminiGenerator{
		client:       client,
		breaker:      breaker,
		rateLimiter:  rateLimiter,
		defaultModel: cfg.GenerationModel,
		timeout:      cfg.GenerateTimeout,
	}, nil
}

// Generate runs a single-shot completion for the assembled prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, modelID, prompt string) (*GenerationResult, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()

	modelID = g.resolveModel(modelID)
	span.SetAttributes(
		attribute.String("gemini.model", modelID),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.model(modelID)
		resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return nil, ErrGenerationUnavailable
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}

	resp := result.(*genai.GenerateContentResponse)
	gen := resultFromResponse(resp, prompt)
	span.SetAttributes(
		attribute.Int("gemini.input_tokens", gen.InputTokens),
		attribute.Int("gemini.output_tokens", gen.OutputTokens),
	)
	return gen, nil
}

// GenerateStream runs a streaming completion. Chunks are delivered on
// the returned channel; cancelling ctx aborts the provider call and
// closes the channel after a final Err chunk. The channel is always
// closed once the final chunk (Done or Err) has been sent.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, modelID, prompt string) (<-chan StreamChunk, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate_stream")

	modelID = g.resolveModel(modelID)
	span.SetAttributes(attribute.String("gemini.model", modelID))

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.End()
		return nil, err
	}
	if g.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		span.End()
		return nil, ErrGenerationUnavailable
	}

	out := make(chan StreamChunk, 8)

	go func() {
		defer close(out)
		defer span.End()

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		// The consumer may stop reading at any time; every send bails
		// on ctx.Done so the goroutine never wedges on a full channel.
		send := func(c StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		model := g.model(modelID)
		iter := model.GenerateContentStream(callCtx, genai.Text(prompt))

		var sb strings.Builder
		var last *genai.GenerateContentResponse
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				span.SetAttributes(attribute.Bool("gemini.error", true))
				g.recordFailure()
				send(StreamChunk{Err: err, Done: true})
				return
			}
			last = resp

			delta := textOf(resp)
			if delta == "" {
				continue
			}
			sb.WriteString(delta)

			if !send(StreamChunk{Text: delta}) {
				return
			}
		}

		usage := &GenerationResult{Text: sb.String()}
		if last != nil && last.UsageMetadata != nil {
			usage.InputTokens = int(last.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(last.UsageMetadata.CandidatesTokenCount)
		} else {
			usage.InputTokens = estimateTokens(prompt)
			usage.OutputTokens = estimateTokens(usage.Text)
		}
		span.SetAttributes(
			attribute.Int("gemini.input_tokens", usage.InputTokens),
			attribute.Int("gemini.output_tokens", usage.OutputTokens),
		)
		g.recordSuccess()
		send(StreamChunk{Done: true, Usage: usage})
	}()

	return out, nil
}

func (g *GeminiGenerator) model(modelID string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(modelID)
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(2048)
	return model
}

func (g *GeminiGenerator) resolveModel(modelID string) string {
	if modelID == "" {
		return g.defaultModel
	}
	return modelID
}

// The streaming path cannot run inside breaker.Execute because the
// call outlives the closure, so successes and failures are fed to the
// breaker manually through no-op executions.
func (g *GeminiGenerator) recordSuccess() {
	g.breaker.Execute(func() (interface{}, error) { return nil, nil }) //nolint:errcheck
}

func (g *GeminiGenerator) recordFailure() {
	g.breaker.Execute(func() (interface{}, error) { return nil, errors.New("stream failure") }) //nolint:errcheck
}

func resultFromResponse(resp *genai.GenerateContentResponse, prompt string) *GenerationResult {
	gen := &GenerationResult{Text: textOf(resp)}
	if resp.UsageMetadata != nil {
		gen.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		gen.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		return gen
	}
	gen.InputTokens = estimateTokens(prompt)
	gen.OutputTokens = estimateTokens(gen.Text)
	return gen
}

func textOf(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// estimateTokens is the fallback when the provider omits usage
// metadata: roughly 4 characters per token for Gemini models.
func estimateTokens(text string) int {
	estimated := len(text) / 4
	if estimated < 1 && len(text) > 0 {
		return 1
	}
	return estimated
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Close releases the underlying client connection.
func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
