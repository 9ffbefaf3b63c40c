// Package llm wraps the OpenAI-compatible generation backend. It serves
// three jobs: narrative insight generation for diagnostic and prescriptive
// answers, the generative judge for answer evaluation, and embeddings for
// benchmark knowledge retrieval.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/pkg/circuitbreaker"
	"github.com/campaigniq/backend/pkg/logger"
	"github.com/campaigniq/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.Breaker
	policy         retry.Policy
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	policy := retry.DefaultPolicy()
	policy.Logger = logger.GetLogger()
	// API hiccups are worth retrying; caller cancellation is not.
	policy.IsTransient = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		policy:         policy,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.policy, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.policy, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			embedding = append([]float32(nil), resp.Data[0].Embedding...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.policy, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}
				for _, data := range resp.Data {
					embeddings = append(embeddings, append([]float32(nil), data.Embedding...))
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

// GenerateInsights produces narrative commentary over already-computed
// numbers. The prompt forbids introducing figures not present in the data
// block; the model explains, it does not calculate.
func (c *Client) GenerateInsights(ctx context.Context, question, dataBlock string, prescriptive bool) (string, error) {
	systemPrompt := `You are a marketing-campaign analytics assistant. You are given a business question and the exact data already retrieved for it.

Your commentary must:
1. Reference ONLY the numbers present in the data block; never invent figures
2. Explain likely drivers behind the observed pattern
3. Stay under 120 words
4. Use plain business language, no markdown headers`

	if prescriptive {
		systemPrompt += `
5. End with 2-3 concrete, actionable recommendations grounded in the data`
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nData:\n%s", question, dataBlock)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate insights: %w", err)
	}

	logger.Debug("Insights generated", zap.Int("length", len(resp.Content)))
	return resp.Content, nil
}

// Verdict is the parsed output of the generative judge.
type Verdict struct {
	Faithful  bool    `json:"faithful"`
	Complete  bool    `json:"complete"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// JudgeAnswer asks the model whether a produced answer is faithful to the
// retrieved data and responsive to the question. Used sparingly; callers
// gate it behind the evaluation escalation policy.
func (c *Client) JudgeAnswer(ctx context.Context, question, answer, dataBlock string) (*Verdict, error) {
	systemPrompt := `You are an answer-quality judge for a campaign analytics system.

Given a question, the data retrieved for it, and the answer shown to the user, decide:
- faithful: every figure in the answer appears in or follows arithmetically from the data
- complete: the answer addresses what was asked
- score: overall quality 0.0-1.0

Return JSON only:
{"faithful": true, "complete": true, "score": 0.9, "reasoning": "..."}`

	userPrompt := fmt.Sprintf("Question: %s\n\nData:\n%s\n\nAnswer:\n%s", question, dataBlock, answer)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to judge answer: %w", err)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse judge verdict: %w", err)
	}
	return verdict, nil
}

// parseVerdict tolerates code fences and leading prose around the JSON.
func parseVerdict(content string) (*Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", content)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
