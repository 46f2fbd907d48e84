// Package oracle asks a language model for the probability that a market's
// claim resolves YES.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are a forecasting assistant for binary prediction markets.
Given a claim and its resolution date, estimate the probability that the claim resolves YES.
Respond with a single JSON object and nothing else:
{"probabilityYes": <number between 0 and 1>, "reasoning": "<one short paragraph>"}`

// Config configures the OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Oracle produces probability signals for markets.
type Oracle struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// New builds an Oracle.
func New(cfg Config, logger *zap.Logger) (*Oracle, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("oracle api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Oracle{
		client:  openai.NewClient(opts...),
		model:   modelName,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Estimate asks the model about a market's claim.
func (o *Oracle) Estimate(ctx context.Context, market model.MarketSummary) (model.Signal, error) {
	if strings.TrimSpace(market.Claim) == "" {
		return model.Signal{}, fmt.Errorf("market %d has no claim", market.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(market)),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return model.Signal{}, fmt.Errorf("oracle: market %d: %w", market.ID, err)
	}
	if len(resp.Choices) == 0 {
		return model.Signal{}, fmt.Errorf("oracle: market %d: empty response", market.ID)
	}

	estimate, err := ParseEstimate(resp.Choices[0].Message.Content)
	if err != nil {
		return model.Signal{}, fmt.Errorf("oracle: market %d: %w", market.ID, err)
	}

	o.logger.Info("oracle estimate",
		zap.Uint64("market_id", market.ID),
		zap.Float64("probability_yes", estimate.ProbabilityYes),
		zap.String("model", o.model),
	)
	return model.Signal{
		MarketID:    market.ID,
		Probability: estimate.ProbabilityYes,
		Reasoning:   estimate.Reasoning,
		Source:      model.SignalSourceOracle,
		Ref:         resp.ID,
		ReceivedAt:  o.now(),
	}, nil
}

func userPrompt(market model.MarketSummary) string {
	end := time.Unix(market.EndTime, 0).UTC().Format(time.RFC3339)
	return fmt.Sprintf("Claim: %s\nResolution date: %s", market.Claim, end)
}

// Estimate is the decoded model answer.
type Estimate struct {
	ProbabilityYes float64 `json:"probabilityYes"`
	Reasoning      string  `json:"reasoning"`
}

// ParseEstimate extracts the JSON answer from content, which may be wrapped in
// a markdown code fence or surrounded by prose.
func ParseEstimate(content string) (Estimate, error) {
	body := strings.TrimSpace(content)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimPrefix(body, "json")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return Estimate{}, model.NewDecodeError("oracle", "", "no JSON object in response")
	}

	var raw struct {
		ProbabilityYes *float64 `json:"probabilityYes"`
		Reasoning      string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return Estimate{}, model.NewDecodeError("oracle", "", "%v", err)
	}
	if raw.ProbabilityYes == nil {
		return Estimate{}, model.NewDecodeError("oracle", "probabilityYes", "missing")
	}
	p := *raw.ProbabilityYes
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
		return Estimate{}, model.NewDecodeError("oracle", "probabilityYes", "%v outside [0, 1]", p)
	}
	return Estimate{ProbabilityYes: p, Reasoning: strings.TrimSpace(raw.Reasoning)}, nil
}
