// Package advisory talks to the external language-model oracle that provides
// a supplementary trading recommendation.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/indicator"
	"github.com/your-org/dca-drawdown-sim/internal/signal"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
)

// RiskLevel is the oracle's own risk assessment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

// Signal is the oracle's recommendation plus the extras it may report.
type Signal struct {
	signal.Signal
	Risk            RiskLevel
	PricePrediction *float64
}

// Oracle evaluates a market context. Any error means the signal is absent.
type Oracle interface {
	Evaluate(ctx context.Context, mc indicator.MarketContext) (*Signal, error)
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaClient calls the Ollama generate API.
type OllamaClient struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewOllamaClient creates a client from the advisory configuration.
func NewOllamaClient(cfg config.AdvisoryConf) *OllamaClient {
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout.Std() + time.Second},
	}
}

// Ping checks that the server answers its model listing.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrAdvisoryOracle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", simerr.ErrAdvisoryOracle, resp.StatusCode)
	}
	return nil
}

// Generate sends prompt and returns the raw model text.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  c.maxTokens,
			Temperature: c.temperature,
			TopP:        0.9,
			TopK:        40,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return gr.Response, nil
}

// Evaluate prompts the model with mc and parses its recommendation.
func (c *OllamaClient) Evaluate(ctx context.Context, mc indicator.MarketContext) (*Signal, error) {
	text, err := c.Generate(ctx, BuildPrompt(mc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrAdvisoryOracle, err)
	}
	sig, err := ParseAnalysis(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrAdvisoryOracle, err)
	}
	return sig, nil
}

type analysis struct {
	Action          *string  `json:"action"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	RiskLevel       string   `json:"risk_level"`
	PricePrediction *float64 `json:"price_prediction"`
}

// ParseAnalysis extracts the JSON object between the first '{' and the last
// '}' of text. An unknown action degrades to HOLD, a missing one is an error.
func ParseAnalysis(text string) (*Signal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response %q", text)
	}

	var a analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if a.Action == nil {
		return nil, errors.New("analysis has no action")
	}

	action, err := signal.ParseAction(*a.Action)
	if err != nil {
		action = signal.Hold
	}
	conf := 0.5
	if a.Confidence != nil {
		conf = *a.Confidence
	}
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	risk := RiskLevel(strings.ToUpper(a.RiskLevel))
	switch risk {
	case RiskLow, RiskMedium, RiskHigh, RiskVeryHigh:
	default:
		risk = RiskMedium
	}
	reasoning := a.Reasoning
	if reasoning == "" {
		reasoning = "no reasoning given"
	}

	return &Signal{
		Signal:          signal.Signal{Action: action, Confidence: conf, Rationale: reasoning},
		Risk:            risk,
		PricePrediction: a.PricePrediction,
	}, nil
}

// Bounded limits every evaluation of the wrapped oracle to Timeout.
type Bounded struct {
	Oracle  Oracle
	Timeout time.Duration
}

// Evaluate calls the wrapped oracle under a deadline. Errors are wrapped in
// simerr.ErrAdvisoryOracle.
func (b Bounded) Evaluate(ctx context.Context, mc indicator.MarketContext) (*Signal, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	sig, err := b.Oracle.Evaluate(ctx, mc)
	switch {
	case err == nil:
		return sig, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", simerr.ErrAdvisoryOracle, ctx.Err())
	case errors.Is(err, simerr.ErrAdvisoryOracle):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", simerr.ErrAdvisoryOracle, err)
	}
}
