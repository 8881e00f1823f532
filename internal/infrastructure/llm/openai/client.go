package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
}

func (c Config) withDefaults() Config {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com"
	}
	if out.Model == "" {
		out.Model = "gpt-4o"
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 500
	}
	if out.Temperature <= 0 {
		out.Temperature = 0.1
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	return out
}

// Client classifies documents through an OpenAI-compatible vision endpoint.
// One Classify call is exactly one request: rate-limit and timeout failures
// are surfaced with severity tags and retry-after hints, never retried here.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient(cfg.Timeout),
		limiter:     limiter,
		logger:      logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Classify(ctx context.Context, pages []domain.ExtractedPage) (domain.Classification, error) {
	if len(pages) == 0 {
		return domain.Classification{}, domain.WrapError(domain.ErrPermanent, "classify document",
			errors.New("no pages supplied"))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Classification{}, err
		}
	}

	content := []contentPart{{Type: "text", Text: userText(len(pages))}}
	for _, page := range pages {
		content = append(content, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(page.Data),
			},
		})
	}

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: content},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	start := time.Now()
	var response chatResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", request, &response, "classify"); err != nil {
		return domain.Classification{}, tagSeverity("classify document", err)
	}

	c.logger.Info("classification_call_completed",
		"model", c.model,
		"pages", len(pages),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	cls, err := parseClassification(response)
	if err != nil {
		// Retrying an unparseable response for the same input rarely helps;
		// surface it for an operator instead.
		return domain.Classification{}, domain.WrapError(domain.ErrPermanent, "parse classification", err)
	}
	return cls, nil
}
