package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/repairtag/pkg/repairtag/extract"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI calls an OpenAI-compatible chat completion endpoint and asks for
// a JSON object reply.
type OpenAI struct {
	BaseURL string // full chat-completions URL
	APIKey  string
	Model   string

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *zap.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractCauses implements extract.Extractor.
func (c *OpenAI) ExtractCauses(ctx context.Context, cases []extract.CaseInput, dictionary []string) ([]extract.CaseResult, error) {
	if len(cases) == 0 {
		return nil, nil
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt(dictionary) + jsonInstruction},
		{Role: "user", Content: userPrompt(cases)},
	}
	payload, err := c.send(ctx, messages)
	if err != nil {
		return nil, err
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", extract.ErrMalformedResponse)
	}
	if payload.Usage != nil {
		c.logger().Debug("openai response",
			zap.String("model", c.model()),
			zap.Int("cases", len(cases)),
			zap.Int64("tokens_in", payload.Usage.PromptTokens),
			zap.Int64("tokens_out", payload.Usage.CompletionTokens))
	}
	return extract.DecodeResults([]byte(stripFences(payload.Choices[0].Message.Content)))
}

func (c *OpenAI) send(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:          c.model(),
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	url := c.BaseURL
	if url == "" {
		url = defaultOpenAIURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", extract.ErrAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", extract.ErrAPI, err)
	}
	var payload chatResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &extract.RateLimitError{RetryAfter: retryAfter(resp), Err: apiMessage(resp.StatusCode, &payload)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %v", extract.ErrAPI, apiMessage(resp.StatusCode, &payload))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedResponse, decodeErr)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("%w: %s", extract.ErrAPI, payload.Error.Message)
	}
	return &payload, nil
}

func apiMessage(status int, payload *chatResponse) error {
	if payload.Error != nil && payload.Error.Message != "" {
		return fmt.Errorf("status %d: %s", status, payload.Error.Message)
	}
	return fmt.Errorf("status %d", status)
}

func (c *OpenAI) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 2 * time.Minute}
}

func (c *OpenAI) model() string {
	if c.Model == "" {
		return defaultOpenAIModel
	}
	return c.Model
}

func (c *OpenAI) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
