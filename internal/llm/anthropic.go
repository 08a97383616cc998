package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/repairtag/pkg/repairtag/extract"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

// AnthropicConfig configures the Claude backend.
type AnthropicConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Anthropic extracts causes with a forced submit_cause_tags tool call.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	log       *zap.Logger
}

// NewAnthropic builds the backend. SDK retries are off; the resolver owns
// the retry budget.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		limiter:   newLimiter(cfg.RequestsPerMinute),
		log:       log,
	}, nil
}

// ExtractCauses implements extract.Extractor.
func (a *Anthropic) ExtractCauses(ctx context.Context, cases []extract.CaseInput, dictionary []string) ([]extract.CaseResult, error) {
	if len(cases) == 0 {
		return nil, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tool := anthropic.ToolParam{
		Name:        extract.ToolName,
		Description: anthropic.String(toolDescription),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{"cases": casesSchema},
			Required:   []string{"cases"},
		},
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(dictionary)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(cases))),
		},
		Tools:      []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: extract.ToolName}},
	})
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	a.log.Debug("anthropic response",
		zap.String("model", a.model),
		zap.Int("cases", len(cases)),
		zap.Int64("tokens_in", msg.Usage.InputTokens),
		zap.Int64("tokens_out", msg.Usage.OutputTokens))

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == extract.ToolName {
			return extract.DecodeResults(block.Input)
		}
	}
	return nil, fmt.Errorf("%w: no %s tool call in response", extract.ErrMalformedResponse, extract.ToolName)
}

func classifyAnthropic(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &extract.RateLimitError{RetryAfter: retryAfter(apiErr.Response), Err: err}
	}
	return fmt.Errorf("%w: %v", extract.ErrAPI, err)
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}
