package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Amund211/tickerlight/internal/config"
	"github.com/Amund211/tickerlight/internal/constants"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
	"github.com/Amund211/tickerlight/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://api.openai.com"

const systemPrompt = "You are an equity research assistant. Summarize the company for an investor in at most " +
	"five sentences: business model, market position and notable risks. Use only the provided data."

// Profiles are truncated before being sent to keep prompts small
const maxProfileBytes = 8 << 10

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Summarizer writes a short plain text summary of a company from its profile document
type Summarizer interface {
	Summarize(ctx context.Context, symbol string, profile json.RawMessage) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type openAI struct {
	httpClient HttpClient
	fetcher    *retry.Fetcher
	baseURL    string
	apiKey     string
	model      string

	tracer trace.Tracer
}

func NewOpenAI(httpClient HttpClient, fetcher *retry.Fetcher, baseURL, apiKey, model string) *openAI {
	return &openAI{
		httpClient: httpClient,
		fetcher:    fetcher,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,

		tracer: otel.Tracer("tickerlight/llmprovider/openai"),
	}
}

func (o *openAI) Summarize(ctx context.Context, symbol string, profile json.RawMessage) (string, error) {
	ctx, span := o.tracer.Start(ctx, "OpenAI.Summarize")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("model", o.model))

	if len(profile) > maxProfileBytes {
		profile = profile[:maxProfileBytes]
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Symbol: %s\nProfile: %s", symbol, profile)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		err := fmt.Errorf("failed to marshal request: %w", err)
		reporting.Report(ctx, err)
		return "", err
	}

	start := time.Now()
	resp, err := o.fetcher.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", constants.USER_AGENT)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return o.httpClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response body: %w", domain.ErrNetwork, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "LLM request completed", "status", resp.StatusCode, "duration", time.Since(start).String())

	if err := retry.ClassifyStatus(resp.StatusCode); err != nil {
		err := fmt.Errorf("LLM API returned status %d: %w", resp.StatusCode, err)
		reporting.Report(ctx, err, map[string]string{
			"data": string(data),
		})
		return "", err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		err := fmt.Errorf("%w: failed to parse LLM response: %w", domain.ErrServer, err)
		reporting.Report(ctx, err, map[string]string{
			"data": string(data),
		})
		return "", err
	}

	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

type mock struct{}

func (m *mock) Summarize(ctx context.Context, symbol string, profile json.RawMessage) (string, error) {
	return fmt.Sprintf("%s is a mocked company. This summary was generated without a language model.", symbol), nil
}

func NewMock() Summarizer {
	return &mock{}
}

func NewOpenAIOrMock(conf config.Config, httpClient HttpClient, fetcher *retry.Fetcher) (Summarizer, error) {
	if conf.LLMAPIKey() != "" {
		return NewOpenAI(httpClient, fetcher, DefaultBaseURL, conf.LLMAPIKey(), conf.LLMModel()), nil
	}
	if conf.IsDevelopment() {
		return NewMock(), nil
	}
	// The summary is optional, run without it rather than failing startup
	return &disabled{}, nil
}

type disabled struct{}

func (d *disabled) Summarize(ctx context.Context, symbol string, profile json.RawMessage) (string, error) {
	return "", nil
}
