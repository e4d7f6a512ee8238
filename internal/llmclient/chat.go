// File: internal/llmclient/chat.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ChatProvider speaks the OpenAI-compatible chat completions protocol used by
// OpenRouter and by local servers such as Ollama and LM Studio.
type ChatProvider struct {
	name         string
	endpoint     string
	apiKey       string
	defaultModel string
	headers      map[string]string
	httpClient   *http.Client
	logger       *zap.Logger
}

// ChatProviderConfig configures a ChatProvider.
type ChatProviderConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	DefaultModel string
	// Headers are sent with every request, e.g. HTTP-Referer and X-Title.
	Headers map[string]string
}

// -- OpenAI-compatible wire structures --

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string, or a part list when images are attached.
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewChatProvider creates a provider rooted at cfg.BaseURL.
func NewChatProvider(cfg ChatProviderConfig, logger *zap.Logger) (*ChatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for provider %q", cfg.Name)
	}
	return &ChatProvider{
		name:         cfg.Name,
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		headers:      cfg.Headers,
		// Per-attempt deadlines come from the caller's context.
		httpClient: &http.Client{},
		logger:     logger.Named("llm_provider." + cfg.Name),
	}, nil
}

func (p *ChatProvider) Name() string         { return p.name }
func (p *ChatProvider) DefaultModel() string { return p.defaultModel }

// Complete sends one chat completion request. Each call is a single attempt;
// the client decides whether a failure is retried on the fallback model.
func (p *ChatProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body, err := json.Marshal(buildChatRequest(model, req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Network error during completion request", zap.String("model", model), zap.Error(err))
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.handleAPIError(model, resp.StatusCode, respBody)
	}

	var payload chatResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response payload: %w", err)
	}
	if payload.Error != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: payload.Error.Message, Model: model}
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", model)
	}

	p.logger.Debug("Completion received",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", payload.Usage.PromptTokens),
		zap.Int("completion_tokens", payload.Usage.CompletionTokens),
		zap.String("finish_reason", payload.Choices[0].FinishReason))

	return &Response{
		Text:         payload.Choices[0].Message.Content,
		InputTokens:  payload.Usage.PromptTokens,
		OutputTokens: payload.Usage.CompletionTokens,
	}, nil
}

func buildChatRequest(model string, req Request) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := make([]chatContentPart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, chatContentPart{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			mime := img.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, chatContentPart{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: "data:" + mime + ";base64," + img.Data},
			})
		}
		messages = append(messages, chatMessage{Role: string(m.Role), Content: parts})
	}
	return chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (p *ChatProvider) handleAPIError(model string, statusCode int, body []byte) error {
	p.logger.Warn("Completion backend returned error status",
		zap.String("model", model),
		zap.Int("status", statusCode),
		zap.String("response", truncate(string(body), 512)))
	return &APIError{StatusCode: statusCode, Body: string(body), Model: model}
}
