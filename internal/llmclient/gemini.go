// File: internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider calls Google Gemini directly through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider initializes the SDK client.
func NewGeminiProvider(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, logger: logger.Named("llm_provider.gemini")}, nil
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return defaultGeminiModel }

// Complete sends the conversation as a single GenerateContent call. System
// messages become the system instruction.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}
	contents, system, err := buildGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != nil {
		genCfg.SystemInstruction = system
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini model %s failed: %w", model, err)
	}

	out := &Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if out.Text == "" && len(resp.Candidates) > 0 {
		return nil, fmt.Errorf("gemini model %s returned empty content (reason: %s)", model, resp.Candidates[0].FinishReason)
	}

	p.logger.Debug("Completion received",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", out.InputTokens),
		zap.Int("completion_tokens", out.OutputTokens))
	return out, nil
}

func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content, error) {
	var (
		contents    []*genai.Content
		systemTexts []string
	)
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemTexts = append(systemTexts, m.Content)
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for i, img := range m.Images {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, nil, fmt.Errorf("image %d is not valid base64: %w", i, err)
			}
			mime := img.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, genai.NewPartFromBytes(data, mime))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	var system *genai.Content
	if len(systemTexts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemTexts, "\n\n"), genai.RoleUser)
	}
	return contents, system, nil
}
