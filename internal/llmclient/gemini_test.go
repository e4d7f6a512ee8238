// File: internal/llmclient/gemini_test.go
package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

func TestBuildGeminiContents(t *testing.T) {
	contents, system, err := buildGeminiContents([]Message{
		SystemMessage("rule one"),
		SystemMessage("rule two"),
		UserMessage("what is on screen?", Image{MIMEType: "image/jpeg", Data: "aGVsbG8="}),
		{Role: RoleAssistant, Content: "a login form"},
	})
	require.NoError(t, err)

	require.NotNil(t, system)
	require.Len(t, system.Parts, 1)
	assert.Equal(t, "rule one\n\nrule two", system.Parts[0].Text)

	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "what is on screen?", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, []byte("hello"), contents[0].Parts[1].InlineData.Data)
	assert.Equal(t, "image/jpeg", contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
}

func TestBuildGeminiContents_BadImage(t *testing.T) {
	_, _, err := buildGeminiContents([]Message{UserMessage("x", Image{Data: "not base64!"})})
	assert.Error(t, err)
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", zap.NewNop())
	assert.Error(t, err)
}

func TestNewProviders(t *testing.T) {
	cfg := config.NewDefaultConfig().Providers()
	providers, err := NewProviders(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Contains(t, providers, router.ProviderOpenRouter)
	assert.Contains(t, providers, router.ProviderLocal)
	assert.NotContains(t, providers, router.ProviderGemini, "no key, no gemini")
	assert.Equal(t, "llama3.2", providers[router.ProviderLocal].DefaultModel())
}
