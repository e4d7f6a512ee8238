// File: internal/catalog/catalog_test.go
package catalog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openRouterPayload mirrors the shape of a real /models response.
const openRouterPayload = `{
  "data": [
    {
      "id": "openai/gpt-4o-mini",
      "name": "OpenAI: GPT-4o-mini",
      "context_length": 128000,
      "architecture": {"modality": "text+image->text", "input_modalities": ["text", "image"], "output_modalities": ["text"]},
      "pricing": {"prompt": "0.00000015", "completion": "0.0000006"},
      "supported_parameters": ["tools", "tool_choice", "temperature"]
    },
    {
      "id": "meta-llama/llama-3.3-70b-instruct:free",
      "name": "Meta: Llama 3.3 70B Instruct (free)",
      "context_length": 65536,
      "architecture": {"modality": "text->text"},
      "pricing": {"prompt": "0", "completion": "0"}
    },
    {
      "id": "openai/text-embedding-3-small",
      "name": "OpenAI: Text Embedding 3 Small",
      "context_length": 8192,
      "architecture": {"modality": "text->embeddings", "output_modalities": ["embeddings"]},
      "pricing": {"prompt": 0.00000002, "completion": 0}
    },
    {
      "id": "openrouter/auto",
      "name": "Auto Router",
      "context_length": 2000000,
      "pricing": {"prompt": "-1", "completion": "-1"}
    }
  ]
}`

// -- Test Cases --

func TestParseModels(t *testing.T) {
	entries, skipped, err := ParseModels([]byte(openRouterPayload))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped, "dynamically priced models are skipped")
	require.Len(t, entries, 3)

	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ID] = e
	}

	mini := byID["openai/gpt-4o-mini"]
	assert.InDelta(t, 0.15, mini.PricingInput, 1e-9, "per-token prices become per-million")
	assert.InDelta(t, 0.6, mini.PricingOutput, 1e-9)
	assert.Equal(t, 128000, mini.ContextLength)
	assert.Equal(t, CapabilitySet{CapStreaming, CapTools, CapVision}, mini.Capabilities)
	assert.False(t, mini.IsFree)

	llama := byID["meta-llama/llama-3.3-70b-instruct:free"]
	assert.True(t, llama.IsFree)
	assert.Equal(t, CapabilitySet{CapStreaming}, llama.Capabilities)

	embed := byID["openai/text-embedding-3-small"]
	assert.True(t, embed.Capabilities.Has(CapEmbedding))
	assert.False(t, embed.Capabilities.Has(CapStreaming))
	assert.InDelta(t, 0.02, embed.PricingInput, 1e-9)
}

func TestParseModels_Malformed(t *testing.T) {
	_, _, err := ParseModels([]byte(`{"data": [{"id": "x", "pricing": {"prompt": "abc"}}]}`))
	assert.Error(t, err)

	_, _, err = ParseModels([]byte(`not json`))
	assert.Error(t, err)
}

func TestCapabilitySet(t *testing.T) {
	set := NewCapabilitySet("Vision", "tools", "vision", "")
	assert.Equal(t, CapabilitySet{CapTools, CapVision}, set)

	assert.True(t, set.HasAll(nil), "empty requirement matches everything")
	assert.True(t, set.HasAll(CapabilitySet{CapVision}))
	assert.False(t, set.HasAll(CapabilitySet{CapVision, CapEmbedding}))
	assert.Equal(t, []string{"tools", "vision"}, set.Strings())
	assert.Equal(t, CapabilitySet{CapStreaming}, ParseCapabilities([]string{" streaming "}))
}

func TestSnapshot(t *testing.T) {
	fetched := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	input := []Entry{
		{ID: "b", PricingInput: 1},
		{ID: "a", PricingInput: 2},
		{ID: "b", PricingInput: 3},
		{ID: ""},
	}
	snap := NewSnapshot(7, fetched, input)

	assert.Equal(t, uint64(7), snap.Version())
	assert.Equal(t, fetched, snap.FetchedAt())
	assert.Equal(t, 2, snap.Len())

	want := []Entry{{ID: "a", PricingInput: 2, Capabilities: CapabilitySet{}}, {ID: "b", PricingInput: 3, Capabilities: CapabilitySet{}}}
	if diff := cmp.Diff(want, snap.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	e, ok := snap.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 3.0, e.PricingInput)
	_, ok = snap.Lookup("zzz")
	assert.False(t, ok)

	// Mutating the returned slice must not affect the snapshot.
	out := snap.Entries()
	out[0].ID = "mutated"
	_, ok = snap.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "a", snap.Entries()[0].ID)

	var empty *Snapshot
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Entries())
	_, ok = empty.Lookup("a")
	assert.False(t, ok)
}

func TestEntryPricing(t *testing.T) {
	e := Entry{PricingInput: 3, PricingOutput: 15}
	assert.Equal(t, 18.0, e.CombinedPrice())
	assert.InDelta(t, 0.009, e.CostPer1K(), 1e-12)
}
