// File: internal/catalog/detect.go
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// -- OpenRouter /models wire format --

type modelList struct {
	Data []modelRecord `json:"data"`
}

type modelRecord struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	ContextLength       int          `json:"context_length"`
	Pricing             modelPricing `json:"pricing"`
	Architecture        architecture `json:"architecture"`
	SupportedParameters []string     `json:"supported_parameters"`
}

type architecture struct {
	Modality         string   `json:"modality"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
}

// modelPricing holds per-million prices. The API sends per-token prices as
// strings or numbers; a negative price means the model is dynamically priced.
type modelPricing struct {
	Prompt     float64
	Completion float64
}

func (p *modelPricing) UnmarshalJSON(data []byte) error {
	var raw struct {
		Prompt     interface{} `json:"prompt"`
		Completion interface{} `json:"completion"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if p.Prompt, err = perMillion(raw.Prompt); err != nil {
		return fmt.Errorf("invalid prompt price: %w", err)
	}
	if p.Completion, err = perMillion(raw.Completion); err != nil {
		return fmt.Errorf("invalid completion price: %w", err)
	}
	return nil
}

func perMillion(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, err
		}
		return f * 1_000_000, nil
	case float64:
		return t * 1_000_000, nil
	default:
		return 0, fmt.Errorf("unexpected price type %T", v)
	}
}

// visionModalities are legacy modality strings that imply image input.
var visionModalities = map[string]bool{
	"text+image":             true,
	"multimodal":             true,
	"text+image->text":       true,
	"image+text->text":       true,
	"text+image->text+image": true,
}

// detectCapabilities infers a capability set from catalog metadata.
func detectCapabilities(m modelRecord) CapabilitySet {
	var caps []Capability

	modality := strings.ToLower(m.Architecture.Modality)
	inputSide := modality
	if i := strings.Index(modality, "->"); i >= 0 {
		inputSide = modality[:i]
	}
	vision := visionModalities[modality] || strings.Contains(inputSide, "image")
	for _, in := range m.Architecture.InputModalities {
		if strings.EqualFold(in, "image") {
			vision = true
		}
	}
	if vision {
		caps = append(caps, CapVision)
	}

	for _, p := range m.SupportedParameters {
		switch strings.ToLower(p) {
		case "tools", "functions", "tool_choice":
			caps = append(caps, CapTools)
		}
	}

	embedding := strings.Contains(strings.ToLower(m.ID), "embed") || strings.Contains(strings.ToLower(m.Name), "embed")
	for _, out := range m.Architecture.OutputModalities {
		if strings.HasPrefix(strings.ToLower(out), "embedding") {
			embedding = true
		}
	}
	if embedding {
		caps = append(caps, CapEmbedding)
	} else {
		caps = append(caps, CapStreaming)
	}

	return NewCapabilitySet(caps...)
}

// toEntry converts a wire record. ok is false for records that cannot be priced.
func toEntry(m modelRecord) (Entry, bool) {
	if m.ID == "" || m.Pricing.Prompt < 0 || m.Pricing.Completion < 0 {
		return Entry{}, false
	}
	return Entry{
		ID:            m.ID,
		PricingInput:  m.Pricing.Prompt,
		PricingOutput: m.Pricing.Completion,
		ContextLength: m.ContextLength,
		Capabilities:  detectCapabilities(m),
		IsFree:        strings.HasSuffix(m.ID, ":free") || (m.Pricing.Prompt == 0 && m.Pricing.Completion == 0),
	}, true
}

// ParseModels decodes an OpenRouter-style /models payload into entries.
// The second return value counts records skipped as unpriceable.
func ParseModels(data []byte) ([]Entry, int, error) {
	var list modelList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, 0, fmt.Errorf("decoding catalog: %w", err)
	}

	entries := make([]Entry, 0, len(list.Data))
	skipped := 0
	for _, m := range list.Data {
		e, ok := toEntry(m)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}
