// File: internal/catalog/catalog.go
package catalog

import (
	"sort"
	"strings"
	"time"
)

// Capability is a feature a model may support.
type Capability string

const (
	CapVision    Capability = "vision"
	CapTools     Capability = "tools"
	CapStreaming Capability = "streaming"
	CapEmbedding Capability = "embedding"
)

// CapabilitySet is a sorted, duplicate-free list of capabilities.
type CapabilitySet []Capability

// NewCapabilitySet normalizes caps into a CapabilitySet.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	seen := make(map[Capability]bool, len(caps))
	out := make(CapabilitySet, 0, len(caps))
	for _, c := range caps {
		c = Capability(strings.ToLower(strings.TrimSpace(string(c))))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCapabilities converts config strings into a CapabilitySet.
func ParseCapabilities(raw []string) CapabilitySet {
	caps := make([]Capability, len(raw))
	for i, r := range raw {
		caps[i] = Capability(r)
	}
	return NewCapabilitySet(caps...)
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	for _, have := range s {
		if have == c {
			return true
		}
	}
	return false
}

// HasAll reports whether s is a superset of required. An empty requirement
// is satisfied by every set.
func (s CapabilitySet) HasAll(required CapabilitySet) bool {
	for _, c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Strings returns the set as plain strings.
func (s CapabilitySet) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// Entry is one priced model. Prices are USD per million tokens.
type Entry struct {
	ID            string        `json:"id"`
	PricingInput  float64       `json:"pricing_input"`
	PricingOutput float64       `json:"pricing_output"`
	ContextLength int           `json:"context_length"`
	Capabilities  CapabilitySet `json:"capabilities"`
	IsFree        bool          `json:"is_free"`
}

// CombinedPrice is the sum of input and output price per million tokens.
func (e Entry) CombinedPrice() float64 { return e.PricingInput + e.PricingOutput }

// CostPer1K is the blended price per thousand tokens, averaging input and output.
func (e Entry) CostPer1K() float64 { return (e.PricingInput + e.PricingOutput) / 2 / 1000 }

// Snapshot is an immutable, versioned view of the catalog. A nil *Snapshot
// behaves as an empty catalog.
type Snapshot struct {
	version   uint64
	fetchedAt time.Time
	entries   []Entry
	index     map[string]int
}

// NewSnapshot builds a snapshot from entries. Entries are copied and sorted by
// id; when ids repeat the last one wins.
func NewSnapshot(version uint64, fetchedAt time.Time, entries []Entry) *Snapshot {
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		e.Capabilities = NewCapabilitySet(e.Capabilities...)
		byID[e.ID] = e
	}

	sorted := make([]Entry, 0, len(byID))
	for _, e := range byID {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[string]int, len(sorted))
	for i, e := range sorted {
		index[e.ID] = i
	}
	return &Snapshot{version: version, fetchedAt: fetchedAt, entries: sorted, index: index}
}

// Version is a monotonically increasing refresh counter.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// FetchedAt is when the underlying data was pulled.
func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries ordered by id.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup finds an entry by id.
func (s *Snapshot) Lookup(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}
