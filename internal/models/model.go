package models

import "sync"

// Provider identifies which upstream adapter serves a model.
type Provider string

const (
	// ProviderGemini is the primary hosted API.
	ProviderGemini Provider = "gemini"
	// ProviderPublisher is a hosted-publisher model behind an
	// OpenAI-compatible endpoint.
	ProviderPublisher Provider = "publisher"
	// ProviderLocal is a model served by a local Ollama host.
	ProviderLocal Provider = "local"
)

// Parameters are the generation settings for one model. They are read-only
// to the orchestrator during a turn.
type Parameters struct {
	Temperature        float64 `json:"temperature" yaml:"temperature"`
	TopK               int     `json:"topK" yaml:"topK"`
	TopP               float64 `json:"topP" yaml:"topP"`
	MaxOutputTokens    int     `json:"maxOutputTokens" yaml:"maxOutputTokens"`
	Stream             bool    `json:"stream" yaml:"stream"`
	SystemInstructions string  `json:"systemInstructions,omitempty" yaml:"systemInstructions"`
}

// Descriptor describes one configured model: identity, provider, whether
// the user enabled it, whether it automatically responds after another
// model's turn completes, and its generation parameters.
type Descriptor struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Provider    Provider   `json:"provider" yaml:"provider"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	AutoRespond bool       `json:"autoRespond" yaml:"autoRespond"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
}

// Registry holds the configured model set. It is an explicit value handed
// to the components that need it, never package-level state, so tests can
// supply fixtures. Reads and writes may come from different goroutines.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Descriptor
	order  []string
}

// NewRegistry builds a registry from a descriptor list, preserving order.
func NewRegistry(descriptors []Descriptor) *Registry {
	r := &Registry{models: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, ok := r.models[d.ID]; !ok {
			r.order = append(r.order, d.ID)
		}
		r.models[d.ID] = d
	}
	return r
}

// Get returns the descriptor for a model ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[id]
	return d, ok
}

// All returns every descriptor in configuration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Put inserts or replaces a descriptor.
func (r *Registry) Put(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.models[d.ID] = d
}

// AutoResponders returns the models that should automatically speak after
// the given model's turn completes: enabled, flagged autoRespond, and not
// the model that just finished.
func (r *Registry) AutoResponders(except string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, id := range r.order {
		d := r.models[id]
		if d.Enabled && d.AutoRespond && d.ID != except {
			out = append(out, d)
		}
	}
	return out
}
