package hub

import "sync"

// ThinkingSet tracks which models are currently generating inside each
// conversation. Sessions add themselves when they open and remove
// themselves exactly once when they reach a terminal state.
type ThinkingSet struct {
	mu     sync.Mutex
	active map[string]map[string]struct{}
}

// NewThinkingSet returns an empty set.
func NewThinkingSet() *ThinkingSet {
	return &ThinkingSet{active: make(map[string]map[string]struct{})}
}

// Add marks a model as thinking in a conversation.
func (t *ThinkingSet) Add(conversationID, modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.active[conversationID]
	if !ok {
		set = make(map[string]struct{})
		t.active[conversationID] = set
	}
	set[modelID] = struct{}{}
}

// Remove clears a model's thinking mark. Removing an absent entry is a
// no-op.
func (t *ThinkingSet) Remove(conversationID, modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.active[conversationID]
	if !ok {
		return
	}
	delete(set, modelID)
	if len(set) == 0 {
		delete(t.active, conversationID)
	}
}

// Models returns the IDs of models currently thinking in a conversation.
func (t *ThinkingSet) Models(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.active[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
