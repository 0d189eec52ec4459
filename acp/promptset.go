package acp

import orderedmap "github.com/wk8/go-ordered-map/v2"

// DefaultMaxPendingPrompts bounds the prompt correlation set.
const DefaultMaxPendingPrompts = 256

// PromptSet tracks the ids of prompt requests still awaiting a response.
// Each id is a member at most once. When the set is full, adding a new id
// evicts the oldest outstanding one.
type PromptSet struct {
	ids *orderedmap.OrderedMap[string, struct{}]
	max int
}

// NewPromptSet creates a set bounded to max ids. A non-positive max uses
// DefaultMaxPendingPrompts.
func NewPromptSet(max int) *PromptSet {
	if max <= 0 {
		max = DefaultMaxPendingPrompts
	}
	return &PromptSet{
		ids: orderedmap.New[string, struct{}](),
		max: max,
	}
}

// Add records id as awaited. It returns the id evicted to make room, if any.
// Re-adding a pending id keeps its original position.
func (s *PromptSet) Add(id string) (evicted string, ok bool) {
	if _, present := s.ids.Get(id); present {
		return "", false
	}
	if s.ids.Len() >= s.max {
		if oldest := s.ids.Oldest(); oldest != nil {
			evicted, ok = oldest.Key, true
			s.ids.Delete(oldest.Key)
		}
	}
	s.ids.Set(id, struct{}{})
	return evicted, ok
}

// Consume removes id and reports whether it was pending. Consuming an
// unknown id is a no-op.
func (s *PromptSet) Consume(id string) bool {
	_, present := s.ids.Delete(id)
	return present
}

// Contains reports whether id is pending.
func (s *PromptSet) Contains(id string) bool {
	_, present := s.ids.Get(id)
	return present
}

// Len returns the number of pending ids.
func (s *PromptSet) Len() int {
	return s.ids.Len()
}

// Reset forgets every pending id.
func (s *PromptSet) Reset() {
	s.ids = orderedmap.New[string, struct{}]()
}
