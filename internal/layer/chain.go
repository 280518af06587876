package layer

import "sort"

// Chain is the totally-ordered sequence of layers sorted by priority
// ascending; the doubly-linked prev/next pointers on each Layer implement
// navigation, an implementation convenience over just keeping an ordered
// slice.
type Chain struct {
	layers []*Layer
}

// NewChain links layers by ascending priority. Ties are broken by
// insertion order (the later-registered layer of equal priority sorts
// last / wins), matching the registry store's edge policy.
func NewChain(layers []*Layer) *Chain {
	ordered := make([]*Layer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	for i, l := range ordered {
		var prev, next *Layer
		if i > 0 {
			prev = ordered[i-1]
		}
		if i < len(ordered)-1 {
			next = ordered[i+1]
		}
		l.setNeighbors(prev, next)
	}
	return &Chain{layers: ordered}
}

// Layers returns the chain ordered lowest-priority first.
func (c *Chain) Layers() []*Layer {
	out := make([]*Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// InitializeAll calls Initialize on every layer in priority order, lowest
// first, as the builder does when constructing a Registry.
func (c *Chain) InitializeAll() {
	for _, l := range c.layers {
		l.Initialize()
	}
}
