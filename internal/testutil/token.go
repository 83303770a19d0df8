package testutil

import (
	"fmt"
	"sync"
)

// FixedTokenGenerator returns predetermined run tokens, enabling byte
// identical golden traces across test runs.
//
// When the fixed tokens run out it falls back to "run-<n>" counters, so
// tests that start more runs than they scripted still stay
// deterministic.
type FixedTokenGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokenGenerator creates a generator that returns tokens in
// order.
func NewFixedTokenGenerator(tokens ...string) *FixedTokenGenerator {
	return &FixedTokenGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		g.idx++
		return fmt.Sprintf("run-%d", g.idx)
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
