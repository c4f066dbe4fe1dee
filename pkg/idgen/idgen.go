// Package idgen provides a synchronized monotonic id allocator per entity kind.
package idgen

import "sync"

// Kind names an entity family with its own id sequence
type Kind string

const (
	KindOrder       Kind = "order"
	KindPosition    Kind = "position"
	KindTransaction Kind = "transaction"
	KindCashOp      Kind = "cash_op"
)

// Generator hands out monotonic integer ids per entity kind from a single
// synchronized source.
type Generator struct {
	mu   sync.Mutex
	next map[Kind]int64
}

// New creates a generator with all sequences starting at 1
func New() *Generator {
	return &Generator{next: make(map[Kind]int64)}
}

// Next returns the next id for the given kind
func (g *Generator) Next(kind Kind) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[kind]++
	return g.next[kind]
}

// Peek returns the last id handed out for the kind (0 if none)
func (g *Generator) Peek(kind Kind) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next[kind]
}
