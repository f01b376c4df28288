package idgen

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	PrefixResponse     = "resp"
	PrefixMessage      = "msg"
	PrefixFunctionCall = "fc"
)

// Generator mints identifiers of the form <prefix>_<hex millis><hex counter>.
// The counter is shared by every prefix and never resets, so identifiers are
// unique for the lifetime of the Generator. Safe for concurrent use.
type Generator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// New returns a Generator whose first identifier uses start as its counter.
// A nil clock means time.Now.
func New(start uint64, clock func() time.Time) *Generator {
	if clock == nil {
		clock = time.Now
	}
	g := &Generator{now: clock}
	g.counter.Store(start)
	return g
}

// Next returns a fresh identifier with the given prefix.
func (g *Generator) Next(prefix string) string {
	n := g.counter.Add(1) - 1
	ms := g.now().UnixMilli()
	return fmt.Sprintf("%s_%x%04x", prefix, ms, n)
}
