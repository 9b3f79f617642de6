package memory

import (
	"fmt"
	"time"
)

// keyGen produces append keys that sort lexicographically in generation
// order: a millisecond timestamp that never moves backwards plus a global
// sequence number padded to the full uint64 width, so the ordering holds for
// every value the counter can reach. Only the loop goroutine touches it.
type keyGen struct {
	lastMillis int64
	seq        uint64
}

func (g *keyGen) next() string {
	now := time.Now().UnixMilli()
	if now < g.lastMillis {
		now = g.lastMillis
	}
	g.lastMillis = now
	g.seq++
	return fmt.Sprintf("%013d-%020d", now, g.seq)
}
