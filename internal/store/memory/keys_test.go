package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Keys must keep sorting in generation order when the sequence counter gains
// a digit within the same millisecond.
func TestKeysStayOrderedAcrossDigitBoundary(t *testing.T) {
	g := keyGen{seq: 999_998}

	prev := g.next()
	for i := 0; i < 3; i++ {
		key := g.next()
		require.Less(t, prev, key)
		prev = key
	}
}

func TestKeysNeverMoveBackwards(t *testing.T) {
	g := keyGen{}
	prev := g.next()
	for i := 0; i < 1000; i++ {
		key := g.next()
		require.Less(t, prev, key)
		prev = key
	}
}
