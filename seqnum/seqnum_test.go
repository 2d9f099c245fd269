package seqnum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coolheart77/netstack/seqnum"
)

func TestLessThanWraps(t *testing.T) {
	a := seqnum.Value(0xfffffff0)
	b := seqnum.Value(0x00000010)
	assert.True(t, a.LessThan(b), "a should be considered before b across the wraparound")
	assert.False(t, b.LessThan(a))
}

func TestInWindow(t *testing.T) {
	first := seqnum.Value(100)
	size := seqnum.Size(10)

	assert.True(t, first.InWindow(first, size))
	assert.True(t, seqnum.Value(109).InWindow(first, size))
	assert.False(t, seqnum.Value(110).InWindow(first, size))
	assert.False(t, seqnum.Value(99).InWindow(first, size))
}

func TestInWindowWraps(t *testing.T) {
	first := seqnum.Value(0xfffffffa)
	size := seqnum.Size(10)

	assert.True(t, seqnum.Value(0xfffffffe).InWindow(first, size))
	assert.True(t, seqnum.Value(3).InWindow(first, size))
	assert.False(t, seqnum.Value(4).InWindow(first, size))
}

func TestUpdateForward(t *testing.T) {
	v := seqnum.Value(10)
	v.UpdateForward(seqnum.Size(5))
	assert.Equal(t, seqnum.Value(15), v)
}

func TestWindowSize(t *testing.T) {
	assert.Equal(t, seqnum.Size(1), seqnum.Size(65535).WindowSize(16))
	assert.Equal(t, seqnum.Size(0), seqnum.Size(0).WindowSize(0))
}
