package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagerNeverRefetches(t *testing.T) {
	p := NewPager()

	page, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, 0, page)

	// Asking again before Advance yields the same page, not a skipped one.
	page, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, 0, page)

	p.Advance(3)
	page, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, 1, page)

	p.Advance(3)
	p.Advance(3)
	_, ok = p.Next()
	assert.False(t, ok, "all pages fetched")
	assert.True(t, p.Exhausted())
}

func TestPagerSinglePage(t *testing.T) {
	p := NewPager()
	_, ok := p.Next()
	require.True(t, ok)
	p.Advance(1)
	_, ok = p.Next()
	assert.False(t, ok)
}
