package fiber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOptions_defaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStackSize, cfg.stackSize)
	assert.IsType(t, (*GoroutinePlatform)(nil), cfg.platform)
	require.IsType(t, (*Heap)(nil), cfg.allocator)
	assert.Equal(t, 0, cfg.allocator.(*Heap).Capacity())
	assert.Nil(t, cfg.logger)
	assert.Nil(t, cfg.onFatal)
}

func TestResolveOptions_skipsNil(t *testing.T) {
	cfg, err := resolveOptions([]Option{nil, WithHeapSize(4096), nil})
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.allocator.(*Heap).Capacity())
}

func TestWithStackSize_invalid(t *testing.T) {
	for _, size := range [...]int{-1, 0, GuardSize} {
		_, err := New(WithStackSize(size))
		assert.ErrorIs(t, err, ErrInvalidStackSize, `size %d`, size)
	}
}

func TestWithAllocator_overridesHeapSize(t *testing.T) {
	h := NewHeap(0)
	cfg, err := resolveOptions([]Option{WithHeapSize(10), WithAllocator(h)})
	require.NoError(t, err)
	assert.Same(t, h, cfg.allocator)
}
