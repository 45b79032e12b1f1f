package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFirstPendingRespectsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate(5)
	b := r.GetOrCreate(2)
	c := r.GetOrCreate(9)

	assert.Nil(t, r.FirstPending())

	c.Append([]byte("x"))
	b.Append([]byte("y"))
	assert.Same(t, b, r.FirstPending(), "first registered stream with pending data wins, not the first to receive data")

	a.Append([]byte("z"))
	assert.Same(t, a, r.FirstPending(), "an earlier-registered stream takes precedence once it has pending data")
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate(1)
	r.GetOrCreate(2)
	require.Equal(t, 2, r.Len())

	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1), "removing twice reports absence the second time")
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Get(1))
}

func TestRegistryEachVisitsInInsertionOrder(t *testing.T) {
	r := NewRegistry()
	ids := []int64{7, 3, 1}
	for _, id := range ids {
		r.GetOrCreate(id)
	}

	var seen []int64
	r.Each(func(s *Stream) { seen = append(seen, s.ID) })
	assert.Equal(t, ids, seen)
}
