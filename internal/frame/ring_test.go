package frame

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample(ts int64) ChannelSample {
	return ChannelSample{TimestampMillis: ts, Green: float64(ts)}
}

func TestRing(t *testing.T) {
	t.Parallel()

	t.Run("keeps insertion order below capacity", func(t *testing.T) {
		t.Parallel()

		r := NewRing(4)
		r.Push(sample(1))
		r.Push(sample(2))

		assert.Equal(t, 2, r.Len())
		assert.Equal(t, []ChannelSample{sample(1), sample(2)}, r.Snapshot())
	})

	t.Run("evicts oldest when full", func(t *testing.T) {
		t.Parallel()

		r := NewRing(3)
		for i := int64(1); i <= 5; i++ {
			r.Push(sample(i))
		}

		assert.Equal(t, 3, r.Len())
		assert.Equal(t, []ChannelSample{sample(3), sample(4), sample(5)}, r.Snapshot())

		latest, ok := r.Latest()
		assert.True(t, ok)
		assert.Equal(t, sample(5), latest)
	})

	t.Run("never exceeds capacity", func(t *testing.T) {
		t.Parallel()

		r := NewRing(150)
		for i := int64(0); i < 1000; i++ {
			r.Push(sample(i))
			assert.LessOrEqual(t, r.Len(), r.Cap())
		}
		snap := r.Snapshot()
		assert.Len(t, snap, 150)
		assert.Equal(t, int64(850), snap[0].TimestampMillis)
		assert.Equal(t, int64(999), snap[149].TimestampMillis)
	})

	t.Run("reset empties", func(t *testing.T) {
		t.Parallel()

		r := NewRing(2)
		r.Push(sample(1))
		r.Push(sample(2))
		r.Push(sample(3))
		r.Reset()

		assert.Zero(t, r.Len())
		assert.Empty(t, r.Snapshot())
		_, ok := r.Latest()
		assert.False(t, ok)

		r.Push(sample(9))
		assert.Equal(t, []ChannelSample{sample(9)}, r.Snapshot())
	})

	t.Run("non-positive capacity uses default", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, DefaultRingCapacity, NewRing(0).Cap())
	})

	t.Run("concurrent pushes", func(t *testing.T) {
		t.Parallel()

		r := NewRing(10)
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := int64(0); i < 100; i++ {
					r.Push(sample(i))
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, r.Len())
	})
}
