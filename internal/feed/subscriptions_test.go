package feed

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSet(t *testing.T) {
	s := NewSubscriptionSet()
	assert.True(t, s.Add("NQ"))
	assert.True(t, s.Add("ES"))
	assert.False(t, s.Add("ES"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"ES", "NQ"}, s.Snapshot())
	assert.True(t, s.Has("NQ"))

	assert.True(t, s.Remove("NQ"))
	assert.False(t, s.Remove("NQ"))
	assert.False(t, s.Has("NQ"))

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Snapshot())
}

func TestSubscriptionSet_ConcurrentWriters(t *testing.T) {
	s := NewSubscriptionSet()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("I%d", i)
				s.Add(id)
				_ = s.Snapshot()
				if w%2 == 0 {
					s.Remove(id)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 100)
}
