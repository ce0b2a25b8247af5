package keyed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_RunsOnce(t *testing.T) {
	s := New[int]()
	calls := 0
	for i := 0; i < 3; i++ {
		v := s.GetOrCreate("a", func() int { calls++; return 7 })
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, 1, calls)
}

func TestUpdate_ConcurrentIncrements(t *testing.T) {
	s := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update("counter", func(old int, _ bool) int { return old + 1 })
			}
		}()
	}
	wg.Wait()

	v, ok := s.Get("counter")
	require.True(t, ok)
	assert.Equal(t, 5000, v)
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := New[string]()
	s.Put("b", "2")
	s.Put("a", "1")

	snap := s.Snapshot()
	s.Put("c", "3")
	s.Delete("a")

	assert.Len(t, snap, 2)
	assert.Equal(t, "1", snap["a"])
	assert.Equal(t, []string{"b", "c"}, s.Keys())
	assert.Equal(t, 2, s.Len())
}

func TestModify_SkipsMissingKeys(t *testing.T) {
	s := New[int]()
	_, ok := s.Modify("missing", func(old int) int { return old + 1 })
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	s.Put("k", 1)
	v, ok := s.Modify("k", func(old int) int { return old * 10 })
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}
