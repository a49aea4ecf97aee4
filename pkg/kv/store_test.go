package kv

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_GetSetTake(t *testing.T) {
	s := New[string, int]()

	_, ok := s.Get("u1")
	assert.False(t, ok)

	s.Set("u1", 1)
	s.Set("u1", 2)
	v, ok := s.Get("u1")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = s.Take("u1")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Take("u1")
	assert.False(t, ok)
}

func TestStore_KeysSorted(t *testing.T) {
	s := New[string, struct{}]()
	for _, k := range []string{"u3", "u1", "u2"} {
		s.Set(k, struct{}{})
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, s.Keys())
	assert.Empty(t, New[string, int]().Keys())
}

func TestStore_Concurrent(t *testing.T) {
	s := New[string, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("u%02d", i)
			s.Set(key, i)
			_, _ = s.Get(key)
			_ = s.Keys()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	taken := 0
	for _, k := range s.Keys() {
		if _, ok := s.Take(k); ok {
			taken++
		}
	}
	assert.Equal(t, 50, taken)
}
