package imagestore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGet(t *testing.T) {
	s := New(4)
	id := s.Put([]byte("png"), "image/png", "req-1")
	e, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("png"), e.Data)
	assert.Equal(t, "image/png", e.MIMEType)
	assert.Equal(t, "req-1", e.RequestID)
	assert.False(t, e.CreatedAt.IsZero())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_EvictsOldestFirst(t *testing.T) {
	s := New(2)
	a := s.Put([]byte("a"), "image/png", "")
	b := s.Put([]byte("b"), "image/png", "")
	c := s.Put([]byte("c"), "image/png", "")

	_, ok := s.Get(a)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = s.Get(b)
	assert.True(t, ok)
	_, ok = s.Get(c)
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(1), s.Evicted())
}

func TestStore_Disabled(t *testing.T) {
	s := New(0)
	id := s.Put([]byte("a"), "image/png", "")
	assert.NotEmpty(t, id)
	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentPut(t *testing.T) {
	s := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put([]byte(fmt.Sprint(i)), "image/png", "")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, s.Len())
	assert.Equal(t, uint64(48), s.Evicted())
}
