package buf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocGet(t *testing.T) {
	t.Parallel()
	alloc := newDefaultAllocator()
	require.Nil(t, alloc.Get(0))
	require.Len(t, alloc.Get(1), 1)
	require.Equal(t, 64, cap(alloc.Get(1)))
	require.Equal(t, 64, cap(alloc.Get(64)))
	require.Equal(t, 128, cap(alloc.Get(65)))
	require.Equal(t, 16*1024, cap(alloc.Get(16*1024)))
	require.Equal(t, MaxSize, cap(alloc.Get(MaxSize)))
	require.Len(t, alloc.Get(MaxSize+1), MaxSize+1)
}

func TestAllocPut(t *testing.T) {
	t.Parallel()
	alloc := newDefaultAllocator()
	require.NoError(t, alloc.Put(make([]byte, 1024)))
	require.NoError(t, alloc.Put(alloc.Get(100)))
	require.Error(t, alloc.Put(make([]byte, 3)))
	require.Error(t, alloc.Put(make([]byte, 1000)))
	require.Error(t, alloc.Put(make([]byte, MaxSize*2)))
}

func TestClone(t *testing.T) {
	t.Parallel()
	data := []byte("ping")
	cloned := Clone(data)
	require.Equal(t, data, cloned)
	cloned[0] = 'P'
	require.Equal(t, byte('p'), data[0])
	Put(cloned)
}
