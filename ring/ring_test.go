package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRetainsTail(t *testing.T) {
	r := New(4)
	n, err := r.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("ello"), r.Bytes())
	assert.Equal(t, uint64(5), r.Total())
}

func TestRingSmallWrites(t *testing.T) {
	r := New(4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		_, err := r.Write([]byte(s))
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("bcde"), r.Bytes())
}

func TestRingUnderCapacity(t *testing.T) {
	r := New(16)
	_, err := r.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []byte("hi"), r.Bytes())
}

func TestRingExactWriteBiggerThanCap(t *testing.T) {
	r := New(3)
	_, err := r.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), r.Bytes())
}
