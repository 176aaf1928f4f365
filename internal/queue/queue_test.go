package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	assert.True(t, q.IsEmpty())
	_, ok := q.Dequeue()
	assert.False(t, ok)

	for i := range 5 {
		q.Enqueue(i)
	}
	assert.Equal(t, 5, q.Len())
	assert.False(t, q.IsEmpty())

	for i := range 5 {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 1000

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perProducer {
				q.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, q.Len())

	seen := make(map[int]bool)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		require.False(t, seen[v], "duplicate %d", v)
		seen[v] = true

		p, i := v/perProducer, v%perProducer
		assert.Greater(t, i, last[p], "per-producer order kept")
		last[p] = i
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestInbox(t *testing.T) {
	in := NewInbox[string]()

	select {
	case <-in.C():
		t.Fatal("signal without push")
	default:
	}

	in.Push("a")
	in.Push("b")
	assert.Equal(t, 2, in.Len())

	<-in.C()
	var got []string
	n := in.Drain(func(s string) { got = append(got, s) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, got)

	select {
	case <-in.C():
		t.Fatal("single signal for both pushes")
	default:
	}
	assert.Zero(t, in.Drain(func(string) {}))
}
