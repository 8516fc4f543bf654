package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](rc *RingChannel[T]) []T {
	var out []T
	for v := range rc.C() {
		out = append(out, v)
	}
	return out
}

func TestRingChannel_PreservesOrder(t *testing.T) {
	rc := New[int](8)
	for i := 1; i <= 5; i++ {
		require.True(t, rc.Send(i))
	}
	rc.Close()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(rc), "values MUST come out in arrival order")
}

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 1; i <= 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	assert.Equal(t, []int{8, 9, 10}, drain(rc), "only the newest values MUST survive")
	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_LenCap(t *testing.T) {
	rc := New[string](2)
	assert.Equal(t, 2, rc.Cap())

	rc.Send("a")
	rc.Send("b")
	rc.Send("c")
	assert.Equal(t, 2, rc.Len(), "length MUST stay within capacity")
	assert.Equal(t, int64(3), rc.GetMetrics().Written)
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() {
		assert.False(t, rc.Send(2), "Send after Close MUST report false")
		assert.False(t, rc.Send(3))
	})
	assert.Equal(t, []int{1}, drain(rc), "buffered values MUST remain readable after Close")
	assert.Equal(t, int64(2), rc.GetMetrics().Rejected)
}

func TestRingChannel_ConcurrentProducerConsumer(t *testing.T) {
	rc := New[int](4)
	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got = drain(rc)
	}()

	for i := 0; i < 1000; i++ {
		rc.Send(i)
	}
	rc.Close()
	wg.Wait()

	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i], "received values MUST stay strictly increasing")
	}
	assert.Equal(t, 999, got[len(got)-1], "the newest value MUST always be delivered")
}

func TestNew_PanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
