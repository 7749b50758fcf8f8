package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got)
	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))

	assert.Equal(t, "b", <-rc.C())
	assert.Zero(t, rc.Len())
	assert.Equal(t, Metrics{Written: 2, Overwritten: 1}, rc.GetMetrics())
}

func TestRingChannel_SendAfterCloseIsNoop(t *testing.T) {
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(1) })
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 2, rc.Cap())
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, rc.Len())
	assert.Equal(t, int64(400), rc.GetMetrics().Written)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
