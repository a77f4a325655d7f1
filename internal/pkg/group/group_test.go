package group

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

// slowRelay answers after a fixed latency and fails when asked to
type slowRelay struct {
	latency  time.Duration
	fail     bool
	inFlight *int32
	peak     *int32
}

func (s *slowRelay) SetState(ctx context.Context, target device.State, ch device.Channel) error {
	if s.inFlight != nil {
		n := atomic.AddInt32(s.inFlight, 1)
		defer atomic.AddInt32(s.inFlight, -1)
		for {
			p := atomic.LoadInt32(s.peak)
			if n <= p || atomic.CompareAndSwapInt32(s.peak, p, n) {
				break
			}
		}
	}

	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.fail {
		return assert.AnError
	}
	return nil
}

func (s *slowRelay) GetState(ctx context.Context, ch device.Channel) (device.State, error) {
	return device.StateOff, nil
}

func newRelay(name string, r *slowRelay) *device.Device {
	return device.New(device.Config{Name: name}, r, nil)
}

func TestAddIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g := New("lights")
	d := newRelay("Lamp", &slowRelay{})

	assert.True(g.Add(ctx, d))
	assert.False(g.Add(ctx, newRelay("Lamp", &slowRelay{})))
	assert.Equal(1, g.Len())

	got, ok := g.Get("Lamp")
	require.True(t, ok)
	assert.Same(d, got)
}

func TestRemove(t *testing.T) {
	g := New("lights")
	g.Add(context.Background(), newRelay("Lamp", &slowRelay{}))

	assert.True(t, g.Remove("Lamp"))
	assert.False(t, g.Remove("Lamp"))
	assert.Equal(t, 0, g.Len())
}

func TestNamesSorted(t *testing.T) {
	g := New("all")
	for _, n := range []string{"c", "a", "b"} {
		g.Add(context.Background(), newRelay(n, &slowRelay{}))
	}

	assert.Equal(t, []string{"a", "b", "c"}, g.Names())
	assert.Len(t, g.Members(), 3)
}

func TestSetStatePartialFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g := New("switches")
	for i := 0; i < 6; i++ {
		g.Add(ctx, newRelay(fmt.Sprintf("relay-%d", i), &slowRelay{fail: i%3 == 0}))
	}

	results := g.On(ctx)
	assert.Len(results, 6)

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(4, succeeded)
	assert.False(results["relay-0"])
	assert.False(results["relay-3"])
	assert.True(results["relay-1"])
}

func TestSetStateIsConcurrentAndBounded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var inFlight, peak int32
	g := New("all").WithWorkers(10)
	for i := 0; i < 20; i++ {
		g.Add(ctx, newRelay(fmt.Sprintf("relay-%02d", i), &slowRelay{
			latency:  time.Millisecond * 200,
			inFlight: &inFlight,
			peak:     &peak,
		}))
	}

	start := time.Now()
	results := g.Off(ctx)
	elapsed := time.Since(start)

	assert.Len(results, 20)
	for name, ok := range results {
		assert.True(ok, name)
	}

	// two waves of 200ms, nowhere near 20 x 200ms
	assert.Less(elapsed, time.Second*2)
	assert.LessOrEqual(atomic.LoadInt32(&peak), int32(10))
	assert.Greater(atomic.LoadInt32(&peak), int32(1))
}

func TestEmptyGroup(t *testing.T) {
	assert.Empty(t, New("nothing").On(context.Background()))
}
