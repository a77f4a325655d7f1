package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOnlyNeverTouchesCloud(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	unit := newFakeUnit()
	d := New(Config{Name: "Lamp"}, unit, nil)

	assert.True(d.SetState(ctx, StateOn))
	assert.Equal(StateOn, d.Cached())

	unit.setFailing(true)
	assert.False(d.SetState(ctx, StateOff), "local failure with no cloud must fail")
	assert.Equal(StateOn, d.Cached())
}

func TestLocalSuccessSkipsCloud(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cloud := newFakeCloud()
	d := New(Config{Name: "Relay", RemoteID: "1000ab"}, newFakeUnit(), cloud)

	assert.True(d.On(ctx))
	assert.Equal(0, cloud.sets(), "cloud must not be contacted when local succeeds")
	assert.Equal(StateOn, d.GetState(ctx))
	assert.Equal(0, cloud.gets())
}

func TestCloudFallbackUpdatesCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	local.setFailing(true)
	cloud := newFakeCloud()
	d := New(Config{Name: "Relay", RemoteID: "1000ab"}, local, cloud)

	assert.True(d.SetState(ctx, StateOff))
	assert.Equal(1, cloud.sets())
	assert.Equal("1000ab", cloud.setCalls[0].remoteID)

	localSets, localGets := local.calls()
	assert.Equal(StateOff, d.State(ctx))

	// the cached read must not have hit either transport
	s, g := local.calls()
	assert.Equal(localSets, s)
	assert.Equal(localGets, g)
	assert.Equal(0, cloud.gets())
}

func TestBothFailingLeavesCacheAlone(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	cloud := newFakeCloud()
	d := New(Config{Name: "Relay"}, local, cloud)

	local.setFailing(true)
	cloud.failing = true
	assert.False(d.SetState(ctx, StateOn))
	assert.Equal(StateUnknown, d.Cached(), "unknown must stay unknown, not become off")

	local.setFailing(false)
	require.True(t, d.SetState(ctx, StateOn))
	local.setFailing(true)
	assert.False(d.SetState(ctx, StateOff))
	assert.Equal(StateOn, d.Cached())
}

func TestFailedFetchGoesOfflineAndSticks(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	local.setFailing(true)
	cloud := newFakeCloud()
	cloud.failing = true
	d := New(Config{Name: "Relay"}, local, cloud)

	assert.Equal(StateOffline, d.State(ctx), "unknown cache triggers a fetch")
	assert.Equal(1, cloud.gets())

	assert.Equal(StateOffline, d.State(ctx))
	assert.Equal(1, cloud.gets(), "offline is sticky for cached reads")

	local.setFailing(false)
	assert.Equal(StateOff, d.GetState(ctx), "explicit fetch refreshes")
}

func TestGetStateAlwaysQueries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	d := New(Config{Name: "Relay"}, local, nil)

	assert.Equal(StateOff, d.GetState(ctx))
	assert.Equal(StateOff, d.GetState(ctx))

	_, gets := local.calls()
	assert.Equal(2, gets)
}

func TestMultiChannelIsolation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	unit := newFakeUnit()
	ch0 := New(Config{Name: "Dual 0", Channel: ChannelOf(0)}, unit, nil)
	ch1 := New(Config{Name: "Dual 1", Channel: ChannelOf(1)}, unit, nil)

	require.Equal(t, StateOff, ch1.GetState(ctx))
	assert.True(ch0.SetState(ctx, StateOn))

	assert.Equal(StateOff, ch1.Cached())
	assert.Equal(StateOff, ch1.GetState(ctx))
	assert.Equal(StateOn, ch0.GetState(ctx))

	// channel 0 is an address, not "no channel"
	_, ok := unit.relays[NoChannel()]
	assert.False(ok)
}

func TestStatelessNeverFetched(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	d := New(Config{Name: "Blaster", Stateless: true}, local, nil)

	assert.Equal(StateNotApplicable, d.State(ctx))
	assert.Equal(StateNotApplicable, d.GetState(ctx))
	assert.True(d.On(ctx))
	assert.Equal(StateNotApplicable, d.Cached())

	_, gets := local.calls()
	assert.Equal(0, gets)
}

func TestLocalTimeoutFallsBackQuickly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cloud := newFakeCloud()
	d := New(Config{Name: "Slow", LocalTimeout: time.Millisecond * 50}, slowLocal{}, cloud)

	start := time.Now()
	assert.True(d.On(ctx))
	assert.Less(time.Since(start), time.Second)
	assert.Equal(1, cloud.sets())
}

func TestTransportPanicIsContained(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	local := newFakeUnit()
	local.panicky = true
	cloud := newFakeCloud()
	d := New(Config{Name: "Flaky"}, local, cloud)

	assert.NotPanics(func() {
		assert.True(d.On(ctx))
	})
	assert.Equal(1, cloud.sets())
}

func TestLampScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	unit := newFakeUnit()
	lamp := New(Config{Name: "Lamp", Address: "192.168.1.20"}, unit, nil)

	assert.Equal(StateOff, lamp.GetState(ctx))
	assert.True(lamp.On(ctx))
	assert.Equal(StateOn, lamp.State(ctx))

	unit.setFailing(true)
	assert.False(lamp.Off(ctx))
	assert.Equal(StateOn, lamp.State(ctx), "stale state is not corrected")
}

func TestSendRaw(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	d := New(Config{Name: "Blaster", Stateless: true}, nil, nil)
	assert.False(d.SendRaw(ctx, "2600"))

	e := &fakeEmitter{}
	d.WithEmitter(e)
	assert.True(d.SendRaw(ctx, "2600"))
	assert.Equal([]string{"2600"}, e.codes)
}

func TestRejectsNonPowerTargets(t *testing.T) {
	d := New(Config{Name: "Relay"}, newFakeUnit(), nil)
	assert.False(t, d.SetState(context.Background(), StateOffline))
	assert.Equal(t, StateUnknown, d.Cached())
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" ON ")
	require.NoError(t, err)
	assert.Equal(t, StateOn, s)

	_, err = ParseState("dim")
	assert.Error(t, err)
}
