package sensibo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

type fakePod struct {
	mu    sync.Mutex
	state map[string]interface{}
	posts int
}

func (f *fakePod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Query().Get("apiKey") != "key" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"failure","reason":"bad key"}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/pods/abc/acStates":
		var body struct {
			ACState map[string]interface{} `json:"acState"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body.ACState {
			f.state[k] = v
		}
		f.posts++
		_, _ = w.Write([]byte(`{"status":"success","result":{}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/pods/abc/acStates":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"result": []interface{}{map[string]interface{}{"acState": f.state}},
		})
	case r.URL.Path == "/pods/abc" && r.URL.Query().Get("fields") == "measurements":
		_, _ = w.Write([]byte(`{"status":"success","result":{"measurements":{"temperature":22.5,"humidity":41.2}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"failure","reason":"no such pod"}`))
	}
}

func TestCloudTransport(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	pod := &fakePod{state: map[string]interface{}{"on": false}}
	srv := httptest.NewServer(pod)
	defer srv.Close()

	c := NewCloud("key").WithBaseURL(srv.URL)

	s, err := c.GetState(ctx, "abc", device.NoChannel())
	require.NoError(t, err)
	assert.Equal(device.StateOff, s)

	require.NoError(t, c.SetState(ctx, "abc", device.StateOn, device.NoChannel()))
	s, err = c.GetState(ctx, "abc", device.NoChannel())
	require.NoError(t, err)
	assert.Equal(device.StateOn, s)

	_, err = c.GetState(ctx, "missing", device.NoChannel())
	assert.Error(err)

	_, err = NewCloud("wrong").WithBaseURL(srv.URL).GetState(ctx, "abc", device.NoChannel())
	assert.Error(err)
}

func TestControl(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	pod := &fakePod{state: map[string]interface{}{"on": false}}
	srv := httptest.NewServer(pod)
	defer srv.Close()

	ctl := NewCloud("key").WithBaseURL(srv.URL).Control("abc")

	var _ appliance.AcControl = ctl
	var _ appliance.FanControl = ctl
	var _ appliance.ClimateSensor = ctl

	assert.True(ctl.SetTemperature(ctx, 21))
	assert.True(ctl.SetMode(ctx, "heat"))
	assert.True(ctl.SetFanLevel(ctx, "low"))
	assert.True(ctl.SetSwing(ctx, "rangeFull"))

	assert.Equal(float64(21), pod.state["targetTemperature"])
	assert.Equal("heat", pod.state["mode"])
	assert.Equal(true, pod.state["on"])
	assert.Equal("low", pod.state["fanLevel"])
	assert.Equal("rangeFull", pod.state["swing"])
	assert.Equal(4, pod.posts)

	cl, err := ctl.Climate(ctx)
	require.NoError(t, err)
	assert.Equal(appliance.Climate{Temperature: 22.5, Humidity: 41.2}, cl)

	bad := NewCloud("key").WithBaseURL(srv.URL).Control("nope")
	assert.False(bad.SetTemperature(ctx, 20))
}

func TestSmartAirConditioner(t *testing.T) {
	ctx := context.Background()

	pod := &fakePod{state: map[string]interface{}{"on": false}}
	srv := httptest.NewServer(pod)
	defer srv.Close()

	cloud := NewCloud("key").WithBaseURL(srv.URL)
	d := device.New(device.Config{Name: "Lounge AC", RemoteID: "abc"}, nil, cloud)

	ac, err := appliance.NewAirConditioner("Lounge AC", appliance.SmartBacking{Device: d, Control: cloud.Control("abc")})
	require.NoError(t, err)

	assert.True(t, ac.On(ctx))
	assert.Equal(t, device.StateOn, ac.Cached())
	assert.True(t, ac.SetFanLevel(ctx, "high"))

	cl, ok := ac.Climate(ctx)
	assert.True(t, ok)
	assert.Equal(t, 22.5, cl.Temperature)
}
