package tuya

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

type fakeTuya struct {
	mu       sync.Mutex
	t        *testing.T
	grants   int
	commands []command
	status   map[string]bool
}

func (f *fakeTuya) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	assert.Equal(f.t, "cid", r.Header.Get("client_id"))
	assert.Equal(f.t, "HMAC-SHA256", r.Header.Get("sign_method"))

	c := &Cloud{clientID: "cid", clientSecret: "secret"}
	want := c.sign(r.Header.Get("access_token"), r.Header.Get("t"), r.Header.Get("nonce"),
		stringToSign(r.Method, r.URL.RequestURI(), body))
	assert.Equal(f.t, want, r.Header.Get("sign"))

	reply := func(result interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "result": result})
	}

	switch {
	case r.URL.Path == "/v1.0/token":
		f.grants++
		reply(map[string]interface{}{"access_token": "tok", "expire_time": 7200})
	case r.Header.Get("access_token") != "tok":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "code": 1010, "msg": "token invalid"})
	case r.URL.Path == "/v1.0/iot-03/devices/plug/commands":
		var req map[string][]command
		_ = json.Unmarshal(body, &req)
		f.commands = append(f.commands, req["commands"]...)
		for _, c := range req["commands"] {
			f.status[c.Code] = c.Value.(bool)
		}
		reply(true)
	case r.URL.Path == "/v1.0/iot-03/devices/plug/status":
		var st []command
		for code, v := range f.status {
			st = append(st, command{Code: code, Value: v})
		}
		reply(st)
	default:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "code": 2001, "msg": "device is offline"})
	}
}

func TestSwitchCode(t *testing.T) {
	assert.Equal(t, "switch_1", SwitchCode(device.NoChannel()))
	assert.Equal(t, "switch_0", SwitchCode(device.ChannelOf(0)))
	assert.Equal(t, "switch_3", SwitchCode(device.ChannelOf(3)))
}

func TestCloud(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fake := &fakeTuya{t: t, status: map[string]bool{"switch_1": false, "switch_2": true}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := NewCloud("eu", "cid", "secret")
	require.NoError(t, err)
	c = c.WithBaseURL(srv.URL)

	require.NoError(t, c.SetState(ctx, "plug", device.StateOn, device.NoChannel()))
	require.NoError(t, c.SetState(ctx, "plug", device.StateOff, device.ChannelOf(2)))
	assert.Equal([]command{{Code: "switch_1", Value: true}, {Code: "switch_2", Value: false}}, fake.commands)

	s, err := c.GetState(ctx, "plug", device.NoChannel())
	require.NoError(t, err)
	assert.Equal(device.StateOn, s)

	s, err = c.GetState(ctx, "plug", device.ChannelOf(2))
	require.NoError(t, err)
	assert.Equal(device.StateOff, s)

	_, err = c.GetState(ctx, "plug", device.ChannelOf(7))
	assert.Error(err)

	assert.Error(c.SetState(ctx, "gone", device.StateOn, device.NoChannel()))

	// the token is granted once and reused
	assert.Equal(1, fake.grants)
}

func TestUnknownRegion(t *testing.T) {
	_, err := NewCloud("mars", "a", "b")
	assert.Error(t, err)
}
