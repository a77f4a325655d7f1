package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/manager"
)

type fakeCloud struct {
	mu     sync.Mutex
	states map[string]device.State
}

func (f *fakeCloud) SetState(ctx context.Context, remoteID string, target device.State, ch device.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.states[remoteID]; !ok {
		return assert.AnError
	}
	f.states[remoteID] = target
	return nil
}

func (f *fakeCloud) GetState(ctx context.Context, remoteID string, ch device.Channel) (device.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.states[remoteID]
	if !ok {
		return device.StateUnknown, assert.AnError
	}
	return s, nil
}

type fakeClimate struct {
	mu    sync.Mutex
	temp  int
	mode  string
	broke bool
}

func (f *fakeClimate) SetTemperature(ctx context.Context, celsius int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temp = celsius
	return true
}

func (f *fakeClimate) SetMode(ctx context.Context, mode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return true
}

func (f *fakeClimate) Climate(ctx context.Context) (appliance.Climate, error) {
	if f.broke {
		return appliance.Climate{}, assert.AnError
	}
	return appliance.Climate{Temperature: 21.5, Humidity: 40}, nil
}

const home = `
devices:
  - {name: Lamp, type: cloud, category: light, room: Bedroom, remote_id: lamp}
  - {name: Heater, type: cloud, category: switch, room: Bedroom, remote_id: heater}
  - {name: Dead, type: cloud, category: switch, room: Lounge, remote_id: gone}
  - {name: Aircon, type: cloud, category: ac, room: Bedroom, remote_id: ac}
`

func newServer(t *testing.T) (*httptest.Server, *fakeCloud, *fakeClimate) {
	cloud := &fakeCloud{states: map[string]device.State{
		"lamp":   device.StateOff,
		"heater": device.StateOn,
		"ac":     device.StateOff,
	}}
	climate := &fakeClimate{}

	f, err := inventory.Parse([]byte(home))
	require.NoError(t, err)

	m := manager.New(inventory.Vendors{
		"cloud": {
			Cloud: cloud,
			Climate: func(e inventory.Entry) (appliance.AcControl, error) {
				return climate, nil
			},
		},
	})
	require.NoError(t, m.Initialize(context.Background(), f, true))

	r := mux.NewRouter()
	NewDeviceHandler(m).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, cloud, climate
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, out interface{}) int {
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndRefresh(t *testing.T) {
	assert := assert.New(t)
	srv, _, _ := newServer(t)

	var h manager.Health
	assert.Equal(http.StatusOK, call(t, srv, http.MethodGet, "/health", "", &h))
	assert.Equal(manager.Health{Total: 4, Offline: 4}, h)

	assert.Equal(http.StatusOK, call(t, srv, http.MethodPost, "/refresh", "", &h))
	assert.Equal(manager.Health{Total: 4, Online: 3, Offline: 1}, h)
}

func TestDevices(t *testing.T) {
	assert := assert.New(t)
	srv, cloud, _ := newServer(t)

	var list []map[string]interface{}
	assert.Equal(http.StatusOK, call(t, srv, http.MethodGet, "/devices", "", &list))
	require.Len(t, list, 4)
	assert.Equal("Lamp", list[0]["name"])
	assert.Equal("light", list[0]["kind"])
	assert.Equal("unknown", list[0]["state"])
	assert.Equal("ac", list[3]["kind"])
	assert.EqualValues(appliance.DefaultTemperature, list[3]["temperature"])

	var d map[string]interface{}
	assert.Equal(http.StatusOK, call(t, srv, http.MethodGet, "/devices/Lamp", "", &d))
	assert.Equal("off", d["state"])

	assert.Equal(http.StatusOK, call(t, srv, http.MethodPost, "/devices/Lamp/on", "", &d))
	assert.Equal("on", d["state"])
	assert.Equal(device.StateOn, cloud.states["lamp"])

	cloud.mu.Lock()
	cloud.states["lamp"] = device.StateOff
	cloud.mu.Unlock()
	assert.Equal(http.StatusOK, call(t, srv, http.MethodPost, "/devices/Lamp/refresh", "", &d))
	assert.Equal("off", d["state"])

	// a failed set leaves the cache alone
	assert.Equal(http.StatusBadGateway, call(t, srv, http.MethodPost, "/devices/Dead/off", "", &d))
	assert.Equal("unknown", d["state"])

	var e errorResponse
	assert.Equal(http.StatusNotFound, call(t, srv, http.MethodGet, "/devices/Nothing", "", &e))
	assert.Contains(e.Error, "Nothing")

	assert.Equal(http.StatusMethodNotAllowed, call(t, srv, http.MethodGet, "/devices/Lamp/on", "", nil))
	assert.Equal(http.StatusNotFound, call(t, srv, http.MethodPost, "/devices/Lamp/dim", "", nil))
}

func TestRooms(t *testing.T) {
	assert := assert.New(t)
	srv, cloud, _ := newServer(t)

	var rooms []roomView
	assert.Equal(http.StatusOK, call(t, srv, http.MethodGet, "/rooms", "", &rooms))
	require.Len(t, rooms, 2)
	assert.Equal("Bedroom", rooms[0].Name)
	assert.Equal("Aircon", rooms[0].AC)
	assert.Equal([]string{"Lamp"}, rooms[0].Groups["lights"])

	var res resultsResponse
	assert.Equal(http.StatusOK, call(t, srv, http.MethodPost, "/rooms/Bedroom/switches/off", "", &res))
	assert.Equal(map[string]bool{"Heater": true}, res.Results)
	assert.Equal(device.StateOff, cloud.states["heater"])

	var failed resultsResponse
	assert.Equal(http.StatusBadGateway, call(t, srv, http.MethodPost, "/rooms/Lounge/all/on", "", &failed))
	assert.Equal(map[string]bool{"Dead": false}, failed.Results)

	assert.Equal(http.StatusNotFound, call(t, srv, http.MethodPost, "/rooms/Attic/all/on", "", nil))
	assert.Equal(http.StatusNotFound, call(t, srv, http.MethodPost, "/rooms/Bedroom/garden/on", "", nil))
}

func TestClimate(t *testing.T) {
	assert := assert.New(t)
	srv, _, climate := newServer(t)

	var c appliance.Climate
	assert.Equal(http.StatusOK, call(t, srv, http.MethodGet, "/devices/Aircon/climate", "", &c))
	assert.Equal(appliance.Climate{Temperature: 21.5, Humidity: 40}, c)

	var res resultsResponse
	assert.Equal(http.StatusOK, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"temperature": 19, "mode": "heat"}`, &res))
	assert.Equal(map[string]bool{"temperature": true, "mode": true}, res.Results)
	assert.Equal(19, climate.temp)
	assert.Equal("heat", climate.mode)

	// the backend has no fan control
	var fan resultsResponse
	assert.Equal(http.StatusBadGateway, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"fan_level": "high"}`, &fan))
	assert.Equal(map[string]bool{"fan_level": false}, fan.Results)

	var e errorResponse
	assert.Equal(http.StatusBadRequest, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{}`, &e))
	assert.Equal(http.StatusBadRequest, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"temp": 19}`, &e))
	assert.Equal(http.StatusBadRequest, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"mode":"cool"}{"mode":"dry"}`, &e))
	assert.Equal(http.StatusNotFound, call(t, srv, http.MethodGet, "/devices/Lamp/climate", "", &e))

	assert.Equal(http.StatusUnprocessableEntity, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"temperature": 45}`, &e))
	assert.Contains(e.Error, "temperature")
	assert.Equal(http.StatusUnprocessableEntity, call(t, srv, http.MethodPost, "/devices/Aircon/climate", `{"mode": "turbo"}`, &e))
	assert.Contains(e.Error, "mode")
	assert.Equal(19, climate.temp)

	climate.broke = true
	assert.Equal(http.StatusBadGateway, call(t, srv, http.MethodGet, "/devices/Aircon/climate", "", &e))
}

func TestClimateRequestValidate(t *testing.T) {
	assert := assert.New(t)

	temp := func(n int) *int { return &n }

	assert.NoError(climateRequest{Temperature: temp(22), Mode: "COOL"}.Validate())
	assert.NoError(climateRequest{FanLevel: "high"}.Validate())
	assert.Error(climateRequest{Temperature: temp(5)}.Validate())
	assert.Error(climateRequest{Temperature: temp(33)}.Validate())
	assert.Error(climateRequest{Mode: "turbo"}.Validate())
}

func TestDecodeRejectsOtherContentTypes(t *testing.T) {
	srv, _, _ := newServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/devices/Aircon/climate", strings.NewReader(`{"mode":"cool"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNestAuthRedirect(t *testing.T) {
	assert := assert.New(t)

	h := NewNestAuthHandler("proj", "client", "https://home.example/oauth/nest")
	u := h.AuthURL()
	assert.True(strings.HasPrefix(u, "https://nestservices.google.com/partnerconnections/proj/auth?"))
	assert.Contains(u, "access_type=offline")
	assert.Contains(u, "client_id=client")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/nest", nil))
	assert.Equal(http.StatusFound, rec.Code)
	assert.Equal(u, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/nest?code=abc", nil))
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), "abc")
}
