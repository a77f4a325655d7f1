package handlers

import (
	"context"
	"net/http"

	oaerrors "github.com/go-openapi/errors"
	"github.com/go-openapi/validate"
	"github.com/gorilla/mux"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/manager"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/room"
)

// DeviceHandler serves the REST API over a Manager
type DeviceHandler struct {
	mgr *manager.Manager
}

func NewDeviceHandler(mgr *manager.Manager) *DeviceHandler {
	return &DeviceHandler{mgr: mgr}
}

// Register adds every route to r
func (h *DeviceHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/refresh", h.refreshAll).Methods(http.MethodPost)

	r.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}", h.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}/refresh", h.refreshDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices/{name}/climate", h.getClimate).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}/climate", h.setClimate).Methods(http.MethodPost)
	r.HandleFunc("/devices/{name}/{state:on|off}", h.setDevice).Methods(http.MethodPost)

	r.HandleFunc("/rooms", h.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/{group}/{state:on|off}", h.setGroup).Methods(http.MethodPost)
}

type deviceView struct {
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	State     device.State `json:"state"`
	Stateless bool         `json:"stateless"`

	// air conditioners only
	Temperature int    `json:"temperature,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Assumed     *bool  `json:"assumed_on,omitempty"`
}

func newDeviceView(c device.Controllable, s device.State) deviceView {
	v := deviceView{
		Name:      c.Name(),
		Kind:      inventory.CategoryBlaster,
		State:     s,
		Stateless: c.Stateless(),
	}

	if a, ok := c.(appliance.Appliance); ok {
		v.Kind = a.Kind().String()
	}

	if ac, ok := c.(*appliance.AirConditioner); ok {
		v.Temperature, v.Mode = ac.Settings()
		if _, ir := ac.Backing().(appliance.IrBacking); ir {
			on := ac.Assumed()
			v.Assumed = &on
		}
	}

	return v
}

type roomView struct {
	Name   string              `json:"name"`
	TV     string              `json:"tv,omitempty"`
	AC     string              `json:"ac,omitempty"`
	Groups map[string][]string `json:"groups"`
}

func newRoomView(r *room.Room) roomView {
	v := roomView{
		Name: r.Name(),
		Groups: map[string][]string{
			"lights":   r.Lights.Names(),
			"switches": r.Switches.Names(),
			"others":   r.Others.Names(),
			"all":      r.All.Names(),
		},
	}

	if tv := r.TV(); tv != nil {
		v.TV = tv.Name()
	}
	if ac := r.AC(); ac != nil {
		v.AC = ac.Name()
	}

	return v
}

type resultsResponse struct {
	Results map[string]bool `json:"results"`
}

func allTrue(m map[string]bool) bool {
	for _, ok := range m {
		if !ok {
			return false
		}
	}
	return true
}

func (h *DeviceHandler) device(w http.ResponseWriter, r *http.Request) (device.Controllable, bool) {
	name := mux.Vars(r)["name"]

	c, ok := h.mgr.Device(r.Context(), name)
	if !ok {
		sendError(w, r, http.StatusNotFound, "unknown device `%s`", name)
	}
	return c, ok
}

func (h *DeviceHandler) health(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, r, http.StatusOK, h.mgr.SystemHealth())
}

func (h *DeviceHandler) refreshAll(w http.ResponseWriter, r *http.Request) {
	// the refresh finishes even if the client goes away
	h.mgr.RefreshAll(context.WithoutCancel(r.Context()))
	sendJSONResponse(w, r, http.StatusOK, h.mgr.SystemHealth())
}

// listDevices reports the caches only
func (h *DeviceHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.mgr.Devices()

	views := make([]deviceView, 0, len(devices))
	for _, c := range devices {
		views = append(views, newDeviceView(c, c.Cached()))
	}

	sendJSONResponse(w, r, http.StatusOK, views)
}

func (h *DeviceHandler) getDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.device(w, r)
	if !ok {
		return
	}

	sendJSONResponse(w, r, http.StatusOK, newDeviceView(c, c.State(r.Context())))
}

func (h *DeviceHandler) refreshDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.device(w, r)
	if !ok {
		return
	}

	sendJSONResponse(w, r, http.StatusOK, newDeviceView(c, c.GetState(r.Context())))
}

func (h *DeviceHandler) setDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := h.device(w, r)
	if !ok {
		return
	}

	target, err := device.ParseState(mux.Vars(r)["state"])
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "%s", err)
		return
	}

	status := http.StatusOK
	if !c.SetState(r.Context(), target) {
		logging.ForDevice(r.Context(), c.Name()).Warnf("API request to switch %s failed", target)
		status = http.StatusBadGateway
	}

	sendJSONResponse(w, r, status, newDeviceView(c, c.Cached()))
}

func (h *DeviceHandler) airConditioner(w http.ResponseWriter, r *http.Request) (*appliance.AirConditioner, bool) {
	c, ok := h.device(w, r)
	if !ok {
		return nil, false
	}

	ac, ok := c.(*appliance.AirConditioner)
	if !ok {
		sendError(w, r, http.StatusNotFound, "`%s` is not an air conditioner", c.Name())
	}
	return ac, ok
}

func (h *DeviceHandler) getClimate(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.airConditioner(w, r)
	if !ok {
		return
	}

	climate, ok := ac.Climate(r.Context())
	if !ok {
		sendError(w, r, http.StatusBadGateway, "no climate reading for `%s`", ac.Name())
		return
	}

	sendJSONResponse(w, r, http.StatusOK, climate)
}

const (
	minTemperature = 10
	maxTemperature = 32
)

var climateModes = []string{"cool", "heat", "fan", "dry", "auto", "heatcool", "eco", "off"}

type climateRequest struct {
	Temperature *int   `json:"temperature"`
	Mode        string `json:"mode"`
	FanLevel    string `json:"fan_level"`
	Swing       string `json:"swing"`
}

// Validate checks what is backend independent: the temperature range and
// the mode names
func (c climateRequest) Validate() error {
	var res []error

	if c.Temperature != nil {
		t := int64(*c.Temperature)
		if err := validate.MinimumInt("temperature", "body", t, minTemperature, false); err != nil {
			res = append(res, err)
		}
		if err := validate.MaximumInt("temperature", "body", t, maxTemperature, false); err != nil {
			res = append(res, err)
		}
	}

	if c.Mode != "" {
		if err := validate.EnumCase("mode", "body", c.Mode, climateModes, false); err != nil {
			res = append(res, err)
		}
	}

	if len(res) > 0 {
		return oaerrors.CompositeValidationError(res...)
	}
	return nil
}

// setClimate applies the mode before the temperature so an IR unit sends
// one code for the final combination
func (h *DeviceHandler) setClimate(w http.ResponseWriter, r *http.Request) {
	ac, ok := h.airConditioner(w, r)
	if !ok {
		return
	}

	var req climateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		sendError(w, r, http.StatusBadRequest, "%s", err)
		return
	}
	if err := req.Validate(); err != nil {
		sendError(w, r, http.StatusUnprocessableEntity, "%s", err)
		return
	}

	ctx := r.Context()
	results := map[string]bool{}
	if req.Mode != "" {
		results["mode"] = ac.SetMode(ctx, req.Mode)
	}
	if req.Temperature != nil {
		results["temperature"] = ac.SetTemperature(ctx, *req.Temperature)
	}
	if req.FanLevel != "" {
		results["fan_level"] = ac.SetFanLevel(ctx, req.FanLevel)
	}
	if req.Swing != "" {
		results["swing"] = ac.SetSwing(ctx, req.Swing)
	}

	if len(results) == 0 {
		sendError(w, r, http.StatusBadRequest, "nothing to change")
		return
	}

	status := http.StatusOK
	if !allTrue(results) {
		status = http.StatusBadGateway
	}
	sendJSONResponse(w, r, status, resultsResponse{Results: results})
}

func (h *DeviceHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.mgr.Rooms()

	views := make([]roomView, 0, len(rooms))
	for _, rm := range rooms {
		views = append(views, newRoomView(rm))
	}

	sendJSONResponse(w, r, http.StatusOK, views)
}

func (h *DeviceHandler) setGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rm, ok := h.mgr.Room(vars["room"])
	if !ok {
		sendError(w, r, http.StatusNotFound, "unknown room `%s`", vars["room"])
		return
	}

	g, ok := rm.Group(vars["group"])
	if !ok {
		sendError(w, r, http.StatusNotFound, "room `%s` has no group `%s`", rm.Name(), vars["group"])
		return
	}

	target, err := device.ParseState(vars["state"])
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "%s", err)
		return
	}

	results := g.SetState(r.Context(), target)

	status := http.StatusOK
	if !allTrue(results) {
		status = http.StatusBadGateway
	}
	sendJSONResponse(w, r, status, resultsResponse{Results: results})
}
