package sensibo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/httpjson"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

const defaultBaseURL = "https://home.sensibo.com/api/v2"

// Cloud is the Sensibo v2 API.  Sensibo pods have no local API so this is
// the only transport they get.
type Cloud struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type apiResponse struct {
	Status string          `json:"status"`
	Reason string          `json:"reason"`
	Result json.RawMessage `json:"result"`
}

func NewCloud(apiKey string) *Cloud {
	return &Cloud{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: time.Second * 5},
	}
}

func (c *Cloud) WithBaseURL(u string) *Cloud {
	nc := *c
	nc.baseURL = strings.TrimSuffix(u, "/")
	return &nc
}

func (c *Cloud) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", c.apiKey)
	return c.baseURL + path + "?" + query.Encode()
}

func (c *Cloud) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	req, _, err := httpjson.NewRequest(ctx, method, c.url(path, query), body)
	if err != nil {
		return err
	}

	var resp apiResponse
	if err := httpjson.Do(c.client, req, &resp); err != nil {
		return err
	}

	if resp.Status != "success" {
		return fmt.Errorf("Sensibo error: %s %s", resp.Status, resp.Reason)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(resp.Result, out), "decoding result")
}

// SendACState posts a partial acState, eg {"targetTemperature": 24}
func (c *Cloud) SendACState(ctx context.Context, podID string, state map[string]interface{}) error {
	logging.Logger(ctx).Infof("Sensibo [%s] setting %v", podID, state)

	err := c.call(ctx, http.MethodPost, "/pods/"+url.PathEscape(podID)+"/acStates", nil,
		map[string]interface{}{"acState": state}, nil)
	return errors.Wrapf(err, "setting AC state of %s", podID)
}

// SetState ignores the channel, a pod drives exactly one unit
func (c *Cloud) SetState(ctx context.Context, remoteID string, target device.State, _ device.Channel) error {
	return c.SendACState(ctx, remoteID, map[string]interface{}{"on": target == device.StateOn})
}

func (c *Cloud) GetState(ctx context.Context, remoteID string, _ device.Channel) (device.State, error) {
	var states []struct {
		ACState struct {
			On bool `json:"on"`
		} `json:"acState"`
	}

	q := url.Values{"limit": {"1"}, "fields": {"acState"}}
	if err := c.call(ctx, http.MethodGet, "/pods/"+url.PathEscape(remoteID)+"/acStates", q, nil, &states); err != nil {
		return device.StateUnknown, errors.Wrapf(err, "reading AC state of %s", remoteID)
	}

	if len(states) == 0 {
		return device.StateUnknown, fmt.Errorf("no AC state reported for %s", remoteID)
	}
	if states[0].ACState.On {
		return device.StateOn, nil
	}
	return device.StateOff, nil
}

// Measurements returns the pod's latest room reading
func (c *Cloud) Measurements(ctx context.Context, podID string) (appliance.Climate, error) {
	var pod struct {
		Measurements struct {
			Temperature float64 `json:"temperature"`
			Humidity    float64 `json:"humidity"`
		} `json:"measurements"`
	}

	q := url.Values{"fields": {"measurements"}}
	if err := c.call(ctx, http.MethodGet, "/pods/"+url.PathEscape(podID), q, nil, &pod); err != nil {
		return appliance.Climate{}, errors.Wrapf(err, "reading measurements of %s", podID)
	}

	return appliance.Climate{
		Temperature: pod.Measurements.Temperature,
		Humidity:    pod.Measurements.Humidity,
	}, nil
}

// Control binds the cloud to a single pod and exposes its climate controls
func (c *Cloud) Control(podID string) *Control {
	return &Control{cloud: c, podID: podID}
}

// Control implements the AC, fan and sensor capabilities of one pod
type Control struct {
	cloud *Cloud
	podID string
}

func (p *Control) send(ctx context.Context, state map[string]interface{}) bool {
	if err := p.cloud.SendACState(ctx, p.podID, state); err != nil {
		logging.Logger(ctx).WithError(err).Error("Sensibo command failed")
		return false
	}
	return true
}

func (p *Control) SetTemperature(ctx context.Context, celsius int) bool {
	return p.send(ctx, map[string]interface{}{"targetTemperature": celsius})
}

// SetMode also switches the unit on
func (p *Control) SetMode(ctx context.Context, mode string) bool {
	return p.send(ctx, map[string]interface{}{"on": true, "mode": mode})
}

func (p *Control) SetFanLevel(ctx context.Context, level string) bool {
	return p.send(ctx, map[string]interface{}{"fanLevel": level})
}

func (p *Control) SetSwing(ctx context.Context, swing string) bool {
	return p.send(ctx, map[string]interface{}{"swing": swing})
}

func (p *Control) Climate(ctx context.Context) (appliance.Climate, error) {
	return p.cloud.Measurements(ctx, p.podID)
}
