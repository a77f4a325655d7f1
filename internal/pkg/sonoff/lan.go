package sonoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/httpjson"
)

const DefaultLANPort = 8081

// switchParams is the single-relay payload shape
type switchParams struct {
	Switch string `json:"switch"`
}

type outlet struct {
	Outlet int    `json:"outlet"`
	Switch string `json:"switch"`
}

// switchesParams is the multi-gang payload shape
type switchesParams struct {
	Switches []outlet `json:"switches"`
}

type lanRequest struct {
	Sequence   string      `json:"sequence"`
	DeviceID   string      `json:"deviceid"`
	SelfAPIKey string      `json:"selfApikey"`
	Encrypt    bool        `json:"encrypt,omitempty"`
	IV         string      `json:"iv,omitempty"`
	Data       interface{} `json:"data"`
}

type lanResponse struct {
	Seq     int             `json:"seq"`
	Error   int             `json:"error"`
	Encrypt bool            `json:"encrypt"`
	IV      string          `json:"iv"`
	Data    json.RawMessage `json:"data"`
}

// LAN drives one DIY-mode unit over its /zeroconf HTTP API
type LAN struct {
	baseURL   string
	deviceID  string
	deviceKey string
	client    *http.Client
}

func NewLAN(address, deviceID, deviceKey string) *LAN {
	return &LAN{
		baseURL:   fmt.Sprintf("http://%s:%d", address, DefaultLANPort),
		deviceID:  deviceID,
		deviceKey: deviceKey,
		client:    http.DefaultClient,
	}
}

// WithPort overrides the default zeroconf port
func (l *LAN) WithPort(address string, port int) *LAN {
	nl := *l
	nl.baseURL = fmt.Sprintf("http://%s:%d", address, port)
	return &nl
}

// WithBaseURL points the transport somewhere else entirely
func (l *LAN) WithBaseURL(u string) *LAN {
	nl := *l
	nl.baseURL = u
	return &nl
}

func (l *LAN) WithHTTPClient(c *http.Client) *LAN {
	nl := *l
	nl.client = c
	return &nl
}

func (l *LAN) SetState(ctx context.Context, target device.State, ch device.Channel) error {
	endpoint, params := "switch", interface{}(switchParams{Switch: target.String()})
	if idx, ok := ch.Index(); ok {
		endpoint = "switches"
		params = switchesParams{Switches: []outlet{{Outlet: idx, Switch: target.String()}}}
	}

	_, err := l.send(ctx, endpoint, params)
	return err
}

func (l *LAN) GetState(ctx context.Context, ch device.Channel) (device.State, error) {
	data, err := l.send(ctx, "info", struct{}{})
	if err != nil {
		return device.StateUnknown, err
	}

	return parseParams(data, ch)
}

func (l *LAN) send(ctx context.Context, endpoint string, params interface{}) (json.RawMessage, error) {
	body := lanRequest{
		Sequence:   strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10),
		DeviceID:   l.deviceID,
		SelfAPIKey: "123",
		Data:       params,
	}

	if l.deviceKey != "" {
		data, iv, err := encrypt(l.deviceKey, params)
		if err != nil {
			return nil, errors.Wrap(err, "encrypting payload")
		}
		body.Encrypt = true
		body.IV = iv
		body.Data = data
	}

	req, _, err := httpjson.NewRequest(ctx, http.MethodPost, l.baseURL+"/zeroconf/"+endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp lanResponse
	if err := httpjson.Do(l.client, req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != 0 {
		return nil, fmt.Errorf("device returned error %d", resp.Error)
	}

	if resp.Encrypt && len(resp.Data) > 0 {
		var ct string
		if err := json.Unmarshal(resp.Data, &ct); err != nil {
			return nil, errors.Wrap(err, "encrypted data is not a string")
		}
		plain, err := decrypt(l.deviceKey, ct, resp.IV)
		if err != nil {
			return nil, errors.Wrap(err, "decrypting response")
		}
		return plain, nil
	}

	return resp.Data, nil
}

// parseParams reads a relay state out of a params object, which is shaped
// differently for multi-gang units
func parseParams(data json.RawMessage, ch device.Channel) (device.State, error) {
	var p struct {
		Switch   string   `json:"switch"`
		Switches []outlet `json:"switches"`
	}
	if len(data) == 0 {
		return device.StateUnknown, errors.New("response has no data")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return device.StateUnknown, errors.Wrap(err, "decoding params")
	}

	if idx, ok := ch.Index(); ok {
		for _, o := range p.Switches {
			if o.Outlet == idx {
				return device.ParseState(o.Switch)
			}
		}
		return device.StateUnknown, fmt.Errorf("outlet %d not reported", idx)
	}

	if p.Switch == "" {
		return device.StateUnknown, errors.New("switch not reported")
	}
	return device.ParseState(p.Switch)
}
