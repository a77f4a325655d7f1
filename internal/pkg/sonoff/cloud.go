package sonoff

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/httpjson"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Cloud talks to the eWeLink v2 API on behalf of every Sonoff device
type Cloud struct {
	baseURL   string
	appID     string
	appSecret string
	client    *http.Client
}

type cloudResponse struct {
	Error int             `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

type thing struct {
	ItemData struct {
		DeviceID string          `json:"deviceid"`
		Params   json.RawMessage `json:"params"`
	} `json:"itemData"`
}

// NewCloud creates a client for region (as, eu, us, cn) using a
// pre-issued access token
func NewCloud(region, appID, appSecret, accessToken string) *Cloud {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	return &Cloud{
		baseURL:   fmt.Sprintf("https://%s-apia.coolkit.cc/v2", region),
		appID:     appID,
		appSecret: appSecret,
		client:    oauth2.NewClient(context.Background(), ts),
	}
}

func (c *Cloud) WithBaseURL(u string) *Cloud {
	nc := *c
	nc.baseURL = strings.TrimSuffix(u, "/")
	return &nc
}

func (c *Cloud) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Cloud) call(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	req, data, err := httpjson.NewRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-CK-Appid", c.appID)
	req.Header.Set("X-CK-Nonce", uuid.New().String()[:8])
	req.Header.Set("Sign", c.sign(data))

	var resp cloudResponse
	if err := httpjson.Do(c.client, req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != 0 {
		return nil, fmt.Errorf("eWeLink error %d: %s", resp.Error, resp.Msg)
	}

	return resp.Data, nil
}

func (c *Cloud) SetState(ctx context.Context, remoteID string, target device.State, ch device.Channel) error {
	var params interface{} = switchParams{Switch: target.String()}
	if idx, ok := ch.Index(); ok {
		params = switchesParams{Switches: []outlet{{Outlet: idx, Switch: target.String()}}}
	}

	logging.Logger(ctx).Debugf("eWeLink: %s -> %s (channel %s)", remoteID, target, ch)

	body := map[string]interface{}{
		"type":   1,
		"id":     remoteID,
		"params": params,
	}

	_, err := c.call(ctx, http.MethodPost, "/device/thing/status", body)
	return errors.Wrap(err, "setting thing status")
}

func (c *Cloud) GetState(ctx context.Context, remoteID string, ch device.Channel) (device.State, error) {
	data, err := c.call(ctx, http.MethodGet, "/device/thing?id="+url.QueryEscape(remoteID), nil)
	if err != nil {
		return device.StateUnknown, errors.Wrap(err, "fetching thing")
	}

	params, err := findParams(data, remoteID)
	if err != nil {
		return device.StateUnknown, err
	}

	return parseCloudParams(params, ch)
}

// findParams accepts the three shapes the thing endpoint answers with
func findParams(data json.RawMessage, remoteID string) (json.RawMessage, error) {
	var d struct {
		ThingList []thing `json:"thingList"`
		Item      *struct {
			Params json.RawMessage `json:"params"`
		} `json:"itemData"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "decoding thing")
	}

	switch {
	case len(d.ThingList) > 0:
		for _, t := range d.ThingList {
			if t.ItemData.DeviceID == remoteID {
				return t.ItemData.Params, nil
			}
		}
	case d.Item != nil && len(d.Item.Params) > 0:
		return d.Item.Params, nil
	case len(d.Params) > 0:
		return d.Params, nil
	}

	return nil, fmt.Errorf("no params for %s", remoteID)
}

// parseCloudParams also understands the switch_<n> form some firmware
// reports instead of a switches array
func parseCloudParams(params json.RawMessage, ch device.Channel) (device.State, error) {
	if idx, ok := ch.Index(); ok {
		var flat map[string]json.RawMessage
		if err := json.Unmarshal(params, &flat); err == nil {
			if raw, ok := flat[fmt.Sprintf("switch_%d", idx)]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					return device.ParseState(s)
				}
			}
		}
	}

	return parseParams(params, ch)
}
