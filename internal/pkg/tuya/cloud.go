package tuya

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/httpjson"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

var regionHosts = map[string]string{
	"eu": "https://openapi.tuyaeu.com",
	"us": "https://openapi.tuyaus.com",
	"cn": "https://openapi.tuyacn.com",
	"in": "https://openapi.tuyain.com",
}

// Cloud is a client of the Tuya OpenAPI, shared by every Tuya device
type Cloud struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	tokens       oauth2.TokenSource
}

type apiResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

type command struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// NewCloud creates a client for a data centre region (eu, us, cn, in)
func NewCloud(region, clientID, clientSecret string) (*Cloud, error) {
	host, ok := regionHosts[strings.ToLower(region)]
	if !ok {
		return nil, fmt.Errorf("unknown Tuya region `%s`", region)
	}

	c := &Cloud{
		baseURL:      host,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       http.DefaultClient,
	}
	c.tokens = oauth2.ReuseTokenSource(nil, &tokenSource{cloud: c})

	return c, nil
}

func (c *Cloud) WithBaseURL(u string) *Cloud {
	nc := *c
	nc.baseURL = strings.TrimSuffix(u, "/")
	nc.tokens = oauth2.ReuseTokenSource(nil, &tokenSource{cloud: &nc})
	return &nc
}

func (c *Cloud) WithHTTPClient(hc *http.Client) *Cloud {
	nc := *c
	nc.client = hc
	nc.tokens = oauth2.ReuseTokenSource(nil, &tokenSource{cloud: &nc})
	return &nc
}

// SwitchCode names the data point that drives a relay.  Without a channel
// the first gang is meant.
func SwitchCode(ch device.Channel) string {
	if idx, ok := ch.Index(); ok {
		return fmt.Sprintf("switch_%d", idx)
	}
	return "switch_1"
}

func (c *Cloud) SetState(ctx context.Context, remoteID string, target device.State, ch device.Channel) error {
	body := map[string][]command{
		"commands": {{Code: SwitchCode(ch), Value: target == device.StateOn}},
	}

	logging.Logger(ctx).Debugf("Tuya: %s %s -> %s", remoteID, SwitchCode(ch), target)

	var ok bool
	err := c.call(ctx, http.MethodPost, "/v1.0/iot-03/devices/"+url.PathEscape(remoteID)+"/commands", body, &ok)
	if err != nil {
		return errors.Wrap(err, "sending command")
	}
	if !ok {
		return errors.New("command not accepted")
	}

	return nil
}

func (c *Cloud) GetState(ctx context.Context, remoteID string, ch device.Channel) (device.State, error) {
	var status []command
	err := c.call(ctx, http.MethodGet, "/v1.0/iot-03/devices/"+url.PathEscape(remoteID)+"/status", nil, &status)
	if err != nil {
		return device.StateUnknown, errors.Wrap(err, "reading status")
	}

	code := SwitchCode(ch)
	for _, dp := range status {
		if dp.Code != code {
			continue
		}
		if v, ok := dp.Value.(bool); ok {
			if v {
				return device.StateOn, nil
			}
			return device.StateOff, nil
		}
		return device.StateUnknown, fmt.Errorf("%s is not a boolean: %v", code, dp.Value)
	}

	return device.StateUnknown, fmt.Errorf("%s not reported by %s", code, remoteID)
}

func (c *Cloud) call(ctx context.Context, method, path string, body, out interface{}) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return errors.Wrap(err, "obtaining access token")
	}

	return c.do(ctx, method, path, tok.AccessToken, body, out)
}

// do signs and executes one request.  An empty accessToken is used for the
// token grant itself.
func (c *Cloud) do(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	req, data, err := httpjson.NewRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	t := strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
	nonce := uuid.New().String()

	req.Header.Set("client_id", c.clientID)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign_method", "HMAC-SHA256")
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}
	req.Header.Set("sign", c.sign(accessToken, t, nonce, stringToSign(method, path, data)))

	var resp apiResponse
	if err := httpjson.Do(c.client, req, &resp); err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("Tuya error %d: %s", resp.Code, resp.Msg)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(resp.Result, out), "decoding result")
}

func stringToSign(method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{method, hex.EncodeToString(sum[:]), "", path}, "\n")
}

func (c *Cloud) sign(accessToken, t, nonce, sts string) string {
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(c.clientID + accessToken + t + nonce + sts))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// tokenSource performs the simple-mode token grant.  Wrapped in a
// ReuseTokenSource it is only consulted when the token expires.
type tokenSource struct {
	cloud *Cloud
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	var res struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpireTime   int    `json:"expire_time"`
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := ts.cloud.do(ctx, http.MethodGet, "/v1.0/token?grant_type=1", "", nil, &res); err != nil {
		return nil, err
	}

	logging.Logger(ctx).Debugf("Tuya: new access token valid for %ds", res.ExpireTime)

	return &oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(res.ExpireTime) * time.Second),
	}, nil
}
