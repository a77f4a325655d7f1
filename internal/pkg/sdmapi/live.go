package sdmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	apioption "google.golang.org/api/option"
	sdmv1 "google.golang.org/api/smartdevicemanagement/v1"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Scope is the OAuth scope required by the Device Access API
const Scope = "https://www.googleapis.com/auth/sdm.service"

type Live struct {
	sdmProjectID string
	options      []apioption.ClientOption
	timeout      time.Duration
}

func NewLiveClient(sdmProjectID string) *Live {
	return &Live{
		sdmProjectID: "enterprises/" + sdmProjectID,
	}
}

// TokenSource refreshes access tokens from the refresh token issued when
// the Device Access partner connection was authorised
func TokenSource(ctx context.Context, clientID, clientSecret, refreshToken string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{Scope},
	}

	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func (c *Live) WithTokenSource(ts oauth2.TokenSource) *Live {
	return c.WithClientOptions(apioption.WithTokenSource(ts))
}

// WithClientOptions adds raw API client options, eg. an endpoint override
func (c *Live) WithClientOptions(opts ...apioption.ClientOption) *Live {
	nc := *c
	nc.options = append(append([]apioption.ClientOption{}, c.options...), opts...)
	return &nc
}

func (c *Live) WithTimeout(d time.Duration) SmartDeviceManagement {
	nc := *c
	nc.timeout = d
	return &nc
}

func (c *Live) api(ctx context.Context) (*sdmv1.Service, error) {
	sdm, err := sdmv1.NewService(ctx, c.options...)
	if err != nil {
		return nil, err
	}

	return sdm, nil
}

func (c *Live) makeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}

	return context.WithCancel(ctx)
}

func (c *Live) Devices(ctx context.Context) ([]Device, error) {
	s, err := c.api(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initialising the api")
	}

	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	deviceList, err := s.Enterprises.Devices.List(c.sdmProjectID).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "listing devices")
	}

	var items []Device
	for _, d := range deviceList.Devices {
		t := NewTraits()
		if err := t.Parse(d.Traits); err != nil {
			return nil, errors.Wrap(err, "parsing device traits")
		}

		items = append(items, Device{
			ID:         c.shortDeviceName(d.Name),
			DeviceType: d.Type,
			Traits:     t,
		})
	}

	return items, nil
}

func (c *Live) shortDeviceName(longName string) string {
	return strings.TrimPrefix(longName, c.sdmProjectID+"/devices/")
}

func (c *Live) longDeviceName(shortName string) string {
	return c.sdmProjectID + "/devices/" + shortName
}

func (c *Live) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	s, err := c.api(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initialising the api")
	}

	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	device, err := s.Enterprises.Devices.Get(c.longDeviceName(deviceID)).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "fetching device details")
	}

	t := NewTraits()
	if err := t.Parse(device.Traits); err != nil {
		return nil, errors.Wrap(err, "parsing device traits")
	}

	return &Device{
		ID:         c.shortDeviceName(device.Name),
		DeviceType: device.Type,
		Traits:     t,
	}, nil
}

func (c *Live) SendCommand(ctx context.Context, deviceID string, command Command) error {
	s, err := c.api(ctx)
	if err != nil {
		return errors.Wrap(err, "initialising the api")
	}

	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	cmdParams, err := json.Marshal(command)
	if err != nil {
		return errors.Wrap(err, "marshaling command parameters")
	}

	cmdRequest := sdmv1.GoogleHomeEnterpriseSdmV1ExecuteDeviceCommandRequest{
		Command: command.commandName(),
		Params:  cmdParams,
	}

	logging.Logger(ctx).Debugf("sending command: %s, params %s", cmdRequest.Command, string(cmdRequest.Params))

	resp, err := s.Enterprises.Devices.ExecuteCommand(c.longDeviceName(deviceID), &cmdRequest).Context(ctx).Do()
	if err != nil {
		return errors.Wrapf(err, "executing command: %s, params %s", cmdRequest.Command, string(cmdRequest.Params))
	}

	if resp.HTTPStatusCode != 200 {
		return fmt.Errorf("command response error: HTTP status %d, %s", resp.HTTPStatusCode, string(resp.Results))
	}

	return nil
}
