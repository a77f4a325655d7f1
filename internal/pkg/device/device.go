package device

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

const (
	DefaultLocalTimeout = time.Second * 2
	DefaultCloudTimeout = time.Second * 10
)

var (
	ErrNoTransport = errors.New("no local or cloud transport configured")
	ErrNoEmitter   = errors.New("device cannot transmit IR codes")
)

// Config describes a physical device as loaded from the inventory
type Config struct {
	Name      string
	Address   string
	RemoteID  string
	Channel   Channel
	Stateless bool

	LocalTimeout time.Duration
	CloudTimeout time.Duration
}

// Device implements local-first, cloud-fallback control of one physical
// device and caches its last confirmed state.
type Device struct {
	cfg     Config
	local   LocalTransport
	cloud   CloudTransport
	emitter Emitter

	mu        sync.Mutex
	lastKnown State
}

// New creates a device.  Either transport may be nil.
func New(cfg Config, local LocalTransport, cloud CloudTransport) *Device {
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = DefaultLocalTimeout
	}
	if cfg.CloudTimeout <= 0 {
		cfg.CloudTimeout = DefaultCloudTimeout
	}

	return &Device{
		cfg:       cfg,
		local:     local,
		cloud:     cloud,
		lastKnown: StateUnknown,
	}
}

// WithEmitter gives the device the ability to transmit raw IR codes.  Must be
// called before the device is shared.
func (d *Device) WithEmitter(e Emitter) *Device {
	d.emitter = e
	return d
}

func (d *Device) Name() string { return d.cfg.Name }
func (d *Device) Address() string { return d.cfg.Address }
func (d *Device) RemoteID() string { return d.cfg.RemoteID }
func (d *Device) Channel() Channel { return d.cfg.Channel }
func (d *Device) Stateless() bool { return d.cfg.Stateless }
func (d *Device) HasLocal() bool { return d.local != nil }
func (d *Device) HasCloud() bool { return d.cloud != nil }
func (d *Device) CanEmit() bool { return d.emitter != nil }
func (d *Device) String() string { return fmt.Sprintf("%s [%s]", d.cfg.Name, d.Cached()) }
func (d *Device) On(ctx context.Context) bool { return d.SetState(ctx, StateOn) }
func (d *Device) Off(ctx context.Context) bool { return d.SetState(ctx, StateOff) }

func (d *Device) log(ctx context.Context) *logrus.Entry {
	return logging.ForDevice(ctx, d.cfg.Name)
}

// SetState switches the device, trying the local transport first and the
// cloud only if that fails.  The cache is updated only on confirmed success.
func (d *Device) SetState(ctx context.Context, target State) bool {
	if !target.IsPower() {
		d.log(ctx).Errorf("refusing to set state to %s", target)
		return false
	}

	if d.local != nil {
		err := d.call(ctx, d.cfg.LocalTimeout, "local transport", func(ctx context.Context) error {
			return d.local.SetState(ctx, target, d.cfg.Channel)
		})
		if err == nil {
			d.log(ctx).Debugf("set %s via local network", target)
			d.store(target)
			return true
		}

		d.log(ctx).WithError(err).Warn("local control failed")
	}

	if d.cloud == nil {
		d.log(ctx).WithError(ErrNoTransport).Errorf("cannot set %s: local network unreachable and no cloud configured", target)
		return false
	}

	d.log(ctx).Infof("falling back to cloud to set %s", target)

	err := d.call(ctx, d.cfg.CloudTimeout, "cloud transport", func(ctx context.Context) error {
		return d.cloud.SetState(ctx, d.cfg.RemoteID, target, d.cfg.Channel)
	})
	if err != nil {
		d.log(ctx).WithError(err).Errorf("cloud control failed, state stays %s", d.Cached())
		return false
	}

	d.store(target)
	return true
}

// GetState queries the transports, local first.  When neither answers the
// cache becomes Offline.  Stateless devices are never queried.
func (d *Device) GetState(ctx context.Context) State {
	if d.cfg.Stateless {
		return StateNotApplicable
	}

	if d.local != nil {
		var state State
		err := d.call(ctx, d.cfg.LocalTimeout, "local transport", func(ctx context.Context) error {
			var err error
			state, err = d.local.GetState(ctx, d.cfg.Channel)
			return err
		})
		if err == nil && state.IsPower() {
			d.log(ctx).Debugf("state (local): %s", state)
			d.store(state)
			return state
		}

		if err == nil {
			err = fmt.Errorf("unexpected state %s", state)
		}
		d.log(ctx).WithError(err).Warn("local state query failed")
	}

	if d.cloud != nil {
		var state State
		err := d.call(ctx, d.cfg.CloudTimeout, "cloud transport", func(ctx context.Context) error {
			var err error
			state, err = d.cloud.GetState(ctx, d.cfg.RemoteID, d.cfg.Channel)
			return err
		})
		if err == nil && state.IsPower() {
			d.log(ctx).Debugf("state (cloud): %s", state)
			d.store(state)
			return state
		}

		if err == nil {
			err = fmt.Errorf("unexpected state %s", state)
		}
		d.log(ctx).WithError(err).Error("cloud state query failed")
	} else {
		d.log(ctx).Error("could not retrieve state, device offline")
	}

	d.store(StateOffline)
	return StateOffline
}

// State returns the cached state.  Only an Unknown cache triggers a query;
// Offline sticks until GetState is called explicitly.
func (d *Device) State(ctx context.Context) State {
	if d.cfg.Stateless {
		return StateNotApplicable
	}

	if cached := d.Cached(); cached != StateUnknown {
		return cached
	}

	return d.GetState(ctx)
}

// Cached returns the cache without touching the network
func (d *Device) Cached() State {
	if d.cfg.Stateless {
		return StateNotApplicable
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastKnown
}

// SendRaw transmits an IR code through the device's emitter
func (d *Device) SendRaw(ctx context.Context, code string) bool {
	if d.emitter == nil {
		d.log(ctx).WithError(ErrNoEmitter).Error("cannot send IR code")
		return false
	}

	err := d.call(ctx, d.cfg.LocalTimeout, "emitter", func(ctx context.Context) error {
		return d.emitter.SendRaw(ctx, code)
	})
	if err != nil {
		d.log(ctx).WithError(err).Error("sending IR code")
		return false
	}

	return true
}

func (d *Device) store(s State) {
	d.mu.Lock()
	d.lastKnown = s
	d.mu.Unlock()
}

// call runs fn under a deadline and turns a panic inside a transport into
// an error, so nothing escapes to groups or rooms
func (d *Device) call(ctx context.Context, timeout time.Duration, what string, fn func(ctx context.Context) error) (err error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log(ctx).Debugf("%s panic: %v : %s", what, r, debug.Stack())
			err = fmt.Errorf("%s panic: %v", what, r)
		}
	}()

	if err = fn(tctx); err != nil {
		return errors.Wrap(err, what)
	}

	return nil
}
