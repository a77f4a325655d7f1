package modbusrelay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simonvetter/modbus"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

const DefaultPort = 502

// board is one Modbus TCP endpoint.  Relays on the same board share its
// connection, which is opened lazily and dropped after any error.
type board struct {
	url     string
	timeout time.Duration

	mu     sync.Mutex
	client *modbus.ModbusClient
}

func (b *board) do(unitID uint8, fn func(c *modbus.ModbusClient) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		c, err := modbus.NewClient(&modbus.ClientConfiguration{
			URL:     b.url,
			Timeout: b.timeout,
		})
		if err != nil {
			return errors.Wrap(err, "creating modbus client")
		}
		if err := c.Open(); err != nil {
			return errors.Wrapf(err, "connecting to %s", b.url)
		}
		b.client = c
	}

	if err := b.client.SetUnitId(unitID); err != nil {
		return err
	}

	if err := fn(b.client); err != nil {
		b.client.Close()
		b.client = nil
		return err
	}

	return nil
}

func (b *board) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

// Pool hands out relays, one connection per board address
type Pool struct {
	timeout time.Duration

	mu     sync.Mutex
	boards map[string]*board
}

func NewPool(timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = device.DefaultLocalTimeout
	}

	return &Pool{
		timeout: timeout,
		boards:  make(map[string]*board),
	}
}

// Relay returns the transport for one unit on the board at address:port
func (p *Pool) Relay(address string, port int, unitID uint8) *Relay {
	if port <= 0 {
		port = DefaultPort
	}
	url := fmt.Sprintf("tcp://%s:%d", address, port)

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.boards[url]
	if !ok {
		b = &board{url: url, timeout: p.timeout}
		p.boards[url] = b
	}

	return &Relay{board: b, unitID: unitID}
}

// Close drops every open connection
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.boards {
		b.close()
	}
}

// Relay drives the coils of one unit.  The channel is the coil address and
// no channel means coil 0.
type Relay struct {
	board  *board
	unitID uint8
}

func coil(ch device.Channel) uint16 {
	idx, _ := ch.Index()
	return uint16(idx)
}

// run executes fn off the caller's goroutine so that a hung board cannot
// outlive ctx
func (r *Relay) run(ctx context.Context, fn func(c *modbus.ModbusClient) error) error {
	done := make(chan error, 1)
	go func() {
		done <- r.board.do(r.unitID, fn)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (r *Relay) SetState(ctx context.Context, target device.State, ch device.Channel) error {
	logging.Logger(ctx).Debugf("modbus %s unit %d: coil %d -> %s", r.board.url, r.unitID, coil(ch), target)

	return r.run(ctx, func(c *modbus.ModbusClient) error {
		return errors.Wrap(c.WriteCoil(coil(ch), target == device.StateOn), "writing coil")
	})
}

func (r *Relay) GetState(ctx context.Context, ch device.Channel) (device.State, error) {
	var on bool
	err := r.run(ctx, func(c *modbus.ModbusClient) error {
		var err error
		on, err = c.ReadCoil(coil(ch))
		return errors.Wrap(err, "reading coil")
	})
	if err != nil {
		return device.StateUnknown, err
	}

	if on {
		return device.StateOn, nil
	}
	return device.StateOff, nil
}
