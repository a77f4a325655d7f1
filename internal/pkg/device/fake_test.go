package device

import (
	"context"
	"errors"
	"sync"
)

var errUnreachable = errors.New("unreachable")

// fakeUnit is a physical multi-gang unit tracking state per channel
type fakeUnit struct {
	mu       sync.Mutex
	relays   map[Channel]State
	failing  bool
	panicky  bool
	setCalls int
	getCalls int
}

func newFakeUnit() *fakeUnit {
	return &fakeUnit{relays: make(map[Channel]State)}
}

func (f *fakeUnit) SetState(ctx context.Context, target State, ch Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setCalls++
	if f.panicky {
		panic("boom")
	}
	if f.failing {
		return errUnreachable
	}
	f.relays[ch] = target
	return nil
}

func (f *fakeUnit) GetState(ctx context.Context, ch Channel) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if f.failing {
		return StateUnknown, errUnreachable
	}
	s, ok := f.relays[ch]
	if !ok {
		return StateOff, nil
	}
	return s, nil
}

func (f *fakeUnit) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeUnit) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls, f.getCalls
}

type cloudCall struct {
	remoteID string
	target   State
	channel  Channel
}

type fakeCloud struct {
	mu       sync.Mutex
	unit     *fakeUnit
	failing  bool
	setCalls []cloudCall
	getCalls int
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{unit: newFakeUnit()}
}

func (f *fakeCloud) SetState(ctx context.Context, remoteID string, target State, ch Channel) error {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, cloudCall{remoteID, target, ch})
	failing := f.failing
	f.mu.Unlock()

	if failing {
		return errUnreachable
	}
	return f.unit.SetState(ctx, target, ch)
}

func (f *fakeCloud) GetState(ctx context.Context, remoteID string, ch Channel) (State, error) {
	f.mu.Lock()
	f.getCalls++
	failing := f.failing
	f.mu.Unlock()

	if failing {
		return StateUnknown, errUnreachable
	}
	return f.unit.GetState(ctx, ch)
}

func (f *fakeCloud) sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

func (f *fakeCloud) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// slowLocal never answers before its context expires
type slowLocal struct{}

func (slowLocal) SetState(ctx context.Context, target State, ch Channel) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowLocal) GetState(ctx context.Context, ch Channel) (State, error) {
	<-ctx.Done()
	return StateUnknown, ctx.Err()
}

type fakeEmitter struct {
	codes []string
}

func (f *fakeEmitter) SendRaw(ctx context.Context, code string) error {
	f.codes = append(f.codes, code)
	return nil
}
