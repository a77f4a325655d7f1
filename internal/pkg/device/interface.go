package device

import "context"

// LocalTransport talks to a device over the local network.  Implementations
// should honour the context deadline; the Device applies a short one.
type LocalTransport interface {
	SetState(ctx context.Context, target State, ch Channel) error
	GetState(ctx context.Context, ch Channel) (State, error)
}

// CloudTransport talks to a vendor cloud on behalf of every device of that
// vendor.  One instance is shared by reference.
type CloudTransport interface {
	SetState(ctx context.Context, remoteID string, target State, ch Channel) error
	GetState(ctx context.Context, remoteID string, ch Channel) (State, error)
}

// Emitter transmits raw IR codes
type Emitter interface {
	SendRaw(ctx context.Context, code string) error
}

// Controllable is anything that can be switched and queried by name: a
// physical Device or an appliance wrapping one
type Controllable interface {
	Name() string
	SetState(ctx context.Context, target State) bool
	On(ctx context.Context) bool
	Off(ctx context.Context) bool
	// GetState always queries the transports
	GetState(ctx context.Context) State
	// State returns the cache, querying only while it is still unknown
	State(ctx context.Context) State
	// Cached never performs I/O
	Cached() State
	Stateless() bool
}
