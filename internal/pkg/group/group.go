package group

import (
	"context"
	"sort"
	"sync"

	"github.com/korovkin/limiter"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

const DefaultWorkers = 10

// Group is a named set of controllables switched together
type Group struct {
	name    string
	workers int

	mu      sync.RWMutex
	members map[string]device.Controllable
}

func New(name string) *Group {
	return &Group{
		name:    name,
		workers: DefaultWorkers,
		members: make(map[string]device.Controllable),
	}
}

// WithWorkers bounds how many members are switched at once
func (g *Group) WithWorkers(n int) *Group {
	if n > 0 {
		g.workers = n
	}
	return g
}

func (g *Group) Name() string {
	return g.name
}

// Add registers c under its name.  A name already present is left alone.
func (g *Group) Add(ctx context.Context, c device.Controllable) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[c.Name()]; ok {
		logging.ForGroup(ctx, g.name).Infof("%s is already a member", c.Name())
		return false
	}

	g.members[c.Name()] = c
	return true
}

// Remove detaches name; removing a non-member does nothing
func (g *Group) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[name]; !ok {
		return false
	}

	delete(g.members, name)
	return true
}

func (g *Group) Get(name string) (device.Controllable, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.members[name]
	return c, ok
}

func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members)
}

// Names returns the member names, sorted
func (g *Group) Names() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.members))
	for n := range g.members {
		names = append(names, n)
	}
	g.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Members returns a snapshot of the membership, sorted by name
func (g *Group) Members() []device.Controllable {
	g.mu.RLock()
	members := make([]device.Controllable, 0, len(g.members))
	for _, c := range g.members {
		members = append(members, c)
	}
	g.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].Name() < members[j].Name() })
	return members
}

// SetState switches every member concurrently and reports per-member
// success.  One member failing does not stop the others.
func (g *Group) SetState(ctx context.Context, target device.State) map[string]bool {
	members := g.Members()
	results := make(map[string]bool, len(members))

	var mu sync.Mutex
	limit := limiter.NewConcurrencyLimiter(g.workers)

	logging.ForGroup(ctx, g.name).Debugf("setting %d members %s", len(members), target)

	for _, c := range members {
		c := c
		limit.ExecuteWithTicket(func(ticket int) {
			ok := c.SetState(ctx, target)
			logging.ForGroup(ctx, g.name).Debugf("worker %d: %s -> %v", ticket, c.Name(), ok)

			mu.Lock()
			results[c.Name()] = ok
			mu.Unlock()
		})
	}

	limit.Wait()

	return results
}

func (g *Group) On(ctx context.Context) map[string]bool {
	return g.SetState(ctx, device.StateOn)
}

func (g *Group) Off(ctx context.Context) map[string]bool {
	return g.SetState(ctx, device.StateOff)
}
