package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/group"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Room files each appliance into exactly one of tv, ac, lights, switches
// or others, and into all.
type Room struct {
	name string

	Lights   *group.Group
	Switches *group.Group
	Others   *group.Group
	All      *group.Group

	mu sync.RWMutex
	tv appliance.Appliance
	ac appliance.Appliance
}

func New(name string) *Room {
	return &Room{
		name:     name,
		Lights:   group.New(name + "_lights"),
		Switches: group.New(name + "_switches"),
		Others:   group.New(name + "_others"),
		All:      group.New(name + "_all"),
	}
}

// WithWorkers bounds fan-out for every group in the room
func (r *Room) WithWorkers(n int) *Room {
	for _, g := range r.groups() {
		g.WithWorkers(n)
	}
	return r
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) groups() []*group.Group {
	return []*group.Group{r.All, r.Lights, r.Switches, r.Others}
}

// Group finds a group by its short name: lights, switches, others or all
func (r *Room) Group(name string) (*group.Group, bool) {
	switch name {
	case "lights", "light":
		return r.Lights, true
	case "switches", "switch":
		return r.Switches, true
	case "others", "other":
		return r.Others, true
	case "all", "":
		return r.All, true
	}
	return nil, false
}

func (r *Room) TV() appliance.Appliance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tv
}

func (r *Room) AC() appliance.Appliance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ac
}

func (r *Room) AddDevice(ctx context.Context, a appliance.Appliance) {
	log := logging.ForGroup(ctx, r.name)

	switch a.Kind() {
	case appliance.KindLight:
		r.Lights.Add(ctx, a)
	case appliance.KindSwitch:
		r.Switches.Add(ctx, a)
	case appliance.KindTelevision:
		if old := r.fillSlot(&r.tv, a); old != nil {
			log.Warnf("overwriting TV '%s' with '%s'", old.Name(), a.Name())
			r.evict(old)
		}
	case appliance.KindAirConditioner:
		if old := r.fillSlot(&r.ac, a); old != nil {
			log.Warnf("overwriting AC '%s' with '%s'", old.Name(), a.Name())
			r.evict(old)
		}
	default:
		r.Others.Add(ctx, a)
	}

	r.All.Add(ctx, a)
}

func (r *Room) fillSlot(slot *appliance.Appliance, a appliance.Appliance) appliance.Appliance {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *slot
	*slot = a
	return old
}

// evict drops a displaced slot occupant from all so that every member of
// all is still filed somewhere
func (r *Room) evict(old appliance.Appliance) {
	r.All.Remove(old.Name())
}

// RemoveDevice detaches name from every group and slot.  Removing an
// absent name does nothing.
func (r *Room) RemoveDevice(ctx context.Context, name string) {
	logging.ForGroup(ctx, r.name).Infof("removing '%s'", name)

	for _, g := range r.groups() {
		g.Remove(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tv != nil && r.tv.Name() == name {
		r.tv = nil
	}
	if r.ac != nil && r.ac.Name() == name {
		r.ac = nil
	}
}

func (r *Room) Remove(ctx context.Context, a appliance.Appliance) {
	r.RemoveDevice(ctx, a.Name())
}

func (r *Room) String() string {
	return fmt.Sprintf("<Room '%s': TV=%v, AC=%v, Lights=%d, Switches=%d, Others=%d, All=%d>",
		r.name, r.TV() != nil, r.AC() != nil,
		r.Lights.Len(), r.Switches.Len(), r.Others.Len(), r.All.Len())
}
