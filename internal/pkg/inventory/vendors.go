package inventory

import (
	"sort"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

// Vendor bundles everything the loader needs to build devices of one type.
// Cloud is shared by every device of the vendor.  The factories may be nil
// when the vendor has no such capability, and return a nil interface when a
// particular entry does not get one (no address, say).
type Vendor struct {
	Cloud   device.CloudTransport
	Local   func(e Entry) (device.LocalTransport, error)
	Emitter func(e Entry) (device.Emitter, error)
	Climate func(e Entry) (appliance.AcControl, error)
}

// Vendors maps an inventory type to its vendor bundle
type Vendors map[string]Vendor

func (v Vendors) Names() []string {
	names := make([]string, 0, len(v))
	for n := range v {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
