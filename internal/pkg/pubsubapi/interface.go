package pubsubapi

import (
	"context"
	"time"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sdmapi"
)

// SdmEvent is a Device Access resource update.  Traits holds only the
// traits that changed.
type SdmEvent struct {
	AckID     string
	DeviceID  string
	Timestamp time.Time
	Traits    sdmapi.Traits
}

type PubSub interface {
	WithTimeout(d time.Duration) PubSub
	Pull(ctx context.Context) ([]SdmEvent, error)
	AckMessages(ctx context.Context, ackIDs []string) error
}
