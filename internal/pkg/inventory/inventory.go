package inventory

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

// File is the on-disk device inventory
type File struct {
	Defaults Defaults `yaml:"defaults"`
	Devices  []Entry  `yaml:"devices"`
}

// Defaults apply to every entry that does not override them
type Defaults struct {
	LocalTimeout time.Duration `yaml:"local_timeout"`
	CloudTimeout time.Duration `yaml:"cloud_timeout"`
}

// Entry describes one device.  Type names the vendor and selects the
// transports; Category decides how the device is wrapped and filed.
type Entry struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Category  string `yaml:"category"`
	Room      string `yaml:"room"`
	Address   string `yaml:"address"`
	RemoteID  string `yaml:"remote_id"`
	Channel   *int   `yaml:"channel"`
	Stateless bool   `yaml:"stateless"`

	// vendor extras
	DeviceKey string `yaml:"device_key"`
	Port      int    `yaml:"port"`
	UnitID    int    `yaml:"unit_id"`
	Topic     string `yaml:"topic"`

	// IR appliances: the blaster entry that transmits for them, and the
	// command table it transmits from
	Blaster  string            `yaml:"blaster"`
	Commands map[string]string `yaml:"commands"`

	LocalTimeout time.Duration `yaml:"local_timeout"`
	CloudTimeout time.Duration `yaml:"cloud_timeout"`
}

// ChannelOption converts the optional YAML channel.  0 is a real channel.
func (e Entry) ChannelOption() device.Channel {
	if e.Channel == nil {
		return device.NoChannel()
	}
	return device.ChannelOf(*e.Channel)
}

// Load reads and parses an inventory file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading inventory %s", path)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory %s", path)
	}

	return f, nil
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing YAML")
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Validate checks the things that do not depend on which vendors are
// configured: names, categories and blaster references
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Devices))

	for i, e := range f.Devices {
		if e.Name == "" {
			return errors.Errorf("device #%d has no name", i+1)
		}
		if seen[e.Name] {
			return errors.Errorf("device %s is defined more than once", e.Name)
		}
		seen[e.Name] = true

		cat, err := e.category()
		if err != nil {
			return errors.Wrapf(err, "device %s", e.Name)
		}
		if cat == CategoryBlaster && e.Blaster != "" {
			return errors.Errorf("device %s: a blaster cannot use another blaster", e.Name)
		}
		if e.Channel != nil && *e.Channel < 0 {
			return errors.Errorf("device %s: negative channel %d", e.Name, *e.Channel)
		}
		if e.Blaster == "" && e.Type == "" {
			return errors.Errorf("device %s has no type", e.Name)
		}
	}

	for _, e := range f.Devices {
		if e.Blaster != "" && !seen[e.Blaster] {
			return errors.Errorf("device %s: blaster %s is not defined", e.Name, e.Blaster)
		}
	}

	return nil
}
