package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/manager"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh every device and print system health",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), false, doStatus)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <device> <on|off>",
	Short: "Switch a device, locally if possible and through the cloud if not",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := device.ParseState(args[1])
		if err != nil {
			return err
		}

		return withManager(cmd.Context(), true, func(ctx context.Context, m *manager.Manager) error {
			if !m.SetState(ctx, args[0], target) {
				return errors.Errorf("could not switch %s %s", args[0], target)
			}
			fmt.Printf("%s: %s\n", args[0], target)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <device>",
	Short: "Query the live state of a device",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), true, func(ctx context.Context, m *manager.Manager) error {
			c, ok := m.Device(ctx, args[0])
			if !ok {
				return errors.Wrap(manager.ErrUnknownDevice, args[0])
			}

			fmt.Printf("%s: %s\n", c.Name(), c.GetState(ctx))
			return nil
		})
	},
}

var roomCmd = &cobra.Command{
	Use:   "room <room> <lights|switches|others|all> <on|off>",
	Short: "Switch a group of devices in a room",
	Args:  cobra.ExactArgs(3),

	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := device.ParseState(args[2])
		if err != nil {
			return err
		}

		return withManager(cmd.Context(), true, func(ctx context.Context, m *manager.Manager) error {
			return doRoom(ctx, m, args[0], args[1], target)
		})
	},
}

var _acCmdOpts struct {
	temperature int
	mode        string
	fanLevel    string
	swing       string
	state       string
}

var acCmd = &cobra.Command{
	Use:   "ac <device>",
	Short: "Adjust an air conditioner",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), true, func(ctx context.Context, m *manager.Manager) error {
			return doAC(ctx, cmd, m, args[0])
		})
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print health as JSON")
	errPanic(viper.GetViper().BindPFlag("status.json", statusCmd.Flags().Lookup("json")))

	acCmd.Flags().IntVar(&_acCmdOpts.temperature, "temp", appliance.DefaultTemperature, "target temperature in °C")
	acCmd.Flags().StringVar(&_acCmdOpts.mode, "mode", "", "cool, heat, fan, dry or auto")
	acCmd.Flags().StringVar(&_acCmdOpts.fanLevel, "fan", "", "fan level, eg. low or auto")
	acCmd.Flags().StringVar(&_acCmdOpts.swing, "swing", "", "swing setting, eg. stopped or rangeFull")
	acCmd.Flags().StringVar(&_acCmdOpts.state, "power", "", "on or off")

	rootCmd.AddCommand(statusCmd, setCmd, getCmd, roomCmd, acCmd)
}

func withManager(ctx context.Context, skipRefresh bool, fn func(ctx context.Context, m *manager.Manager) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m, b, err := loadManager(ctx, skipRefresh)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, m)
}

func kindOf(c device.Controllable) string {
	if a, ok := c.(appliance.Appliance); ok {
		return a.Kind().String()
	}
	return inventory.CategoryBlaster
}

func doStatus(ctx context.Context, m *manager.Manager) error {
	h := m.SystemHealth()

	if viper.GetBool("status.json") {
		b, err := json.MarshalIndent(h, "", "    ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tKIND\tSTATE")
	for _, c := range m.Devices() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name(), kindOf(c), c.Cached())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d devices: %d online, %d offline, %d stateless IR\n", h.Total, h.Online, h.Offline, h.StatelessIR)
	return nil
}

func doRoom(ctx context.Context, m *manager.Manager, roomName, groupName string, target device.State) error {
	r, ok := m.Room(roomName)
	if !ok {
		return errors.Errorf("unknown room `%s`", roomName)
	}

	g, ok := r.Group(groupName)
	if !ok {
		return errors.Errorf("room `%s` has no group `%s`", roomName, groupName)
	}

	results := g.SetState(ctx, target)

	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := 0
	for _, n := range names {
		outcome := "ok"
		if !results[n] {
			outcome = "FAILED"
			failed++
		}
		fmt.Printf("%s: %s %s\n", n, target, outcome)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d devices failed", failed, len(results))
	}
	return nil
}

func doAC(ctx context.Context, cmd *cobra.Command, m *manager.Manager, name string) error {
	c, ok := m.Device(ctx, name)
	if !ok {
		return errors.Wrap(manager.ErrUnknownDevice, name)
	}

	ac, ok := c.(*appliance.AirConditioner)
	if !ok {
		return errors.Errorf("%s is not an air conditioner", name)
	}

	type step struct {
		what string
		fn   func() bool
	}
	var steps []step

	if _acCmdOpts.state != "" {
		target, err := device.ParseState(_acCmdOpts.state)
		if err != nil {
			return err
		}
		steps = append(steps, step{"power " + target.String(), func() bool { return ac.SetState(ctx, target) }})
	}
	if _acCmdOpts.mode != "" {
		steps = append(steps, step{"mode " + _acCmdOpts.mode, func() bool { return ac.SetMode(ctx, _acCmdOpts.mode) }})
	}
	if cmd.Flags().Changed("temp") {
		steps = append(steps, step{fmt.Sprintf("temperature %d", _acCmdOpts.temperature), func() bool {
			return ac.SetTemperature(ctx, _acCmdOpts.temperature)
		}})
	}
	if _acCmdOpts.fanLevel != "" {
		steps = append(steps, step{"fan " + _acCmdOpts.fanLevel, func() bool { return ac.SetFanLevel(ctx, _acCmdOpts.fanLevel) }})
	}
	if _acCmdOpts.swing != "" {
		steps = append(steps, step{"swing " + _acCmdOpts.swing, func() bool { return ac.SetSwing(ctx, _acCmdOpts.swing) }})
	}

	// With nothing to change, report what we know
	if len(steps) == 0 {
		temp, mode := ac.Settings()
		fmt.Printf("%s: %s, %s at %d°C\n", ac.Name(), ac.State(ctx), mode, temp)
		if climate, ok := ac.Climate(ctx); ok {
			fmt.Printf("room: %.1f°C, %.0f%% humidity\n", climate.Temperature, climate.Humidity)
		}
		return nil
	}

	for _, s := range steps {
		if !s.fn() {
			return errors.Errorf("%s: setting %s failed", ac.Name(), s.what)
		}
		fmt.Printf("%s: %s\n", ac.Name(), s.what)
	}
	return nil
}
