package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/handlers"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sdmapi"
)

var nestCmd = &cobra.Command{
	Use:   "nest",
	Short: "Nest Device Access helpers",
}

var nestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the devices the Device Access project can see, with the IDs to use as remote_id",
	Args:  cobra.NoArgs,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nest.project", "nest.client-id", "nest.client-secret", "nest.refresh-token")
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		b := &backends{}
		if err := b.addNest(); err != nil {
			return err
		}
		return doNestList(cmd.Context(), b.sdm)
	},
}

var nestAuthURLCmd = &cobra.Command{
	Use:   "auth-url <redirect-url>",
	Short: "Print the consent URL that starts the Nest authorization flow",
	Args:  cobra.ExactArgs(1),

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nest.project", "nest.client-id")
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		h := handlers.NewNestAuthHandler(viper.GetString("nest.project"), viper.GetString("nest.client-id"), args[0])
		fmt.Println(h.AuthURL())
		return nil
	},
}

func init() {
	nestCmd.AddCommand(nestListCmd, nestAuthURLCmd)
	rootCmd.AddCommand(nestCmd)
}

func doNestList(ctx context.Context, sdm sdmapi.SmartDeviceManagement) error {
	devices, err := sdm.Devices(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tMODE\tAMBIENT")
	for _, d := range devices {
		name := ""
		if info, ok := d.Traits.Info(); ok {
			name = info.CustomName
		}

		mode := "-"
		if m, ok := d.Traits.Mode(); ok {
			mode = m.String()
		}

		ambient := "-"
		if t, ok := d.Traits.Temperature(); ok {
			ambient = fmt.Sprintf("%.1f°C", t.AmbientTemperatureCelsius)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, name, d.DeviceType, mode, ambient)
	}

	return w.Flush()
}
