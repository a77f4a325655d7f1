package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return doVersion(cmd.OutOrStdout(), viper.GetBool("version.json"))
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "print the version as JSON")
	errPanic(viper.GetViper().BindPFlag("version.json", versionCmd.Flags().Lookup("json")))

	rootCmd.AddCommand(versionCmd)
}

type versionResult struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go"`
}

func doVersion(w io.Writer, asJSON bool) error {
	v := versionResult{
		Version:   version.String(),
		Revision:  version.Revision(),
		Dirty:     version.Dirty(),
		GoVersion: runtime.Version(),
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(v)
	}

	_, err := fmt.Fprintf(w, "smarthome %s (%s)\n", v.Version, v.GoVersion)
	return err
}
