package cmd

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

var (
	_cfgFile string
	_envFile string
	_debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "smarthome",
	Short: "Control local and cloud smart home devices from one inventory",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Configure(viper.GetViper())
	},
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_cfgFile, "config", "", "config file (default is $HOME/.smarthome.yaml)")
	rootCmd.PersistentFlags().StringVar(&_envFile, "env-file", ".env", "file of KEY=value credentials loaded into the environment")
	rootCmd.PersistentFlags().BoolVar(&_debug, "debug", false, "log at debug level regardless of logging.level")
	rootCmd.PersistentFlags().String("inventory", "devices.yaml", "device inventory file")
	rootCmd.PersistentFlags().Duration("local-timeout", 0, "override the LAN call timeout, eg. 2s")
	rootCmd.PersistentFlags().Duration("cloud-timeout", 0, "override the cloud call timeout, eg. 10s")
	rootCmd.PersistentFlags().Int("group-workers", 10, "maximum concurrent device calls per group")
	rootCmd.PersistentFlags().Int("refresh-workers", 20, "maximum concurrent device queries during a refresh")

	errPanic(viper.GetViper().BindPFlag("inventory.file", rootCmd.PersistentFlags().Lookup("inventory")))
	errPanic(viper.GetViper().BindPFlag("transport.local-timeout", rootCmd.PersistentFlags().Lookup("local-timeout")))
	errPanic(viper.GetViper().BindPFlag("transport.cloud-timeout", rootCmd.PersistentFlags().Lookup("cloud-timeout")))
	errPanic(viper.GetViper().BindPFlag("groups.workers", rootCmd.PersistentFlags().Lookup("group-workers")))
	errPanic(viper.GetViper().BindPFlag("manager.refresh-workers", rootCmd.PersistentFlags().Lookup("refresh-workers")))
}

func initConfig() {
	if _debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Credentials in .env end up in the environment, where viper finds them
	// as SMARTHOME_<KEY>
	if err := godotenv.Load(_envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Logger(nil).WithError(err).Warnf("loading %s", _envFile)
	}

	if _cfgFile != "" {
		viper.SetConfigFile(_cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			logging.Logger(nil).WithError(err).Warn("finding home directory")
		} else {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".smarthome")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SMARTHOME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if _cfgFile != "" || !errors.As(err, &notFound) {
			logging.Logger(nil).WithError(err).Fatal("reading config")
		}
		return
	}

	logging.Logger(nil).Debugf("using config file %s", viper.ConfigFileUsed())
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}
