package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/pubsubapi"
)

var _pubSubCmdOpts struct {
	googlePubSubSubscription string
	googlePubSubProjectID    string
	googleCloudCredsFile     string
	maxMessageAge            time.Duration
	workers                  int
	logMessages              bool
}

var pubSubCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the Nest event feed and refresh devices as they change",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doPubSub(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nest.project", "google.pubsub.project-id",
			"google.pubsub.subscription-id", "google.creds.file")
	},
}

func init() {
	pubSubCmd.Flags().StringVar(&_pubSubCmdOpts.googlePubSubProjectID, "pubsub-project", "", "ID of Google cloud project containing the pub/sub subscription")
	pubSubCmd.Flags().StringVar(&_pubSubCmdOpts.googlePubSubSubscription, "pubsub-subscription", "", "Google pub/sub subscription ID")
	pubSubCmd.Flags().StringVar(&_pubSubCmdOpts.googleCloudCredsFile, "gcp-creds", "", "Google Cloud service account credentials file")
	pubSubCmd.Flags().DurationVar(&_pubSubCmdOpts.maxMessageAge, "pubsub-maxage", pubsubapi.DefaultMaxMessageAge, "maximum age of a Device Access message that we will process, eg. 1m or 10s")
	pubSubCmd.Flags().IntVar(&_pubSubCmdOpts.workers, "workers", 10, "maximum concurrent refreshes")
	pubSubCmd.Flags().BoolVar(&_pubSubCmdOpts.logMessages, "log-messages", false, "log pubsub messages (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("google.pubsub.project-id", pubSubCmd.Flags().Lookup("pubsub-project")))
	errPanic(viper.GetViper().BindPFlag("google.pubsub.subscription-id", pubSubCmd.Flags().Lookup("pubsub-subscription")))
	errPanic(viper.GetViper().BindPFlag("google.pubsub.max-message-age", pubSubCmd.Flags().Lookup("pubsub-maxage")))
	errPanic(viper.GetViper().BindPFlag("google.pubsub.workers", pubSubCmd.Flags().Lookup("workers")))
	errPanic(viper.GetViper().BindPFlag("google.creds.file", pubSubCmd.Flags().Lookup("gcp-creds")))
	errPanic(viper.GetViper().BindPFlag("logging.log-messages", pubSubCmd.Flags().Lookup("log-messages")))

	rootCmd.AddCommand(pubSubCmd)
}

func doPubSub() error {
	maxAge := viper.GetDuration("google.pubsub.max-message-age")
	sdmProject := viper.GetString("nest.project")
	gcpProject := viper.GetString("google.pubsub.project-id")
	subscription := viper.GetString("google.pubsub.subscription-id")
	credsFile := viper.GetString("google.creds.file")
	apiTimeout := viper.GetDuration("nest.api-timeout")

	var logMessages bool
	if viper.GetBool("logging.log-messages") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logMessages = true
		} else {
			logging.Logger(nil).Warn("log-messages ignored when not in debug mode")
		}
	}

	// context to allow us to stop the request loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, b, err := loadManager(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.nest == nil {
		return errors.New("the Nest cloud is not configured")
	}

	live := pubsubapi.NewLiveClient(sdmProject, gcpProject, subscription).
		WithMaxMessageAge(maxAge).
		WithServiceAccountCreds(credsFile)
	if logMessages {
		live = live.WithLogMessages()
	}

	// Events carry the new traits, so the cached thermostat mode is
	// updated before the refresh reads the device again
	listener := pubsubapi.NewListener(live.WithTimeout(apiTimeout), m).
		WithWorkers(viper.GetInt("google.pubsub.workers")).
		WithObserver(func(event pubsubapi.SdmEvent) {
			b.nest.Observe(event.DeviceID, event.Traits)
		})

	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Run(ctx)
	}()

	// ctrl-c handler
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal
	<-c
	logging.Logger(nil).Info("main: shutting down")

	// cancel the request loop context
	cancel()

	// Wait for processing to end
	<-done

	logging.Logger(nil).Info("main: exiting")
	return nil
}
