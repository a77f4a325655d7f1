package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/handlers"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/manager"
	"github.com/jake-scott/smarthome-hybrid/pkg/middlewares"
)

var _serverCmdOpts struct {
	port            uint16
	tlsCertPath     string
	tlsKeyPath      string
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	refreshInterval time.Duration
	corsOrigins     []string
	nestRedirect    string
	logRequests     bool
}

var serverCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServer(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		// TLS needs both halves or neither
		if viper.GetString("http.cert") != "" || viper.GetString("http.key") != "" {
			return checkRequiredFlags("http.cert", "http.key")
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().Uint16Var(&_serverCmdOpts.port, "port", 8080, "HTTP port number")
	serverCmd.Flags().StringVar(&_serverCmdOpts.tlsCertPath, "tls-cert", "", "TLS certificate file; serves plain HTTP when unset")
	serverCmd.Flags().StringVar(&_serverCmdOpts.tlsKeyPath, "tls-key", "", "TLS key file")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serverCmd.Flags().DurationVar(&_serverCmdOpts.refreshInterval, "refresh-interval", time.Minute*5, "how often to resynchronise every device, 0 to disable")
	serverCmd.Flags().StringSliceVar(&_serverCmdOpts.corsOrigins, "cors-origin", nil, "browser origins allowed to call the API")
	serverCmd.Flags().StringVar(&_serverCmdOpts.nestRedirect, "nest-redirect-url", "", "public URL of /oauth/nest, enables the Nest consent redirect")
	serverCmd.Flags().BoolVar(&_serverCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("http.port", serverCmd.Flags().Lookup("port")))
	errPanic(viper.GetViper().BindPFlag("http.cert", serverCmd.Flags().Lookup("tls-cert")))
	errPanic(viper.GetViper().BindPFlag("http.key", serverCmd.Flags().Lookup("tls-key")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serverCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serverCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serverCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.refresh-interval", serverCmd.Flags().Lookup("refresh-interval")))
	errPanic(viper.GetViper().BindPFlag("http.cors-origins", serverCmd.Flags().Lookup("cors-origin")))
	errPanic(viper.GetViper().BindPFlag("nest.redirect-url", serverCmd.Flags().Lookup("nest-redirect-url")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", serverCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(serverCmd)
}

// refreshLoop resynchronises the device caches until ctx is cancelled
func refreshLoop(ctx context.Context, m *manager.Manager, every time.Duration) {
	if every <= 0 {
		logging.Logger(nil).Info("periodic refresh disabled")
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger(nil).Info("refresh-loop: shutting down")
			return
		case <-ticker.C:
			m.RefreshAll(ctx)
		}
	}
}

func newRouter(m *manager.Manager, logRequests bool) http.Handler {
	r := mux.NewRouter()
	r.Use(middlewares.NewLoggingMw(logRequests, "/health"))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorrelationMw("X-Correlation-ID"))

	handlers.NewDeviceHandler(m).Register(r)

	if redirect := viper.GetString("nest.redirect-url"); redirect != "" {
		if err := checkRequiredFlags("nest.project", "nest.client-id"); err != nil {
			logging.Logger(nil).WithError(err).Warn("Nest consent redirect disabled")
		} else {
			r.Handle("/oauth/nest", handlers.NewNestAuthHandler(viper.GetString("nest.project"), viper.GetString("nest.client-id"), redirect)).Methods(http.MethodGet)
		}
	}

	// CORS has to see preflight requests before the router rejects them
	if origins := viper.GetStringSlice("http.cors-origins"); len(origins) > 0 {
		return middlewares.NewCorsMw(origins, logrus.IsLevelEnabled(logrus.TraceLevel))(r)
	}
	return r
}

func doServer() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")
	certFile := viper.GetString("http.cert")
	keyFile := viper.GetString("http.key")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	m, b, err := loadManager(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	go refreshLoop(ctx, m, viper.GetDuration("http.refresh-interval"))

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      newRouter(m, logRequests),
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		var err error
		if certFile != "" {
			err = s.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = s.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
			stop()
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal or the listener dies
	select {
	case <-c:
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	logging.Logger(nil).Info("shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}
	logging.Logger(nil).Info("exiting")
	return nil
}
