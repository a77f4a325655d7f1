package logging

import (
	"context"
	"fmt"
	"os"
	"path"

	stdlog "log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

/*
 *  Diagnostics logging shared by the device engine, the CLI and the HTTP API
 */

type ctxKey int

const (
	txnIDKey ctxKey = iota
	correlationIDKey
)

// WithTxnID returns a context which knows its transaction ID.  Every log line
// produced while serving that context carries the ID.
func WithTxnID(ctx context.Context, txnID string) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// TxnID returns the transaction ID stored in ctx, if any
func TxnID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	txnID, ok := ctx.Value(txnIDKey).(string)
	return txnID, ok
}

// WithCorrelationID tags ctx with an ID supplied by (or issued to) an API
// caller
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func CorrelationID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok
}

type logger struct {
	entry   *logrus.Entry
	logFile *os.File
}

// The one singleton logger
var gLogger logger
var gInstanceID string

func processFields() logrus.Fields {
	return logrus.Fields{
		"pid":      os.Getpid(),
		"exe":      path.Base(os.Args[0]),
		"instance": gInstanceID,
	}
}

// Logger returns the global logger, tagged with the transaction and
// correlation IDs of ctx
func Logger(ctx context.Context) *logrus.Entry {
	entry := gLogger.entry
	if txnID, ok := TxnID(ctx); ok {
		entry = entry.WithField("txnid", txnID)
	}
	if id, ok := CorrelationID(ctx); ok {
		entry = entry.WithField("correlation", id)
	}

	return entry
}

// ForDevice returns a logger for messages about a single device
func ForDevice(ctx context.Context, name string) *logrus.Entry {
	return Logger(ctx).WithField("device", name)
}

// ForGroup returns a logger for messages about a device group or room
func ForGroup(ctx context.Context, name string) *logrus.Entry {
	return Logger(ctx).WithField("group", name)
}

// InstanceID identifies this process run
func InstanceID() string {
	return gInstanceID
}

func init() {
	viper.SetDefault("logging.location", "stderr")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.level", "info")

	gInstanceID = uuid.New().String()
	gLogger.entry = logrus.WithFields(processFields())
}

// Configure sets the log level and output location/format
func Configure(cfg *viper.Viper) error {
	switch loc := cfg.GetString("logging.location"); loc {
	case "stdout":
		logrus.SetOutput(os.Stdout)
		gLogger.entry = logrus.WithFields(logrus.Fields{})
	case "stderr":
		logrus.SetOutput(os.Stderr)
		gLogger.entry = logrus.WithFields(logrus.Fields{})
	default:
		file, err := os.OpenFile(loc, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		gLogger.entry.Debugf("Switching system log to %s", loc)
		logrus.SetOutput(file)

		if gLogger.logFile != nil {
			gLogger.logFile.Close()
		}
		gLogger.logFile = file

		// a shared file needs to tell processes apart
		gLogger.entry = logrus.WithFields(processFields())
	}

	// --debug on the command line wins over the configured level
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		level := cfg.GetString("logging.level")
		val, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("bad log level: [%s]", level)
		}
		logrus.SetLevel(val)
	}

	if cfg.GetString("logging.format") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	// Libraries that use the standard logger (paho, huego) end up here
	stdlog.SetOutput(Logger(nil).WriterLevel(logrus.DebugLevel))

	return nil
}
