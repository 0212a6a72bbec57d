// Package flags holds the flag definitions and setup helpers shared by the
// capability engine commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/veilkey/capability-backend/api"
	"github.com/veilkey/capability-backend/common"
)

// SetupLogger builds the process logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from the common
// server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"CAPABILITY_LISTEN_ADDR"},
}

var StoreBackendFlag = &cli.StringFlag{
	Name:    "store-backend",
	Value:   "memory",
	Usage:   "record store backend: memory or badger",
	EnvVars: []string{"CAPABILITY_STORE_BACKEND"},
}

var BadgerPathFlag = &cli.StringFlag{
	Name:    "badger-path",
	Value:   "/var/lib/capability-engine/badger",
	Usage:   "data directory for the badger record store",
	EnvVars: []string{"CAPABILITY_BADGER_PATH"},
}

var ArchiveBackendsFlag = &cli.StringSliceFlag{
	Name:    "archive-backend",
	Usage:   "blob backend URI for ledger archives (file://, s3://, ipfs://, vault://); repeat to replicate",
	EnvVars: []string{"CAPABILITY_ARCHIVE_BACKENDS"},
}

var ArchiveSealKeyFlag = &cli.StringFlag{
	Name:    "archive-seal-key",
	Usage:   "hex-encoded 32-byte key sealing ledger archives",
	EnvVars: []string{"CAPABILITY_ARCHIVE_SEAL_KEY"},
}

var ArchiveIntervalFlag = &cli.DurationFlag{
	Name:    "archive-interval",
	Value:   time.Hour,
	Usage:   "how often to archive new ledger entries",
	EnvVars: []string{"CAPABILITY_ARCHIVE_INTERVAL"},
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "capability engine server address",
	EnvVars: []string{"CAPABILITY_SERVER_ADDR"},
}

var MasterSecretFlag = &cli.StringFlag{
	Name:    "master-secret",
	Usage:   "hex-encoded 32-byte master secret",
	EnvVars: []string{"CAPABILITY_MASTER_SECRET"},
}

var RootRolesFlag = &cli.StringSliceFlag{
	Name:    "root-role",
	Usage:   "role id the caller controls directly; repeat for multiple roots",
	EnvVars: []string{"CAPABILITY_ROOT_ROLES"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
}
