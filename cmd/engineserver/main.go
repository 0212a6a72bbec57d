package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veilkey/capability-backend/api"
	"github.com/veilkey/capability-backend/api/enginehandler"
	"github.com/veilkey/capability-backend/api/recoveryhandler"
	"github.com/veilkey/capability-backend/cmd/flags"
	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/engine"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/ledger"
	"github.com/veilkey/capability-backend/storage"
	"github.com/veilkey/capability-backend/storage/badgerstore"
	"github.com/veilkey/capability-backend/storage/memstore"
)

var serviceLogFlag = flags.LogServiceFlagFn("capability-engine")

func main() {
	app := &cli.App{
		Name:  "engine-server",
		Usage: "Serve the capability engine API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StoreBackendFlag,
			flags.BadgerPathFlag,
			flags.ArchiveBackendsFlag,
			flags.ArchiveSealKeyFlag,
			flags.ArchiveIntervalFlag,
			serviceLogFlag,
		}, flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	repo, err := openStore(cCtx, logger)
	if err != nil {
		logger.Error("Failed to open record store", "err", err)
		return err
	}
	defer repo.Close()

	eng := engine.New(repo, logger)

	srv, err := api.NewServer(
		flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)),
		enginehandler.NewHandler(eng, logger),
		recoveryhandler.NewHandler(eng, logger),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	archiveCtx, stopArchiver := context.WithCancel(context.Background())
	defer stopArchiver()
	if err := startArchiver(archiveCtx, cCtx, repo, logger); err != nil {
		logger.Error("Failed to start ledger archiver", "err", err)
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	stopArchiver()
	srv.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}

func openStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.Repository, error) {
	switch backend := cCtx.String(flags.StoreBackendFlag.Name); backend {
	case "memory":
		logger.Warn("Using in-memory record store, all state is lost on exit")
		return memstore.New(), nil
	case "badger":
		return badgerstore.Open(badgerstore.Config{
			Path:   cCtx.String(flags.BadgerPathFlag.Name),
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// startArchiver wires the periodic ledger archiver when archive backends are
// configured. Without backends the ledger simply stays in the record store.
func startArchiver(ctx context.Context, cCtx *cli.Context, repo interfaces.Repository, logger *slog.Logger) error {
	uris := cCtx.StringSlice(flags.ArchiveBackendsFlag.Name)
	if len(uris) == 0 {
		return nil
	}

	sealKeyHex := cCtx.String(flags.ArchiveSealKeyFlag.Name)
	if sealKeyHex == "" {
		return errors.New("archive-seal-key is required when archive backends are configured")
	}
	sealKey, err := hex.DecodeString(sealKeyHex)
	if err != nil {
		return fmt.Errorf("malformed archive seal key: %w", err)
	}

	locations := make([]interfaces.BlobBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewBlobBackendLocation(uri)
		if err != nil {
			return err
		}
		locations = append(locations, location)
	}

	backend, err := storage.NewBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		return err
	}

	archiver, err := ledger.NewArchiver(repo, backend, cryptoutils.SymmetricKey(sealKey), logger)
	if err != nil {
		return err
	}

	interval := cCtx.Duration(flags.ArchiveIntervalFlag.Name)
	go runArchiveLoop(ctx, archiver, interval, logger)
	logger.Info("Ledger archiver started", "backends", len(locations), "interval", interval)
	return nil
}

func runArchiveLoop(ctx context.Context, archiver *ledger.Archiver, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var fromSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id, nextSeq, err := archiver.Archive(ctx, fromSeq)
		if errors.Is(err, interfaces.ErrContentNotFound) {
			continue
		}
		if err != nil {
			logger.Error("Ledger archive run failed", "err", err, "fromSeq", fromSeq)
			continue
		}
		logger.Info("Archived ledger batch", "contentID", id.String(), "fromSeq", fromSeq, "nextSeq", nextSeq)
		fromSeq = nextSeq
	}
}
