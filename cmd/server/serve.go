package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/blobstore"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/config"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
	"github.com/bit-hyperfs/hyperfs/internal/graphapi"
	"github.com/bit-hyperfs/hyperfs/internal/httpapi"
	"github.com/bit-hyperfs/hyperfs/internal/logging"
	"github.com/bit-hyperfs/hyperfs/internal/metrics"
	"github.com/bit-hyperfs/hyperfs/internal/workerpool"
)

var (
	flagConfigPath string
	flagPort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the file storage server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfigPath, "config", "./hyperfs.toml", "path to the TOML configuration file")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "override the configured port (0 = use config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.ReadFromFile(flagConfigPath)
	if err != nil {
		return err
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", cfg.Port)
	}

	logger, err := logging.New(logging.Options{
		FilePath: cfg.LogPath,
		Level:    cfg.LogLevel,
		Console:  true,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	blobs := blobstore.New(cfg.DataDir)
	if err := blobs.EnsureDirs(); err != nil {
		return err
	}
	tmpArena := digestio.NewTempArena(cfg.TmpDir)

	store, err := catalog.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	reg := metrics.New()
	pool := workerpool.New(cfg.WorkerPoolSize).WithGauge(reg.WorkerPoolInFlight)
	store.WithWorkerPool(pool)

	files := fileservice.New(store, blobs, tmpArena, logger).WithWorkerPool(pool)

	ctx := context.Background()
	report, err := files.ReconcileOrphans(ctx)
	if err != nil {
		logger.Warn("startup reconciliation sweep failed", zap.Error(err))
	} else {
		reg.ReconcileSweeps.Inc()
		reg.OrphanedBlobsFound.Add(float64(len(report.MissingOnDisk) + len(report.UntrackedOnDisk)))
		logger.Info("startup reconciliation sweep complete",
			zap.Int("blobs_scanned", report.BlobsScanned),
			zap.Int("missing_on_disk", len(report.MissingOnDisk)),
			zap.Int("untracked_on_disk", len(report.UntrackedOnDisk)),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(files, logger, reg, cfg.UploadRatePerSecond).Routes())
	mux.Handle("/graphql", graphapi.NewHandler(graphapi.Deps{Files: files, Store: store}))

	handler := cors.AllowAll().Handler(mux)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
