package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evcraddock/street-kams/internal/blob"
	"github.com/evcraddock/street-kams/internal/config"
	"github.com/evcraddock/street-kams/internal/logging"
	"github.com/evcraddock/street-kams/internal/telemetry"
	"github.com/evcraddock/street-kams/internal/visit/pgstore"
	"github.com/evcraddock/street-kams/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  "Starts the street-kams web UI and REST API. Configuration comes from KAMS_* environment variables or a .env file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port > 0 {
				cfg.Port = port
			}
			if dev {
				cfg.DevMode = true
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: $KAMS_PORT or 8080)")
	cmd.Flags().BoolVar(&dev, "dev", false, "enable dev mode (text logs, insecure cookies)")

	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logging.Setup(cfg.DevMode)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.ServiceName)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	if cfg.DBPath == "" {
		path, err := dbPath()
		if err != nil {
			return err
		}
		cfg.DBPath = path
	}
	flagDB = cfg.DBPath
	database, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeDB(database)

	deps := web.Deps{DB: database}

	if cfg.DatabaseURL != "" {
		store, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		deps.Visits = store
		slog.Info("visits stored in postgres")
	}

	if err := setupBlobs(ctx, cfg, &deps); err != nil {
		return err
	}

	srv, err := web.NewServer(cfg, deps)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", httpSrv.Addr, "schema", cfg.FormSchema, "dev", cfg.DevMode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		// Live connections are hijacked and ignored by Shutdown.
		srv.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

// setupBlobs picks S3 when a bucket is configured and a local directory otherwise.
func setupBlobs(ctx context.Context, cfg config.Config, deps *web.Deps) error {
	if cfg.BlobBucket != "" {
		store, err := blob.NewS3Store(ctx, cfg.BlobBucket, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("configuring s3: %w", err)
		}
		deps.Blobs = store
		slog.Info("exports uploaded to s3", "bucket", cfg.BlobBucket)
		return nil
	}

	secret := []byte(cfg.SigningSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating signing secret: %w", err)
		}
		slog.Warn("KAMS_SIGNING_SECRET not set; export links stop working after a restart")
	}

	dir, err := blob.NewDirStore(cfg.ResolveBlobDir(), cfg.BaseURL, secret)
	if err != nil {
		return err
	}
	deps.Blobs = dir
	deps.Downloads = dir
	slog.Info("exports stored locally", "dir", cfg.ResolveBlobDir())
	return nil
}
