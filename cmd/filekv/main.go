package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UltraSive/filekv/internal/datastore"
	"github.com/UltraSive/filekv/internal/datastore/rocksdb"
	"github.com/UltraSive/filekv/internal/handler"
	"github.com/UltraSive/filekv/internal/transport"
	"github.com/UltraSive/filekv/internal/upstream"
	"github.com/UltraSive/filekv/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML options file")
		dir         = flag.String("dir", "", "storage directory (overrides the options file)")
		httpAddr    = flag.String("http", ":8080", "HTTP listen address, empty to disable")
		socketPath  = flag.String("socket", "/tmp/filekv.sock", "unix socket path, empty to disable")
		importPath  = flag.String("import-rocksdb", "", "import a RocksDB key space into the store and exit")
		upstreamURL = flag.String("upstream", os.Getenv("UPSTREAM_URL"), "filekv server to fetch missing keys from")
		upstreamTTL = flag.Duration("upstream-ttl", 30*time.Second, "ttl of values fetched from upstream")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := serverConfig{
		configPath:  *configPath,
		dir:         *dir,
		httpAddr:    *httpAddr,
		socketPath:  *socketPath,
		importPath:  *importPath,
		upstreamURL: *upstreamURL,
		upstreamTTL: *upstreamTTL,
	}
	if err := run(logger, cfg); err != nil {
		logger.Error("filekv failed", "error", err)
		os.Exit(1)
	}
}

type serverConfig struct {
	configPath  string
	dir         string
	httpAddr    string
	socketPath  string
	importPath  string
	upstreamURL string
	upstreamTTL time.Duration
}

func loadOptions(configPath, dir string, logger *slog.Logger) (store.Options, error) {
	opts := store.DefaultOptions()
	if configPath != "" {
		loaded, err := store.LoadOptions(configPath)
		if err != nil {
			return opts, err
		}
		opts = *loaded
	}
	if dir != "" {
		opts.Dir = dir
	}
	opts.Logger = logger
	return opts, nil
}

func run(logger *slog.Logger, cfg serverConfig) error {
	opts, err := loadOptions(cfg.configPath, cfg.dir, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	if cfg.importPath != "" {
		return importRocksDB(ctx, s, cfg.importPath, logger)
	}

	var up handler.Fetcher
	if cfg.upstreamURL != "" {
		up = upstream.New(cfg.upstreamURL, 5*time.Second)
		logger.Info("read-through enabled", "upstream", cfg.upstreamURL)
	}
	h := handler.New(s, up, cfg.upstreamTTL)
	stats := func() any { return s.Stats() }

	if cfg.socketPath != "" {
		l, err := transport.ListenUnix(cfg.socketPath)
		if err != nil {
			return err
		}
		defer os.Remove(cfg.socketPath)
		defer l.Close()
		go func() {
			if err := transport.Serve(l, transport.HandleConn(h.ServeJSON, logger)); err != nil {
				logger.Error("unix socket server error", "error", err)
			}
		}()
		logger.Info("listening", "socket", cfg.socketPath)
	}

	var httpSrv *http.Server
	if cfg.httpAddr != "" {
		httpSrv = &http.Server{
			Addr:    cfg.httpAddr,
			Handler: transport.NewHTTPRouter(h.ServeJSON, stats),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		logger.Info("listening", "http", cfg.httpAddr)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// importRocksDB copies every live entry of the RocksDB at path into s,
// keeping the original expiry.
func importRocksDB(ctx context.Context, s *store.Store, path string, logger *slog.Logger) error {
	src, err := rocksdb.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	var (
		keys    []string
		pending []*store.Completion[store.Datum]
	)
	skipped, err := src.Scan(time.Now(), func(d datastore.Datum) error {
		opt := store.WithoutTTL()
		if d.TTL != 0 {
			opt = store.WithExpiry(d.ExpiresAt())
		}
		keys = append(keys, d.Key)
		pending = append(pending, s.SetAsync(ctx, d.Key, d.Value, opt))
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}

	imported := 0
	for i, c := range pending {
		if _, err := c.Wait(ctx); err != nil {
			return fmt.Errorf("import %q: %w", keys[i], err)
		}
		imported++
	}
	logger.Info("import complete", "imported", imported, "skipped", skipped)
	return nil
}
