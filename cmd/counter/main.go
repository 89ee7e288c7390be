// Command counter serves a global request counter that survives restarts.
// The counter expires three seconds after the last request and starts over.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/UltraSive/filekv/store"
)

const (
	counterKey = "counter"
	counterTTL = 3 * time.Second
)

type server struct {
	store  *store.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// increment bumps the counter, restarting at 1 once it has expired.
func (s *server) increment(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	ok, err := s.store.GetInto(ctx, counterKey, &n)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Info("counter ttl expired, resetting to 0")
	}
	n++
	if _, err := s.store.Set(ctx, counterKey, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		n, err := s.increment(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "counter is: %d (every request resets the ttl timer, wait %d seconds and it starts over at 1)", n, int(counterTTL/time.Second))
	})
	r.Get("/keys", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.store.Keys())
	})
	r.Get("/values", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.store.Values())
	})
	r.Get("/length", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.store.Length())
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.store.Stats())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.Encode(v)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	dir := flag.String("dir", "", "storage directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *dir); err != nil {
		logger.Error("counter failed", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is done, then shuts the server down and closes the
// store, flushing pending writes.
func run(ctx context.Context, logger *slog.Logger, addr, dir string) error {
	storeCtx := context.WithoutCancel(ctx)
	s, err := store.Open(storeCtx, store.Options{Dir: dir, Logger: logger, TTL: counterTTL})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	var n int
	ok, err := s.GetInto(storeCtx, counterKey, &n)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	if !ok {
		if _, err := s.Set(storeCtx, counterKey, 0); err != nil {
			return err
		}
	}
	logger.Info("counter loaded", "counter", n)

	srv := &server{store: s, logger: logger}
	return serve(ctx, logger, addr, srv.routes())
}

// serve runs an HTTP server on addr until ctx is done.
func serve(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	httpSrv := &http.Server{Addr: addr, Handler: h}
	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.ListenAndServe()
	}()
	logger.Info("running", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
