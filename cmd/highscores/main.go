// Command highscores keeps a persistent high score table for a game.
package main

import (
	"context"
	"flag"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/UltraSive/filekv/store"
)

const scoresKey = "scores"

type Score struct {
	User  string `json:"user"`
	Score int    `json:"score"`
}

type server struct {
	store  *store.Store
	logger *slog.Logger
	mu     sync.Mutex
}

func (s *server) scores(ctx context.Context) ([]Score, error) {
	var scores []Score
	if _, err := s.store.GetInto(ctx, scoresKey, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// submit records a score and keeps the table sorted, best first.
func (s *server) submit(ctx context.Context, sc Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores, err := s.scores(ctx)
	if err != nil {
		return err
	}
	scores = append(scores, sc)
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	_, err = s.store.Set(ctx, scoresKey, scores)
	return err
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Post("/submit", func(w http.ResponseWriter, r *http.Request) {
		user := r.FormValue("user")
		score, err := strconv.Atoi(r.FormValue("score"))
		if user == "" || err != nil || score == 0 {
			http.Error(w, "BAD", http.StatusBadRequest)
			return
		}
		if err := s.submit(r.Context(), Score{User: user, Score: score}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "OK")
	})
	r.Get("/scores", func(w http.ResponseWriter, r *http.Request) {
		scores, err := s.scores(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "Scores: <br />")
		for _, sc := range scores {
			fmt.Fprintf(w, "%s: %d<br />", html.EscapeString(sc.User), sc.Score)
		}
	})
	return r
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dir := flag.String("dir", "", "storage directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *dir); err != nil {
		logger.Error("highscores failed", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is done, then shuts the server down and closes the
// store, flushing pending writes.
func run(ctx context.Context, logger *slog.Logger, addr, dir string) error {
	storeCtx := context.WithoutCancel(ctx)
	s, err := store.Open(storeCtx, store.Options{
		Dir:                dir,
		Logger:             logger,
		WriteQueueInterval: 4 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	srv := &server{store: s, logger: logger}
	scores, err := srv.scores(storeCtx)
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	if scores == nil {
		if _, err := s.Set(storeCtx, scoresKey, []Score{}); err != nil {
			return err
		}
	}
	logger.Info("scores loaded", "count", len(scores))

	httpSrv := &http.Server{Addr: addr, Handler: srv.routes()}
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
