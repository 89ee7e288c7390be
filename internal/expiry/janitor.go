package expiry

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes every expired datum it knows about and reports how many
// it removed.
type Sweeper interface {
	RemoveExpired(ctx context.Context) (int, error)
}

// Start runs s.RemoveExpired every interval until stop is closed. The
// returned channel is closed once the loop has exited, so a caller that
// closes stop and then waits on it knows no sweep is still running.
// A failed sweep is logged and the next tick runs as usual.
func Start(s Sweeper, interval time.Duration, stop <-chan struct{}, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	t := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				runOnce(s, stop, logger)
			case <-stop:
				return
			}
		}
	}()
	return done
}

func runOnce(s Sweeper, stop <-chan struct{}, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := s.RemoveExpired(ctx)
	if err != nil {
		logger.Warn("expired sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Debug("expired sweep", "removed", n)
	}
}
