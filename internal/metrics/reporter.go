package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
)

// Snapshotter supplies the reporter with live counts. Implemented by the hub
// and the registries; kept as an interface so the reporter has no upward deps.
type Snapshotter interface {
	ConnectionCount() int
	RoomCount() int
	SessionCount() int
}

const (
	reportInterval = 30 * time.Second
	driftWarnAbove = 100 * time.Millisecond
)

// Reporter periodically logs server counters and watches its own scheduling
// drift as a proxy for event-loop health.
type Reporter struct {
	src  Snapshotter
	stop chan struct{}
	done chan struct{}
}

func NewReporter(src Snapshotter) *Reporter {
	return &Reporter{
		src:  src,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the reporting loop. Call Stop to terminate it.
func (r *Reporter) Start() {
	go r.run()
}

func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			drift := now.Sub(last) - reportInterval
			last = now
			ReporterDrift.Set(drift.Seconds())

			ctx := context.Background()
			logging.Info(ctx, "server stats",
				zap.Int("connections", r.src.ConnectionCount()),
				zap.Int("rooms", r.src.RoomCount()),
				zap.Int("sessions", r.src.SessionCount()),
				zap.Duration("drift", drift),
			)
			if drift > driftWarnAbove {
				logging.Warn(ctx, "scheduler drift above threshold",
					zap.Duration("drift", drift),
					zap.Duration("threshold", driftWarnAbove),
				)
			}
		}
	}
}
