package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Tick represents one scheduled unit of poll work tied to a resource.
type Tick struct {
	logger *slog.Logger
	start  time.Time
}

// StartTick derives a tick-scoped context whose logger carries the resource
// name and a fresh tick identifier. It returns the derived context and the
// tick handle.
func StartTick(ctx context.Context, resource string) (context.Context, *Tick) {
	if ctx == nil {
		ctx = context.Background()
	}

	tickID := uuid.NewString()
	logger := FromContext(ctx).With(
		slog.String("tick_id", tickID),
		slog.String("resource", resource),
	)

	ctx = WithLogger(ctx, logger)
	ctx = WithTickID(ctx, tickID)

	return ctx, &Tick{logger: logger, start: time.Now()}
}

// End finalizes the tick and emits a completion log entry.
func (t *Tick) End(err error) {
	if t == nil {
		return
	}
	if err != nil {
		t.logger.Warn("tick failed", slog.Duration("duration", time.Since(t.start)), "error", err)
		return
	}
	t.logger.Debug("tick completed", slog.Duration("duration", time.Since(t.start)))
}
