package eventlog

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// MultiLog appends to a primary log and mirrors every appended event into
// secondary logs such as a SQLiteIndex.
//
// Only the primary decides whether Append succeeds. Once the primary holds
// the event, the bus must dispatch it, so a failing mirror is logged and
// counted but never reported to the caller. A mirror that falls behind can be
// rebuilt from the primary (see SQLiteIndex.Import).
type MultiLog struct {
	primary event.Log
	mirrors []event.Log
	logger  *slog.Logger
	failed  atomic.Int64
}

// Multi combines a primary log with mirrors; nil mirrors are ignored.
func Multi(primary event.Log, mirrors ...event.Log) *MultiLog {
	m := &MultiLog{primary: primary, logger: slog.Default()}
	for _, l := range mirrors {
		if l != nil {
			m.mirrors = append(m.mirrors, l)
		}
	}
	return m
}

// WithLogger sets the logger used to report mirror failures.
func (m *MultiLog) WithLogger(logger *slog.Logger) *MultiLog {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Append implements event.Log.
func (m *MultiLog) Append(ctx context.Context, evt event.Event) error {
	if err := m.primary.Append(ctx, evt); err != nil {
		return err
	}

	// The event is durable now; a cancelled caller must not leave the
	// mirrors behind the primary.
	mctx := context.WithoutCancel(ctx)
	for _, l := range m.mirrors {
		if err := l.Append(mctx, evt); err != nil {
			m.failed.Add(1)
			m.logger.Error("event not mirrored",
				slog.String("event_id", evt.ID),
				slog.String("event", evt.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// MirrorErrors returns how many mirror appends have failed.
func (m *MultiLog) MirrorErrors() int64 {
	return m.failed.Load()
}
