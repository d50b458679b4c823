package eventlog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/eventlog"
)

func newIndex(t *testing.T) *eventlog.SQLiteIndex {
	t.Helper()
	idx, err := eventlog.NewSQLiteIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteIndex_AppendAndLoad(t *testing.T) {
	idx := newIndex(t)
	bus := event.NewBus(idx)
	ctx := context.Background()

	evt, err := bus.Publish(ctx, "start.research", map[string]any{"topic": "Quantum Computing"})
	require.NoError(t, err)

	got, err := idx.Load(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.Name, got.Name)
	assert.Equal(t, evt.Payload, got.Payload)
	assert.True(t, evt.Timestamp.Equal(got.Timestamp))

	_, err = idx.Load(ctx, "missing")
	assert.ErrorIs(t, err, eventlog.ErrNotFound)
}

func TestSQLiteIndex_List(t *testing.T) {
	idx := newIndex(t)
	bus := event.NewBus(idx)
	ctx := context.Background()

	for _, name := range []string{"task.a.completed", "system.ping", "task.b.completed", "task.b.failed"} {
		_, err := bus.Publish(ctx, name, nil)
		require.NoError(t, err)
	}

	all, err := idx.List(ctx, eventlog.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "task.a.completed", all[0].Event.Name)
	assert.Less(t, all[0].Seq, all[1].Seq)

	completed, err := idx.List(ctx, eventlog.ListOptions{Pattern: "task.*.completed"})
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, "task.b.completed", completed[1].Event.Name)

	after, err := idx.List(ctx, eventlog.ListOptions{AfterSeq: all[1].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "task.b.completed", after[0].Event.Name)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSQLiteIndex_AppendIsIdempotent(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	evt := event.Event{ID: "dup", Name: "a.b", Payload: 1.0}

	require.NoError(t, idx.Append(ctx, evt))
	require.NoError(t, idx.Append(ctx, evt))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteIndex_ImportFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	fileLog, err := eventlog.OpenFile(path)
	require.NoError(t, err)

	bus := event.NewBus(fileLog)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := bus.Publish(ctx, "load.tick", map[string]any{"i": float64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, fileLog.Close())

	idx := newIndex(t)

	f, err := os.Open(path)
	require.NoError(t, err)
	added, err := idx.Import(ctx, f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 5, added)

	f, err = os.Open(path)
	require.NoError(t, err)
	added, err = idx.Import(ctx, f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, added, "re-import skips known ids")

	recs, err := idx.List(ctx, eventlog.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, map[string]any{"i": float64(3)}, recs[3].Event.Payload)
}

func TestSQLiteIndex_ImportParseError(t *testing.T) {
	idx := newIndex(t)
	_, err := idx.Import(context.Background(), strings.NewReader("garbage\n"))
	var pe *eventlog.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestSQLiteIndex_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	idx1, err := eventlog.NewSQLiteIndex(dbPath)
	require.NoError(t, err)
	require.NoError(t, idx1.Append(ctx, event.Event{ID: "e1", Name: "a.b", Payload: "persistent"}))
	require.NoError(t, idx1.Close())

	idx2, err := eventlog.NewSQLiteIndex(dbPath)
	require.NoError(t, err)
	defer idx2.Close()

	got, err := idx2.Load(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Payload)
}

func TestSQLiteIndex_Closed(t *testing.T) {
	idx, err := eventlog.NewSQLiteIndex(":memory:")
	require.NoError(t, err)

	assert.NoError(t, idx.Close())
	assert.NoError(t, idx.Close())

	ctx := context.Background()
	assert.ErrorIs(t, idx.Append(ctx, event.Event{ID: "x", Name: "a"}), eventlog.ErrClosed)
	_, err = idx.Load(ctx, "x")
	assert.ErrorIs(t, err, eventlog.ErrClosed)
	_, err = idx.List(ctx, eventlog.ListOptions{})
	assert.ErrorIs(t, err, eventlog.ErrClosed)
	_, err = idx.Count(ctx)
	assert.ErrorIs(t, err, eventlog.ErrClosed)
}

func TestSQLiteIndex_InvalidPath(t *testing.T) {
	_, err := eventlog.NewSQLiteIndex("/nonexistent/path/events.db")
	assert.Error(t, err)
}

func TestSQLiteIndex_Concurrent(t *testing.T) {
	idx := newIndex(t)
	bus := event.NewBus(idx)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := bus.Publish(context.Background(), "load.tick", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}
