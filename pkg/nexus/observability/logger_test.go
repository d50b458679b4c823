package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newJSONLogger returns a debug-level JSON logger writing into buf.
func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// records decodes every JSON line written to buf.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	recs := records(t, buf)
	require.NotEmpty(t, recs)
	return recs[len(recs)-1]
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "debug", "json")
		require.NoError(t, err)

		logger.Debug("hello", slog.String("k", "v"))
		rec := lastRecord(t, &buf)
		assert.Equal(t, "hello", rec["msg"])
		assert.Equal(t, "v", rec["k"])
	})

	t.Run("text format filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "warn", "text")
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "info", "xml")
		assert.Error(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "loud", "text")
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds task_id, event_id, and attempt", func(t *testing.T) {
		var buf bytes.Buffer
		enriched := EnrichLogger(newJSONLogger(&buf), "summarize", "evt-1", 2)
		enriched.Info("test message")

		rec := lastRecord(t, &buf)
		assert.Equal(t, "summarize", rec["task_id"])
		assert.Equal(t, "evt-1", rec["event_id"])
		assert.Equal(t, float64(2), rec["attempt"]) // JSON decodes ints as float64
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "a", "b", 0))
	})
}

func TestTaskLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf)
	boom := errors.New("boom")

	LogTaskStart(logger, "system.start")
	LogTaskComplete(logger, 12)
	LogTaskRetry(logger, boom, 2*time.Second, 2, 3)
	LogTaskFailed(logger, boom, 3)
	LogHandlerNotFound(logger, "task_a", "missing", "evt-9")
	LogTriggerDropped(logger, "task_a", "evt-9")
	LogOutcomeError(logger, "task.task_a.completed", boom)
	LogPublishError(logger, "system.start", boom)
	LogSubscriberError(logger, "system.*", "evt-9", boom)
	LogDAGLoaded(logger, "demo", 2, 3)

	recs := records(t, &buf)
	require.Len(t, recs, 10)

	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "system.start", recs[0]["trigger"])

	assert.Equal(t, "task completed", recs[1]["msg"])
	assert.Equal(t, float64(12), recs[1]["duration_ms"])

	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Equal(t, float64(2), recs[2]["retry"])
	assert.Equal(t, float64(3), recs[2]["max_retries"])

	assert.Equal(t, "ERROR", recs[3]["level"])
	assert.Equal(t, "boom", recs[3]["error"])

	assert.Equal(t, "missing", recs[4]["handler"])
	assert.Equal(t, "evt-9", recs[5]["event_id"])
	assert.Equal(t, "task.task_a.completed", recs[6]["event"])
	assert.Equal(t, "event publish failed", recs[7]["msg"])
	assert.Equal(t, "system.*", recs[8]["pattern"])
	assert.Equal(t, "demo", recs[9]["dag_id"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	boom := errors.New("boom")
	assert.NotPanics(t, func() {
		LogTaskStart(nil, "x")
		LogTaskComplete(nil, 1)
		LogTaskRetry(nil, boom, time.Second, 1, 1)
		LogTaskFailed(nil, boom, 1)
		LogHandlerNotFound(nil, "a", "b", "c")
		LogTriggerDropped(nil, "a", "b")
		LogOutcomeError(nil, "x", boom)
		LogPublishError(nil, "x", boom)
		LogSubscriberError(nil, "x", "y", boom)
		LogDAGLoaded(nil, "x", 0, 0)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(15 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(10))
}

func TestNewLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "")
	require.NoError(t, err)
	logger.Info("plain")
	assert.True(t, strings.Contains(buf.String(), "msg=plain"))
}
