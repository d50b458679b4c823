package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
)

func TestInput(t *testing.T) {
	assert.Equal(t, "raw", input("raw"))
	assert.Equal(t, map[string]any{"a": 1.0}, input(map[string]any{"a": 1.0}))
	assert.Equal(t, "out", input(dag.TaskResult{TaskID: "t", Status: dag.StatusSuccess, Output: "out"}))
	assert.Equal(t, "out", input(map[string]any{"taskId": "t", "status": "success", "output": "out"}))
}

func TestFlaky(t *testing.T) {
	f := &flakyCounter{seen: make(map[string]int)}
	ctx := context.Background()

	_, err := f.handle(ctx, "x")
	assert.Error(t, err)
	_, err = f.handle(ctx, "x")
	assert.Error(t, err)
	out, err := f.handle(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	_, err = f.handle(ctx, "y")
	assert.Error(t, err, "inputs are counted separately")
}

func TestResearchPipelineHandlers(t *testing.T) {
	ctx := context.Background()

	_, err := research(ctx, "")
	assert.Error(t, err)

	notes, err := research(ctx, map[string]any{"topic": "queues"})
	require.NoError(t, err)

	summary, err := summarize(ctx, dag.TaskResult{TaskID: "research", Output: notes})
	require.NoError(t, err)
	assert.Equal(t, "queues: 3 notes, first: queues is defined by its inputs and outputs", summary)

	// Output read back from a log has generic JSON types.
	summary, err = summarize(ctx, map[string]any{
		"taskId": "research",
		"output": map[string]any{"topic": "q", "notes": []any{"n1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "q: 1 notes, first: n1", summary)

	store := &memoryStore{}
	saved, err := store.save(ctx, summary)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stored": 1}, saved)
	assert.Equal(t, []string{"q: 1 notes, first: n1"}, store.Entries())

	_, err = store.save(ctx, 42)
	assert.Error(t, err)
}
