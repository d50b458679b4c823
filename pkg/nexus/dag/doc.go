/*
Package dag runs tasks in reaction to bus events.

# Overview

A Definition is a set of Tasks. Each Task names the event patterns that
trigger it, the registered handler that does its work, and how many times a
failed attempt may be retried. There are no explicit edges: task B runs after
task A because B subscribes to "task.A.completed".

	orch := dag.New(bus, dag.WithLogger(logger))

	orch.RegisterHandler("research", func(ctx context.Context, payload any) (any, error) {
	    return map[string]any{"data": "findings"}, nil
	})
	orch.RegisterHandler("summarize", summarize)

	err := orch.LoadDAG(dag.Definition{
	    ID: "nexus-loop",
	    Tasks: []dag.Task{
	        {ID: "research", Handler: "research", Triggers: []string{"start.research"}, MaxRetries: 2},
	        {ID: "summarize", Handler: "summarize", Triggers: []string{"task.research.completed"}},
	    },
	})

	_, err = bus.Publish(ctx, "start.research", map[string]any{"topic": "Quantum Computing"})

# Executions

Every (task id, triggering event id) pair is one Execution. While an
execution exists, further triggers for the same pair are dropped, so a
handler never runs twice concurrently for the same event. Publishing a new
event with the same name creates a new, independent execution.

	Idle ──trigger──▶ Running ──success──▶ publish task.<id>.completed ──▶ Idle
	                     │
	                     ├─failure, retries < max──▶ Backoff ──delay──▶ Running
	                     │
	                     └─failure, retries = max──▶ publish task.<id>.failed ──▶ Idle

The delay before retry n is Backoff.Delay(n): 1s, 2s, 4s, ... by default.

# Errors

Handler errors never reach the publisher of the triggering event. They are
retried and, once retries are exhausted, reported as a task.<id>.failed event
whose TaskResult carries the error message and the triggering event id.
A trigger for a task whose handler is not registered is logged and ignored.

# Shutdown

Orchestrator.Shutdown drops new triggers, abandons retries still waiting
for their delay, cancels the context passed to running handlers and waits
for them to return.
*/
package dag
