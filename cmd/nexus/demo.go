package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/nexus/pkg/nexus/agent"
	"github.com/randalmurphal/nexus/pkg/nexus/dag"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// demoDAG chains research, summarize and save. Research may be retried twice.
var demoDAG = dag.Definition{
	ID: "research-pipeline",
	Tasks: []dag.Task{
		{ID: "research", Handler: "research", Triggers: []string{"research.requested"}, MaxRetries: 2},
		{ID: "summarize", Handler: "summarize", Triggers: []string{"task.research.completed"}},
		{ID: "save", Handler: "save", Triggers: []string{"task.summarize.completed"}},
	},
}

// demoAgents own the demo tasks, one agent per task.
var demoAgents = []agent.Info{
	{ID: "research", Name: "Researcher", Capabilities: []string{"search", "read"}},
	{ID: "summarize", Name: "Summarizer", Capabilities: []string{"summarize"}},
	{ID: "save", Name: "Archivist", Capabilities: []string{"store"}},
}

func newDemoCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "demo [TOPIC]",
		Short: "Run the research, summarize, save pipeline",
		Long: `Register three agents, load a three-task DAG and publish
research.requested. Agents report busy while their task runs and idle
(or error) afterwards. Every event lands in the configured event log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := "event sourcing"
			if len(args) == 1 {
				topic = args[0]
			}
			return a.demo(cmd.Context(), cmd.OutOrStdout(), topic, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for the pipeline")
	return cmd
}

func (a *app) demo(ctx context.Context, out io.Writer, topic string, timeout time.Duration) error {
	eng, err := openEngine(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.close(context.Background()) }()

	for _, info := range demoAgents {
		if err := eng.agents.Register(ctx, info); err != nil {
			return err
		}
	}
	trackAgentStatus(eng)

	if err := eng.orch.LoadDAG(demoDAG); err != nil {
		return err
	}

	outcomes := &outcomePrinter{out: out}
	eng.bus.Subscribe("task.*.*", outcomes.handle)

	if _, err := eng.bus.Publish(ctx, "research.requested", topic); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := eng.waitIdle(waitCtx); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Agents:")
	for _, info := range eng.agents.List() {
		fmt.Fprintf(out, "  %-10s %-11s %s\n", info.ID, info.Name, info.Status)
	}
	fmt.Fprintln(out, "Memory:")
	for _, entry := range eng.store.Entries() {
		fmt.Fprintf(out, "  %s\n", entry)
	}

	if n := outcomes.failures(); n > 0 {
		return wrapError(ExitTaskFailed, fmt.Sprintf("%d task(s) failed", n), nil)
	}
	return nil
}

// trackAgentStatus reports an agent busy when its task is triggered and
// idle or error when the task reaches an outcome.
func trackAgentStatus(eng *engine) {
	for _, task := range demoDAG.Tasks {
		id := task.ID
		for _, trigger := range task.Triggers {
			eng.bus.Subscribe(trigger, func(ctx context.Context, _ event.Event) error {
				return eng.agents.ReportStatus(ctx, id, agent.StatusBusy)
			})
		}
		eng.bus.Subscribe(dag.CompletedEvent(id), func(ctx context.Context, _ event.Event) error {
			return eng.agents.ReportStatus(ctx, id, agent.StatusIdle)
		})
		eng.bus.Subscribe(dag.FailedEvent(id), func(ctx context.Context, _ event.Event) error {
			return eng.agents.ReportStatus(ctx, id, agent.StatusError)
		})
	}
}
