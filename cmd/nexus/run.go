package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

type runOptions struct {
	dags    []string
	trigger string
	payload string
	timeout time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run --dag FILE --trigger EVENT",
		Short: "Load DAGs, publish a trigger event and wait for the tasks to settle",
		Long: `Load one or more DAG definition files, publish the trigger event and wait
until every execution it starts, directly or through completion events, has
completed or failed. Each task outcome is printed as it is published.

The command exits with status 2 if any task failed.`,
		Example: `  nexus run --dag pipeline.yaml --trigger research.requested --payload '"event sourcing"'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.dags, "dag", nil, "DAG definition file (repeatable)")
	cmd.Flags().StringVar(&opts.trigger, "trigger", "", "Name of the event to publish")
	cmd.Flags().StringVar(&opts.payload, "payload", "", "Event payload as JSON (non-JSON is sent as a string)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "How long to wait for tasks to settle")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, opts *runOptions) error {
	eng, err := openEngine(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.close(closeCtx); err != nil {
			a.logger.Warn("close engine", slog.String("error", err.Error()))
		}
	}()

	if err := eng.loadDAGs(slices.Concat(a.cfg.DAGs, opts.dags)); err != nil {
		return err
	}

	outcomes := &outcomePrinter{out: out}
	eng.bus.Subscribe("task.*.*", outcomes.handle)

	payload := parsePayload(opts.payload)
	evt, err := eng.bus.Publish(ctx, opts.trigger, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", opts.trigger, err)
	}
	fmt.Fprintf(out, "published %s\n", evt)

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := eng.waitIdle(waitCtx); err != nil {
		return wrapError(exitCode(err), "waiting for tasks", err)
	}

	if st := eng.dead.Stats(); st.Size > 0 {
		fmt.Fprintf(out, "dead letters: %d (%d poisoned), see nexus deadletters\n", st.Size, st.Poisoned)
	}
	if n := outcomes.failures(); n > 0 {
		return wrapError(ExitTaskFailed, fmt.Sprintf("%d task(s) failed", n), nil)
	}
	return nil
}

// parsePayload decodes s as JSON, falling back to the raw string.
func parsePayload(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// outcomePrinter writes one line per task outcome event.
type outcomePrinter struct {
	mu     sync.Mutex
	out    io.Writer
	failed int
}

func (p *outcomePrinter) handle(_ context.Context, evt event.Event) error {
	res, err := dag.DecodeResult(evt.Payload)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch res.Status {
	case dag.StatusFailure:
		p.failed++
		fmt.Fprintf(p.out, "%-10s %s: %s\n", "failed", res.TaskID, res.Error)
	default:
		output, _ := json.Marshal(res.Output)
		fmt.Fprintf(p.out, "%-10s %s: %s\n", "completed", res.TaskID, output)
	}
	return nil
}

func (p *outcomePrinter) failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
