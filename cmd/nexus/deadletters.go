package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/nexus/pkg/nexus/deadletter"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/eventlog"
)

func newDeadLettersCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deadletters [FILE]",
		Short: "List the task failures recorded in an event log",
		Long: `Rebuild the dead letter queue from the task.<id>.failed events of a log
(default: the configured log) and print it, oldest first. A failure that
repeats with the same task and error dead_letter.threshold times within
dead_letter.window is marked poisoned and cannot be redriven.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.EventLog.Path
			if len(args) == 1 {
				path = args[0]
			}
			q := a.newDeadLetters()
			if _, err := loadDeadLetters(q, path); err != nil {
				return err
			}
			return printDeadLetters(cmd.OutOrStdout(), q.List(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON lines")
	return cmd
}

func newRedriveCmd(a *app) *cobra.Command {
	var (
		dags    []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "redrive ID...",
		Short: "Rerun failed tasks with their original trigger events",
		Long: `Load the DAGs, rebuild the dead letter queue from the configured event log
and rerun the task of each given dead letter (see "nexus deadletters") with
the event that originally triggered it. Only the failed task runs again;
its completion triggers downstream tasks as usual.

The command exits with status 2 if any rerun task failed again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.redrive(cmd.Context(), cmd.OutOrStdout(), args, dags, timeout)
		},
	}
	cmd.Flags().StringSliceVar(&dags, "dag", nil, "DAG definition file (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for tasks to settle")
	return cmd
}

func (a *app) newDeadLetters() *deadletter.Queue {
	return deadletter.New(deadletter.Config{
		MaxSize:   a.cfg.DeadLetter.MaxSize,
		Threshold: a.cfg.DeadLetter.Threshold,
		Window:    a.cfg.DeadLetter.Window,
	}, slog.New(slog.DiscardHandler))
}

func (a *app) redrive(ctx context.Context, out io.Writer, ids, dags []string, timeout time.Duration) error {
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

	if err := eng.loadDAGs(slices.Concat(a.cfg.DAGs, dags)); err != nil {
		return err
	}

	q := a.newDeadLetters()
	events, err := loadDeadLetters(q, a.cfg.EventLog.Path)
	if err != nil {
		return err
	}

	outcomes := &outcomePrinter{out: out}
	eng.bus.Subscribe("task.*.*", outcomes.handle)

	for _, id := range ids {
		if err := q.Redrive(ctx, id, events, eng.orch); err != nil {
			code := ExitError
			if errors.Is(err, deadletter.ErrNotFound) || errors.Is(err, deadletter.ErrPoisoned) {
				code = ExitConfigError
			}
			return wrapError(code, "redrive "+id, err)
		}
		fmt.Fprintf(out, "redriven  %s\n", id)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := eng.waitIdle(waitCtx); err != nil {
		return wrapError(exitCode(err), "waiting for tasks", err)
	}

	if n := outcomes.failures(); n > 0 {
		return wrapError(ExitTaskFailed, fmt.Sprintf("%d task(s) failed", n), nil)
	}
	return nil
}

// logEvents serves the events of a log file by id.
type logEvents map[string]event.Event

func (l logEvents) Load(_ context.Context, id string) (event.Event, error) {
	evt, ok := l[id]
	if !ok {
		return event.Event{}, fmt.Errorf("%w: %s", eventlog.ErrNotFound, id)
	}
	return evt, nil
}

// loadDeadLetters feeds the failure events of the log at path into q and
// returns every event of the log by id.
func loadDeadLetters(q *deadletter.Queue, path string) (logEvents, error) {
	all, err := eventlog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	failed := event.CompilePattern(deadletter.FailedPattern)
	events := make(logEvents, len(all))
	for _, evt := range all {
		events[evt.ID] = evt
		if !failed.Matches(evt.Name) {
			continue
		}
		if err := q.RecordFailure(evt); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func printDeadLetters(out io.Writer, entries []deadletter.Entry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range entries {
		mark := ""
		if e.Poisoned {
			mark = " poisoned"
		}
		_, err := fmt.Fprintf(out, "%s  %-12s trigger=%s failures=%d%s  %s\n",
			e.ID, e.Source, e.EventID, e.Failures, mark, e.Error)
		if err != nil {
			return err
		}
	}
	return nil
}
