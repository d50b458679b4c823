package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/nexus/pkg/nexus/agent"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/eventlog"
)

type replayOptions struct {
	pattern   string
	limit     int
	json      bool
	fromIndex bool
	agents    bool
	where     []string
	selectAt  string
}

func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay [FILE]",
		Short: "Print the events of a log, optionally indexing them into SQLite",
		Long: `Read events from a JSONL event log (default: the configured log) and print
them in log order. With --index the events are also imported into the SQLite
index; ids already indexed are skipped. With --from-index the events are read
from the index instead of the file.

--where keeps events whose payload has the given value at a gjson path
(for example --where output.topic=queues) and --select prints only the value
at a path instead of the whole payload.

--agents feeds the events through a fresh bus and prints the agent registry
they produce.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.EventLog.Path
			if len(args) == 1 {
				path = args[0]
			}
			return a.replay(cmd.Context(), cmd.OutOrStdout(), path, opts)
		},
	}
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Only show events whose name matches this pattern")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Show at most this many events (0 = all)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print events as JSON lines")
	cmd.Flags().BoolVar(&opts.fromIndex, "from-index", false, "Read from the SQLite index instead of the file")
	cmd.Flags().BoolVar(&opts.agents, "agents", false, "Rebuild and print the agent registry")
	cmd.Flags().StringArrayVar(&opts.where, "where", nil, "Payload filter PATH=VALUE (repeatable, gjson path syntax)")
	cmd.Flags().StringVar(&opts.selectAt, "select", "", "Print only the payload value at this gjson path")
	return cmd
}

func (a *app) replay(ctx context.Context, out io.Writer, path string, opts *replayOptions) error {
	if opts.pattern != "" {
		if err := event.ValidatePattern(opts.pattern); err != nil {
			return wrapError(ExitConfigError, "--pattern", err)
		}
	}

	filters, err := parseWhere(opts.where)
	if err != nil {
		return wrapError(ExitConfigError, "--where", err)
	}

	var events []event.Event
	if opts.fromIndex {
		// The index can only apply the limit itself when nothing is
		// filtered after it.
		limit := opts.limit
		if len(filters) > 0 {
			limit = 0
		}
		events, err = a.readIndex(ctx, opts.pattern, limit)
	} else {
		events, err = a.readFile(ctx, path, opts.pattern)
	}
	if err != nil {
		return err
	}

	shown := 0
	for _, evt := range events {
		if opts.limit > 0 && shown >= opts.limit {
			break
		}
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", evt, err)
		}
		if !filters.match(payload) {
			continue
		}
		shown++
		if opts.selectAt != "" {
			fmt.Fprintf(out, "%s  %s\n", evt.Name, gjson.GetBytes(payload, opts.selectAt).Raw)
			continue
		}
		if err := printEvent(out, evt, opts.json); err != nil {
			return err
		}
	}

	if opts.agents {
		return a.printAgents(ctx, out, path)
	}
	return nil
}

// readFile reads the events of the file whose names match pattern, importing
// the file into the index when one is configured.
func (a *app) readFile(ctx context.Context, path, pattern string) ([]event.Event, error) {
	all, err := eventlog.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if a.cfg.EventLog.Index != "" {
		added, err := importFile(ctx, a.cfg.EventLog.Index, path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("event log indexed",
			slog.String("index", a.cfg.EventLog.Index),
			slog.Int("added", added),
		)
	}

	if pattern == "" {
		return all, nil
	}
	match := event.CompilePattern(pattern)
	var out []event.Event
	for _, evt := range all {
		if match.Matches(evt.Name) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func importFile(ctx context.Context, indexPath, path string) (int, error) {
	idx, err := eventlog.NewSQLiteIndex(indexPath)
	if err != nil {
		return 0, err
	}
	defer idx.Close()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	return idx.Import(ctx, f)
}

func (a *app) readIndex(ctx context.Context, pattern string, limit int) ([]event.Event, error) {
	if a.cfg.EventLog.Index == "" {
		return nil, wrapError(ExitConfigError, "--from-index", errors.New("no index configured (use --index)"))
	}
	idx, err := eventlog.NewSQLiteIndex(a.cfg.EventLog.Index)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	records, err := idx.List(ctx, eventlog.ListOptions{Pattern: pattern, Limit: limit})
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, len(records))
	for i, rec := range records {
		events[i] = rec.Event
	}
	return events, nil
}

// payloadFilter requires every path to hold the given string value.
type payloadFilter map[string]string

func parseWhere(exprs []string) (payloadFilter, error) {
	f := make(payloadFilter, len(exprs))
	for _, expr := range exprs {
		path, value, ok := strings.Cut(expr, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("want PATH=VALUE, got %q", expr)
		}
		f[path] = value
	}
	return f, nil
}

func (f payloadFilter) match(payload []byte) bool {
	for path, want := range f {
		got := gjson.GetBytes(payload, path)
		if !got.Exists() || got.String() != want {
			return false
		}
	}
	return true
}

func printEvent(out io.Writer, evt event.Event, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encode %s: %w", evt, err)
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt, err)
	}
	_, err = fmt.Fprintf(out, "%s  %-32s %s  %s\n",
		evt.Timestamp.Format(time.RFC3339Nano), evt.Name, evt.ID, payload)
	return err
}

// printAgents replays the whole file into a throwaway bus and prints the
// resulting agent registry.
func (a *app) printAgents(ctx context.Context, out io.Writer, path string) error {
	bus := event.NewBus(eventlog.NewMemoryLog(), event.WithLogger(a.logger))
	reg := agent.NewRegistry(bus, a.logger)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	err = eventlog.Replay(f, func(evt event.Event) error {
		if evt.Name != agent.RegisterEvent && evt.Name != agent.StatusUpdateEvent {
			return nil
		}
		_, err := bus.Publish(ctx, evt.Name, evt.Payload)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Agents:")
	for _, info := range reg.List() {
		fmt.Fprintf(out, "  %-10s %-11s %-6s %v\n", info.ID, info.Name, info.Status, info.Capabilities)
	}
	return nil
}
