package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
)

// registerBuiltins binds the handlers that DAG files run by the CLI can name.
//
//	echo       returns its input
//	upper      upper-cases a string input
//	fail       always fails
//	flaky      fails the first two attempts for each input, then echoes
//	sleep      waits for the duration in the input ("250ms"), then echoes it
//	research   builds notes for a topic
//	summarize  shortens research notes
//	save       stores a summary in the in-process memory store
func registerBuiltins(orch *dag.Orchestrator) *memoryStore {
	store := &memoryStore{}
	flaky := &flakyCounter{seen: make(map[string]int)}

	orch.RegisterHandler("echo", func(_ context.Context, payload any) (any, error) {
		return input(payload), nil
	})
	orch.RegisterHandler("upper", func(_ context.Context, payload any) (any, error) {
		s, ok := input(payload).(string)
		if !ok {
			return nil, fmt.Errorf("upper: want string input, got %T", input(payload))
		}
		return strings.ToUpper(s), nil
	})
	orch.RegisterHandler("fail", func(context.Context, any) (any, error) {
		return nil, errors.New("fail: always fails")
	})
	orch.RegisterHandler("flaky", flaky.handle)
	orch.RegisterHandler("sleep", func(ctx context.Context, payload any) (any, error) {
		s, _ := input(payload).(string)
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("sleep: %w", err)
		}
		select {
		case <-time.After(d):
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	orch.RegisterHandler("research", research)
	orch.RegisterHandler("summarize", summarize)
	orch.RegisterHandler("save", store.save)
	return store
}

// input unwraps the output of an upstream task when the payload is a
// task outcome, so handlers chain without knowing their position.
func input(payload any) any {
	if res, err := dag.DecodeResult(payload); err == nil {
		return res.Output
	}
	return payload
}

type flakyCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (f *flakyCounter) handle(_ context.Context, payload any) (any, error) {
	in := input(payload)
	key := fmt.Sprint(in)

	f.mu.Lock()
	f.seen[key]++
	n := f.seen[key]
	f.mu.Unlock()

	if n <= 2 {
		return nil, fmt.Errorf("flaky: attempt %d failed", n)
	}
	return in, nil
}

// research fails on an empty topic.
func research(_ context.Context, payload any) (any, error) {
	topic, _ := input(payload).(string)
	if topic == "" {
		if m, ok := input(payload).(map[string]any); ok {
			topic, _ = m["topic"].(string)
		}
	}
	if topic == "" {
		return nil, errors.New("research: no topic")
	}
	return map[string]any{
		"topic": topic,
		"notes": []string{
			topic + " is defined by its inputs and outputs",
			topic + " has prior art worth reading",
			topic + " has open problems",
		},
	}, nil
}

func summarize(_ context.Context, payload any) (any, error) {
	m, ok := input(payload).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("summarize: want research notes, got %T", input(payload))
	}
	topic, _ := m["topic"].(string)
	notes, _ := m["notes"].([]string)
	if notes == nil {
		if raw, ok := m["notes"].([]any); ok {
			for _, n := range raw {
				if s, ok := n.(string); ok {
					notes = append(notes, s)
				}
			}
		}
	}
	return fmt.Sprintf("%s: %d notes, first: %s", topic, len(notes), first(notes)), nil
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// memoryStore stands in for a long-term memory tier.
type memoryStore struct {
	mu      sync.Mutex
	entries []string
}

func (m *memoryStore) save(_ context.Context, payload any) (any, error) {
	s, ok := input(payload).(string)
	if !ok {
		return nil, fmt.Errorf("save: want string input, got %T", input(payload))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, s)
	return map[string]any{"stored": len(m.entries)}, nil
}

func (m *memoryStore) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.entries...)
}
