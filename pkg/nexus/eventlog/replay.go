package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// maxLineSize bounds a single log line; payloads are opaque and may be large.
const maxLineSize = 16 << 20

// Replay decodes events from r in log order and calls fn for each.
// Blank lines are skipped. Replay stops at the first decode error
// (reported as *ParseError) or the first error returned by fn.
func Replay(r io.Reader, fn func(event.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var evt event.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return &ParseError{Line: line, Err: err}
		}
		if evt.ID == "" || evt.Name == "" {
			return &ParseError{Line: line, Err: fmt.Errorf("missing id or name")}
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	return nil
}

// ReadFile returns every event in the log file at path, in order.
func ReadFile(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []event.Event
	err = Replay(f, func(evt event.Event) error {
		events = append(events, evt)
		return nil
	})
	return events, err
}
