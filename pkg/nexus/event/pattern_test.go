package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"system.*", "system.ping", true},
		{"system.*", "system.error", true},
		{"system.*", "systemx.ping", false},
		{"system.*", "system", false},
		{"system.*", "system.ping.reply", false},
		{"system.*", "system.", false},
		{"*.ping", "system.ping", true},
		{"*.ping", "ping", false},
		{"task.*.completed", "task.task_a.completed", true},
		{"task.*.completed", "task.task_a.failed", false},
		{"task.*.*", "task.a.failed", true},
		{"*", "anything", true},
		{"*", "two.levels", false},
		{"task.task_a.completed", "task.task_a.completed", true},
		{"task.task_a.completed", "task.task_b.completed", false},
		{"agent.register", "agent.register.extra", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, event.Match(tt.pattern, tt.name))
		})
	}
}

func TestCompilePattern_String(t *testing.T) {
	p := event.CompilePattern("a.*.c")
	assert.Equal(t, "a.*.c", p.String())
	assert.True(t, p.Matches("a.b.c"))
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, event.ValidatePattern("system.*"))
	assert.NoError(t, event.ValidatePattern("task.a.completed"))

	for _, bad := range []string{"", "a..b", ".a", "a.", "sys*.ping"} {
		err := event.ValidatePattern(bad)
		assert.ErrorIs(t, err, event.ErrInvalidPattern, bad)
	}
}
