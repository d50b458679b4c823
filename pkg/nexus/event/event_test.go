package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

type pingPayload struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func TestEvent_DecodePayload(t *testing.T) {
	t.Run("in-process value", func(t *testing.T) {
		evt := event.Event{Name: "system.ping", Payload: pingPayload{Message: "ping", Count: 2}}

		var got pingPayload
		require.NoError(t, evt.DecodePayload(&got))
		assert.Equal(t, pingPayload{Message: "ping", Count: 2}, got)
	})

	t.Run("decoded JSON", func(t *testing.T) {
		var evt event.Event
		require.NoError(t, json.Unmarshal(
			[]byte(`{"id":"1","name":"system.ping","payload":{"message":"hi","count":3},"timestamp":"2026-01-02T03:04:05.678Z"}`),
			&evt,
		))

		var got pingPayload
		require.NoError(t, evt.DecodePayload(&got))
		assert.Equal(t, pingPayload{Message: "hi", Count: 3}, got)
	})

	t.Run("type mismatch", func(t *testing.T) {
		evt := event.Event{Name: "system.ping", Payload: "not an object"}
		var got pingPayload
		assert.Error(t, evt.DecodePayload(&got))
	})

	t.Run("unmarshalable payload", func(t *testing.T) {
		evt := event.Event{Name: "system.ping", Payload: make(chan int)}
		var got pingPayload
		assert.Error(t, evt.DecodePayload(&got))
	})
}

func TestEvent_JSONFieldNames(t *testing.T) {
	evt := event.Event{ID: "abc", Name: "a.b", Payload: map[string]any{"k": "v"}}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.ElementsMatch(t, []string{"id", "name", "payload", "timestamp"}, keys(fields))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, event.ValidateName("system.ping"))
	assert.NoError(t, event.ValidateName("ping"))

	for _, bad := range []string{"", "a..b", "a.", ".a", "system.*"} {
		assert.ErrorIs(t, event.ValidateName(bad), event.ErrInvalidName, bad)
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
