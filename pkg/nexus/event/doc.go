// Package event provides the durable publish/subscribe bus at the center of nexus.
//
// # Overview
//
// Every call to Bus.Publish creates exactly one Event with a fresh UUID and
// UTC timestamp, appends it to a Log, and only then dispatches it to every
// subscription whose pattern matches the event name:
//
//	log, err := eventlog.OpenFile("events.jsonl")
//	if err != nil {
//	    return err
//	}
//	bus := event.NewBus(log, event.WithLogger(logger))
//
//	bus.Subscribe("system.*", func(ctx context.Context, evt event.Event) error {
//	    fmt.Println("caught", evt.Name)
//	    return nil
//	})
//
//	evt, err := bus.Publish(ctx, "system.ping", map[string]any{"message": "ping"})
//
// # Patterns
//
// Event names are dot-delimited hierarchies such as "task.summarize.completed".
// A pattern segment "*" matches exactly one name segment at that position;
// there is no cross-segment glob, so "system.*" matches "system.ping" but not
// "system.ping.reply" or "systemx.ping".
//
// # Delivery
//
// Handlers run synchronously inside Publish, in the order they were
// subscribed. A handler that returns an error or panics is reported through
// the bus logger and metrics, and the remaining handlers still run. Handler
// failures never reach the publisher.
//
// # Durability
//
// The Log append always happens before dispatch and appends are serialized,
// so the log order matches the order of Publish calls. If the append fails,
// Publish returns a *LogWriteError and nothing is dispatched.
package event
