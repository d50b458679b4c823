// Package agent tracks the agents attached to a bus.
//
// Agents announce themselves by publishing agent.register and report their
// state with agent.status.update. A Registry subscribes to both events and
// keeps the latest view of every agent, so the registry can be rebuilt by
// replaying an event log through a fresh bus.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/registry"
)

// Event names handled by the registry.
const (
	RegisterEvent     = "agent.register"
	StatusUpdateEvent = "agent.status.update"
)

// Status is the state an agent reports.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// ErrUnknownAgent is returned when a status update names an unregistered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Info describes a registered agent.
type Info struct {
	ID           string   `json:"id" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	Capabilities []string `json:"capabilities"`
	Status       Status   `json:"status" validate:"omitempty,oneof=idle busy error"`
}

// HasCapability reports whether the agent advertises capability c.
func (i Info) HasCapability(c string) bool {
	return slices.Contains(i.Capabilities, c)
}

// StatusUpdate is the payload of agent.status.update.
type StatusUpdate struct {
	ID     string `json:"id" validate:"required"`
	Status Status `json:"status" validate:"required,oneof=idle busy error"`
}

// Bus is the part of the event bus the registry uses.
type Bus interface {
	Publish(ctx context.Context, name string, payload any) (event.Event, error)
	Subscribe(pattern string, handler event.Handler)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registry is the event-driven view of known agents.
type Registry struct {
	bus    Bus
	agents *registry.Registry[string, Info]
	logger *slog.Logger
}

// NewRegistry creates a registry and subscribes it to the agent events on bus.
func NewRegistry(bus Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		bus:    bus,
		agents: registry.New[string, Info](),
		logger: logger,
	}
	bus.Subscribe(RegisterEvent, r.onRegister)
	bus.Subscribe(StatusUpdateEvent, r.onStatusUpdate)
	return r
}

// Register publishes agent.register for info. An empty status defaults to idle.
func (r *Registry) Register(ctx context.Context, info Info) error {
	if info.Status == "" {
		info.Status = StatusIdle
	}
	if err := validate.Struct(info); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	if _, err := r.bus.Publish(ctx, RegisterEvent, info); err != nil {
		return fmt.Errorf("register agent %s: %w", info.ID, err)
	}
	return nil
}

// ReportStatus publishes agent.status.update for the agent with the given id.
// The update is logged even if the agent is unknown; it is then ignored.
func (r *Registry) ReportStatus(ctx context.Context, id string, status Status) error {
	update := StatusUpdate{ID: id, Status: status}
	if err := validate.Struct(update); err != nil {
		return fmt.Errorf("report status: %w", err)
	}
	if _, err := r.bus.Publish(ctx, StatusUpdateEvent, update); err != nil {
		return fmt.Errorf("report status for %s: %w", id, err)
	}
	return nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (Info, bool) {
	return r.agents.Get(id)
}

// List returns the known agents ordered by id.
func (r *Registry) List() []Info {
	return r.agents.Values()
}

// WithCapability returns the known agents advertising c, ordered by id.
func (r *Registry) WithCapability(c string) []Info {
	var out []Info
	for _, info := range r.agents.Values() {
		if info.HasCapability(c) {
			out = append(out, info)
		}
	}
	return out
}

func (r *Registry) onRegister(_ context.Context, evt event.Event) error {
	var info Info
	if err := evt.DecodePayload(&info); err != nil {
		return fmt.Errorf("decode %s: %w", RegisterEvent, err)
	}
	if err := validate.Struct(info); err != nil {
		return fmt.Errorf("invalid %s payload: %w", RegisterEvent, err)
	}
	if info.Status == "" {
		info.Status = StatusIdle
	}

	r.agents.Register(info.ID, info)
	r.logger.Info("agent registered",
		slog.String("agent_id", info.ID),
		slog.String("agent_name", info.Name),
		slog.Any("capabilities", info.Capabilities),
	)
	return nil
}

func (r *Registry) onStatusUpdate(_ context.Context, evt event.Event) error {
	var update StatusUpdate
	if err := evt.DecodePayload(&update); err != nil {
		return fmt.Errorf("decode %s: %w", StatusUpdateEvent, err)
	}

	ok := r.agents.Update(update.ID, func(info Info) Info {
		info.Status = update.Status
		return info
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, update.ID)
	}

	r.logger.Debug("agent status updated",
		slog.String("agent_id", update.ID),
		slog.String("status", string(update.Status)),
	)
	return nil
}
