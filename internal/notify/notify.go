// Package notify turns upstream record change events into templated
// notifications handed to the delivery engine.
package notify

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/ardian231/notify-wa/internal/delivery"
)

//go:embed event.schema.json
var eventSchema []byte

// ErrInvalidEvent wraps every decode or schema validation failure.
var ErrInvalidEvent = errors.New("invalid event")

const (
	EntityOrders    = "orders"
	EntityAgentForm = "agent-form"

	KindCreated = "created"
	KindChanged = "changed"
)

// Event is one change to an upstream record.
type Event struct {
	Entity string         `json:"entity"`
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// field returns a string or numeric field as text, "" otherwise.
func (e Event) field(name string) string {
	switch v := e.Fields[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Sender is the delivery engine.
type Sender interface {
	Send(ctx context.Context, recipient, message, tag string) (delivery.Outcome, error)
}

// Resolver looks up and fills templates.
type Resolver interface {
	Resolve(key string, subs map[string]string) (string, bool)
}

// Result is the outcome of one notification produced by an event.
type Result struct {
	Recipient string `json:"recipient"`
	Tag       string `json:"tag"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher maps events to notifications.
type Dispatcher struct {
	sender   Sender
	resolver Resolver
	schema   *jsonschema.Schema
}

// NewDispatcher compiles the event schema and returns a Dispatcher.
func NewDispatcher(sender Sender, resolver Resolver) (*Dispatcher, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(eventSchema)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Dispatcher{sender: sender, resolver: resolver, schema: schema}, nil
}

// Decode validates data against the event schema and decodes it.
func (d *Dispatcher) Decode(data []byte) (Event, error) {
	if !json.Valid(data) {
		return Event{}, fmt.Errorf("%w: malformed JSON", ErrInvalidEvent)
	}
	result := d.schema.ValidateJSON(data)
	if !result.IsValid() {
		return Event{}, fmt.Errorf("%w: schema validation failed: %v", ErrInvalidEvent, result.Errors)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}

// notification is one templated message an event asks for.
type notification struct {
	recipient string
	template  string
	subs      map[string]string
	tag       string
}

// plan lists the notifications for ev. Events missing a required field
// produce none.
func plan(ev Event) []notification {
	phone := ev.field("phone")
	if phone == "" {
		return nil
	}

	switch {
	case ev.Entity == EntityOrders && ev.Kind == KindCreated:
		name := ev.field("name")
		if name == "" {
			return nil
		}
		return []notification{{
			recipient: phone,
			template:  "order_added",
			subs:      map[string]string{"name": name},
			tag:       "order_added_" + ev.ID,
		}}

	case ev.Entity == EntityOrders && ev.Kind == KindChanged:
		status, name := strings.ToLower(ev.field("status")), ev.field("name")
		if status == "" || name == "" {
			return nil
		}
		tpl := "order_status_" + status
		subs := map[string]string{"name": name}
		base := fmt.Sprintf("order_changed_%s_%s", ev.ID, status)
		out := []notification{{recipient: phone, template: tpl, subs: subs, tag: base + "_cust"}}
		if agent := ev.field("agentPhone"); agent != "" {
			out = append(out, notification{recipient: agent, template: tpl, subs: subs, tag: base + "_agent"})
		}
		return out

	case ev.Entity == EntityAgentForm && ev.Kind == KindCreated:
		name := ev.field("fullName")
		if name == "" {
			return nil
		}
		return []notification{{
			recipient: phone,
			template:  "agent_added",
			subs:      map[string]string{"name": name},
			tag:       "agent_added_" + ev.ID,
		}}

	case ev.Entity == EntityAgentForm && ev.Kind == KindChanged:
		status, name := strings.ToLower(ev.field("status")), ev.field("fullName")
		if status == "" || name == "" {
			return nil
		}
		return []notification{{
			recipient: phone,
			template:  "agent_status_" + status,
			subs:      map[string]string{"name": name},
			tag:       fmt.Sprintf("agent_changed_%s_%s", ev.ID, status),
		}}
	}
	return nil
}

// Dispatch resolves and sends every notification ev asks for. Missing
// fields or templates send nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []Result {
	notes := plan(ev)
	if len(notes) == 0 {
		slog.Info("event has no notification", "entity", ev.Entity, "kind", ev.Kind, "id", ev.ID)
		return nil
	}

	results := make([]Result, 0, len(notes))
	for _, n := range notes {
		msg, ok := d.resolver.Resolve(n.template, n.subs)
		if !ok {
			slog.Info("template empty or missing, skipping send", "template", n.template, "tag", n.tag)
			continue
		}
		outcome, err := d.sender.Send(ctx, n.recipient, msg, n.tag)
		res := Result{Recipient: delivery.NormalizeRecipient(n.recipient), Tag: n.tag, Outcome: outcome.String()}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
