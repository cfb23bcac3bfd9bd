// Package tools exposes the swarm to agents as JSON tool calls. Every call
// names the calling agent, which is resolved before the tool runs, and
// returns either a structured value or a named failure.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/hub"
	"github.com/aixgo-dev/swarm/internal/observability"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Swarm is the session surface the tools drive. It is satisfied by
// *swarm.Session.
type Swarm interface {
	Spawn(ctx context.Context, parent agent.ID, role, instructions string) (agent.Summary, error)
	Agent(id agent.ID) (agent.Summary, error)
	Resolve(id agent.ID) (agent.Summary, error)
	Agents(filter agent.Filter) iter.Seq[agent.Summary]
	Transition(ctx context.Context, id agent.ID, status agent.Status) error
	CloseAgent(ctx context.Context, id agent.ID, reason agent.CloseReason) error
	Send(ctx context.Context, from, to agent.ID, msg agent.Message) (agent.Message, error)
	Broadcast(ctx context.Context, from agent.ID, msg agent.Message) ([]agent.Message, error)
	Receive(ctx context.Context, id agent.ID, max int) ([]agent.Message, error)
	Hub() *hub.Hub
}

// Result is the outcome of one tool call.
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error is a named failure; Code is a swarmerr code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler runs a tool for a resolved caller. The caller is the zero
// Summary only for a root spawn.
type Handler func(ctx context.Context, caller agent.Summary, args json.RawMessage) (any, error)

// Tool is a named handler.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
	// Bootstrap tools accept an empty caller.
	Bootstrap bool
}

// Dispatcher routes tool calls to handlers.
type Dispatcher struct {
	swarm  Swarm
	tools  map[string]Tool
	hub    map[string]Handler
	logger zerolog.Logger
	audit  security.AuditLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithAuditLogger records rejected calls.
func WithAuditLogger(a security.AuditLogger) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// New creates a dispatcher with every swarm tool registered.
func New(s Swarm, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		swarm:  s,
		tools:  make(map[string]Tool),
		logger: zerolog.Nop(),
		audit:  security.NewNoOpAuditLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registerAgentTools()
	d.hub = d.hubActions()
	d.register(Tool{
		Name:        "swarm_hub",
		Description: "Read or write a shared hub store; the action argument selects the operation.",
		Handler:     d.handleHub,
	})
	return d
}

func (d *Dispatcher) register(t Tool) {
	if _, dup := d.tools[t.Name]; dup {
		panic(fmt.Sprintf("tool %s registered twice", t.Name))
	}
	d.tools[t.Name] = t
}

// Tools lists the registered tools by name.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tool) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// HubActions lists the actions accepted by swarm_hub.
func (d *Dispatcher) HubActions() []string {
	out := make([]string, 0, len(d.hub))
	for name := range d.hub {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Handle runs tool on behalf of caller with JSON arguments.
func (d *Dispatcher) Handle(ctx context.Context, caller agent.ID, tool string, args []byte) Result {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "tool."+tool, map[string]any{"caller": string(caller)})
	defer span.End()

	data, err := d.call(ctx, caller, tool, args)
	code := swarmerr.Code(err)
	metrics.RecordToolCall(tool, code, time.Since(start))

	if err != nil {
		span.SetError(err)
		d.logger.Debug().Err(err).Str("tool", tool).Str("caller", string(caller)).Str("code", code).Msg("tool call failed")
		if errors.Is(err, swarmerr.ErrPermissionDenied) {
			d.audit.Log(security.NewAuditEvent(security.EventPermission, string(caller), tool, "call", err))
		}
		return Result{Error: &Error{Code: code, Message: err.Error()}}
	}
	return Result{OK: true, Data: data}
}

func (d *Dispatcher) call(ctx context.Context, caller agent.ID, name string, args []byte) (any, error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, swarmerr.Invalid("unknown tool %q", name)
	}
	if len(bytes.TrimSpace(args)) > 0 && !json.Valid(args) {
		return nil, swarmerr.Invalid("arguments are not valid JSON")
	}

	var who agent.Summary
	if caller != "" || !t.Bootstrap {
		var err error
		if who, err = d.swarm.Resolve(caller); err != nil {
			return nil, err
		}
	}
	return t.Handler(ctx, who, args)
}

// decode strictly unmarshals args into v; empty args leave v zero.
func decode(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return swarmerr.Invalid("malformed arguments: %v", err)
	}
	return nil
}

// typed adapts a handler taking decoded arguments.
func typed[I any](fn func(ctx context.Context, caller agent.Summary, in I) (any, error)) Handler {
	return func(ctx context.Context, caller agent.Summary, args json.RawMessage) (any, error) {
		var in I
		if err := decode(args, &in); err != nil {
			return nil, err
		}
		return fn(ctx, caller, in)
	}
}

// collect drains seq into a slice that encodes as [] when empty.
func collect[T any](seq iter.Seq[T]) []T {
	out := slices.Collect(seq)
	if out == nil {
		out = []T{}
	}
	return out
}
