package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

type spawnArgs struct {
	Role         string `json:"role"`
	Instructions string `json:"instructions"`
}

type listArgs struct {
	Role     string   `json:"role"`
	Statuses []string `json:"statuses"`
	Ancestor agent.ID `json:"ancestor"`
}

type agentArgs struct {
	Agent agent.ID `json:"agent"`
}

type transitionArgs struct {
	Agent  agent.ID `json:"agent"`
	Status string   `json:"status"`
}

type closeArgs struct {
	Agent  agent.ID `json:"agent"`
	Reason string   `json:"reason"`
	Failed bool     `json:"failed"`
}

type messageArgs struct {
	To       agent.ID          `json:"to"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}

type receiveArgs struct {
	Max int `json:"max"`
}

func (d *Dispatcher) registerAgentTools() {
	d.register(Tool{
		Name:        "swarm_spawn",
		Description: "Spawn a child agent; without a caller, spawn the root agent.",
		Handler:     typed(d.spawn),
		Bootstrap:   true,
	})
	d.register(Tool{
		Name:        "swarm_list",
		Description: "List agents filtered by role, status or ancestor.",
		Handler:     typed(d.list),
	})
	d.register(Tool{
		Name:        "swarm_get",
		Description: "Describe one agent.",
		Handler:     typed(d.get),
	})
	d.register(Tool{
		Name:        "swarm_transition",
		Description: "Change the status of the caller or one of its descendants.",
		Handler:     typed(d.transition),
	})
	d.register(Tool{
		Name:        "swarm_close",
		Description: "Close the caller or one of its descendants, and everything below it.",
		Handler:     typed(d.close),
	})
	d.register(Tool{
		Name:        "swarm_send",
		Description: "Send a message to another agent.",
		Handler:     typed(d.send),
	})
	d.register(Tool{
		Name:        "swarm_broadcast",
		Description: "Send a message to every agent the caller may reach.",
		Handler:     typed(d.broadcast),
	})
	d.register(Tool{
		Name:        "swarm_receive",
		Description: "Consume queued messages from the caller's mailbox.",
		Handler:     typed(d.receive),
	})
}

func (d *Dispatcher) spawn(ctx context.Context, caller agent.Summary, in spawnArgs) (any, error) {
	return d.swarm.Spawn(ctx, caller.ID, in.Role, in.Instructions)
}

func (d *Dispatcher) list(_ context.Context, _ agent.Summary, in listArgs) (any, error) {
	f := agent.Filter{Role: in.Role, Ancestor: in.Ancestor}
	for _, s := range in.Statuses {
		st, err := agent.ParseStatus(s)
		if err != nil {
			return nil, swarmerr.Invalid("%v", err)
		}
		f.Statuses = append(f.Statuses, st)
	}
	return collect(d.swarm.Agents(f)), nil
}

func (d *Dispatcher) get(_ context.Context, caller agent.Summary, in agentArgs) (any, error) {
	if in.Agent == "" {
		return caller, nil
	}
	return d.swarm.Agent(in.Agent)
}

// target resolves the agent a lifecycle tool acts on: the caller itself by
// default, otherwise one of its descendants.
func (d *Dispatcher) target(caller agent.Summary, id agent.ID) (agent.ID, error) {
	if id == "" || id == caller.ID {
		return caller.ID, nil
	}
	for s := range d.swarm.Agents(agent.Filter{Ancestor: caller.ID}) {
		if s.ID == id {
			return id, nil
		}
	}
	if _, err := d.swarm.Agent(id); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s does not descend from %s", swarmerr.ErrPermissionDenied, id, caller.ID)
}

func (d *Dispatcher) transition(ctx context.Context, caller agent.Summary, in transitionArgs) (any, error) {
	id, err := d.target(caller, in.Agent)
	if err != nil {
		return nil, err
	}
	st, err := agent.ParseStatus(in.Status)
	if err != nil {
		return nil, swarmerr.Invalid("%v", err)
	}
	if err := d.swarm.Transition(ctx, id, st); err != nil {
		return nil, err
	}
	return d.swarm.Agent(id)
}

func (d *Dispatcher) close(ctx context.Context, caller agent.Summary, in closeArgs) (any, error) {
	id, err := d.target(caller, in.Agent)
	if err != nil {
		return nil, err
	}
	if err := d.swarm.CloseAgent(ctx, id, agent.CloseReason{Failed: in.Failed, Message: in.Reason}); err != nil {
		return nil, err
	}
	return d.swarm.Agent(id)
}

func (in messageArgs) message() (agent.Message, error) {
	payload := in.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	m, err := agent.NewMessage(in.Type, payload)
	if err != nil {
		return agent.Message{}, swarmerr.Invalid("%v", err)
	}
	for k, v := range in.Metadata {
		m.WithMetadata(k, v)
	}
	return *m, nil
}

func (d *Dispatcher) send(ctx context.Context, caller agent.Summary, in messageArgs) (any, error) {
	if in.To == "" {
		return nil, swarmerr.Invalid("recipient is required")
	}
	m, err := in.message()
	if err != nil {
		return nil, err
	}
	return d.swarm.Send(ctx, caller.ID, in.To, m)
}

func (d *Dispatcher) broadcast(ctx context.Context, caller agent.Summary, in messageArgs) (any, error) {
	if in.To != "" {
		return nil, swarmerr.Invalid("broadcast takes no recipient")
	}
	m, err := in.message()
	if err != nil {
		return nil, err
	}
	out, err := d.swarm.Broadcast(ctx, caller.ID, m)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []agent.Message{}
	}
	return out, nil
}

func (d *Dispatcher) receive(ctx context.Context, caller agent.Summary, in receiveArgs) (any, error) {
	msgs, err := d.swarm.Receive(ctx, caller.ID, in.Max)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []agent.Message{}
	}
	return msgs, nil
}
