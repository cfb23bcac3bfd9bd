package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/hub"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// hubAction is embedded in every swarm_hub argument struct so that strict
// decoding accepts the action tag.
type hubAction struct {
	Action string `json:"action"`
}

type listOpts struct {
	Limit       int      `json:"limit"`
	NewestFirst bool     `json:"newest_first"`
	Author      agent.ID `json:"author"`
}

func (o listOpts) options() hub.ListOptions {
	return hub.ListOptions{Author: o.Author, Limit: o.Limit, NewestFirst: o.NewestFirst}
}

type idArgs struct {
	hubAction
	ID string `json:"id"`
}

type listOnly struct {
	hubAction
	listOpts
}

func (d *Dispatcher) handleHub(ctx context.Context, caller agent.Summary, args json.RawMessage) (any, error) {
	var tag hubAction
	if len(args) > 0 {
		if err := json.Unmarshal(args, &tag); err != nil {
			return nil, swarmerr.Invalid("malformed arguments: %v", err)
		}
	}
	if tag.Action == "" {
		return nil, swarmerr.Invalid("action is required")
	}
	h, ok := d.hub[tag.Action]
	if !ok {
		return nil, swarmerr.Invalid("unknown hub action %q", tag.Action)
	}
	return h(ctx, caller, args)
}

// hubTool adapts a handler that needs the session hub.
func hubTool[I any](d *Dispatcher, fn func(h *hub.Hub, caller agent.Summary, in I) (any, error)) Handler {
	return typed(func(_ context.Context, caller agent.Summary, in I) (any, error) {
		h := d.swarm.Hub()
		if h == nil {
			return nil, swarmerr.Invalid("hub is not available before the first spawn")
		}
		return fn(h, caller, in)
	})
}

func (d *Dispatcher) hubActions() map[string]Handler {
	return map[string]Handler{
		"lounge_append": hubTool(d, loungeAppend),
		"lounge_read":   hubTool(d, loungeRead),
		"lounge_clear":  hubTool(d, loungeClear),

		"vote_propose": hubTool(d, votePropose),
		"vote_cast":    hubTool(d, voteCast),
		"vote_tally":   hubTool(d, voteTally),
		"vote_list":    hubTool(d, voteList),

		"timer_start": hubTool(d, timerStart),
		"timer_stop":  hubTool(d, timerStop),
		"timer_list":  hubTool(d, timerList),
		"timer_due":   hubTool(d, timerDue),

		"leak_add":    hubTool(d, leakAdd),
		"leak_list":   hubTool(d, leakList),
		"leak_export": hubTool(d, leakExport),
		"leak_clear":  hubTool(d, leakClear),

		"task_add":        hubTool(d, taskAdd),
		"task_claim":      hubTool(d, taskClaim),
		"task_claim_next": hubTool(d, taskClaimNext),
		"task_update":     hubTool(d, taskUpdate),
		"task_next":       hubTool(d, taskNext),
		"task_list":       hubTool(d, taskList),

		"evidence_add":  hubTool(d, evidenceAdd),
		"evidence_list": hubTool(d, evidenceList),

		"decision_add":  hubTool(d, decisionAdd),
		"decision_get":  hubTool(d, decisionGet),
		"decision_list": hubTool(d, decisionList),

		"artifact_add":  hubTool(d, artifactAdd),
		"artifact_list": hubTool(d, artifactList),

		"risk_add":    hubTool(d, riskAdd),
		"risk_update": hubTool(d, riskUpdate),
		"risk_list":   hubTool(d, riskList),

		"budget_consume": hubTool(d, budgetConsume),
		"budget_status":  hubTool(d, budgetStatus),
		"kill":           hubTool(d, kill),
	}
}

// Lounge

type loungeAppendArgs struct {
	hubAction
	Text string `json:"text"`
}

func loungeAppend(h *hub.Hub, caller agent.Summary, in loungeAppendArgs) (any, error) {
	return h.Lounge.Append(caller.ID, in.Text)
}

func loungeRead(h *hub.Hub, _ agent.Summary, in listOnly) (any, error) {
	return collect(h.Lounge.List(in.options())), nil
}

type clearResult struct {
	Removed int `json:"removed"`
}

func loungeClear(h *hub.Hub, caller agent.Summary, _ hubAction) (any, error) {
	n, err := h.ClearLounge(caller)
	if err != nil {
		return nil, err
	}
	return clearResult{Removed: n}, nil
}

// Voting

type proposeArgs struct {
	hubAction
	Topic   string   `json:"topic"`
	Options []string `json:"options"`
}

func votePropose(h *hub.Hub, caller agent.Summary, in proposeArgs) (any, error) {
	return h.Votes.Propose(caller.ID, in.Topic, in.Options)
}

type castArgs struct {
	hubAction
	Proposal string `json:"proposal"`
	Choice   string `json:"choice"`
}

func voteCast(h *hub.Hub, caller agent.Summary, in castArgs) (any, error) {
	return h.Votes.Cast(in.Proposal, caller, in.Choice)
}

type tallyArgs struct {
	hubAction
	Proposal string `json:"proposal"`
}

type tallyResult struct {
	hub.Outcome
	Result string `json:"result"`
}

func voteTally(h *hub.Hub, _ agent.Summary, in tallyArgs) (any, error) {
	out, err := h.Votes.Tally(in.Proposal)
	if err != nil {
		return nil, err
	}
	return tallyResult{Outcome: out, Result: out.Result()}, nil
}

func voteList(h *hub.Hub, _ agent.Summary, in listOnly) (any, error) {
	return collect(h.Votes.List(in.options())), nil
}

// Timers

type timerStartArgs struct {
	hubAction
	Label string `json:"label"`
	// Duration is a Go duration string such as "90s" or "5m".
	Duration string `json:"duration"`
}

func timerStart(h *hub.Hub, caller agent.Summary, in timerStartArgs) (any, error) {
	var d time.Duration
	if in.Duration != "" {
		var err error
		if d, err = time.ParseDuration(in.Duration); err != nil {
			return nil, swarmerr.Invalid("duration: %v", err)
		}
	}
	return h.Timers.Start(caller.ID, in.Label, d)
}

func timerStop(h *hub.Hub, caller agent.Summary, in idArgs) (any, error) {
	return h.Timers.Stop(caller.ID, in.ID)
}

type timerListArgs struct {
	hubAction
	listOpts
	RunningOnly bool `json:"running_only"`
}

func timerList(h *hub.Hub, _ agent.Summary, in timerListArgs) (any, error) {
	return collect(h.Timers.List(in.options(), in.RunningOnly)), nil
}

func timerDue(h *hub.Hub, _ agent.Summary, _ hubAction) (any, error) {
	due := h.Timers.DueNow()
	if due == nil {
		due = []hub.Entry[hub.Timer]{}
	}
	return due, nil
}

// Leak tracker

type leakAddArgs struct {
	hubAction
	Fields map[string]string `json:"fields"`
}

func leakAdd(h *hub.Hub, caller agent.Summary, in leakAddArgs) (any, error) {
	return h.Leaks.Append(caller.ID, in.Fields)
}

func leakList(h *hub.Hub, _ agent.Summary, in listOnly) (any, error) {
	return collect(h.Leaks.List(in.options())), nil
}

type exportResult struct {
	Path    string   `json:"path"`
	Entries int      `json:"entries"`
	Fields  []string `json:"fields"`
}

func leakExport(h *hub.Hub, _ agent.Summary, _ hubAction) (any, error) {
	path, n, err := h.Leaks.Export()
	if err != nil {
		return nil, err
	}
	return exportResult{Path: path, Entries: n, Fields: h.Leaks.Fields()}, nil
}

func leakClear(h *hub.Hub, caller agent.Summary, _ hubAction) (any, error) {
	n, err := h.ClearLeaks(caller)
	if err != nil {
		return nil, err
	}
	return clearResult{Removed: n}, nil
}

// Tasks

type taskAddArgs struct {
	hubAction
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

func taskAdd(h *hub.Hub, caller agent.Summary, in taskAddArgs) (any, error) {
	return h.Tasks.Add(caller.ID, in.Description, in.Priority)
}

func taskClaim(h *hub.Hub, caller agent.Summary, in idArgs) (any, error) {
	return h.Tasks.Claim(caller.ID, in.ID)
}

type taskNextArgs struct {
	hubAction
	ByPriority bool `json:"by_priority"`
}

func taskClaimNext(h *hub.Hub, caller agent.Summary, in taskNextArgs) (any, error) {
	return h.Tasks.ClaimNext(caller.ID, in.ByPriority)
}

type taskUpdateArgs struct {
	hubAction
	ID     string `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

func taskUpdate(h *hub.Hub, caller agent.Summary, in taskUpdateArgs) (any, error) {
	st, err := hub.ParseTaskStatus(in.Status)
	if err != nil {
		return nil, err
	}
	return h.Tasks.Update(caller.ID, in.ID, st, in.Note)
}

func taskNext(h *hub.Hub, _ agent.Summary, in taskNextArgs) (any, error) {
	e, ok := h.Tasks.Next(in.ByPriority)
	if !ok {
		return nil, swarmerr.NotFound(hub.StoreTaskQueue, "next pending")
	}
	return e, nil
}

type taskListArgs struct {
	hubAction
	listOpts
	Status string   `json:"status"`
	Owner  agent.ID `json:"owner"`
}

func taskList(h *hub.Hub, _ agent.Summary, in taskListArgs) (any, error) {
	var st hub.TaskStatus
	if in.Status != "" {
		var err error
		if st, err = hub.ParseTaskStatus(in.Status); err != nil {
			return nil, err
		}
	}
	return collect(h.Tasks.List(in.options(), st, in.Owner)), nil
}

// Evidence

type evidenceAddArgs struct {
	hubAction
	Finding    string  `json:"finding"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

func evidenceAdd(h *hub.Hub, caller agent.Summary, in evidenceAddArgs) (any, error) {
	return h.Evidence.Append(caller.ID, hub.Evidence{Finding: in.Finding, Source: in.Source, Confidence: in.Confidence})
}

type evidenceListArgs struct {
	hubAction
	listOpts
	MinConfidence float64 `json:"min_confidence"`
}

func evidenceList(h *hub.Hub, _ agent.Summary, in evidenceListArgs) (any, error) {
	return collect(h.Evidence.List(in.options(), in.MinConfidence)), nil
}

// Decisions

type decisionAddArgs struct {
	hubAction
	DecisionID string `json:"decision_id"`
	Summary    string `json:"summary"`
	Rationale  string `json:"rationale"`
}

func decisionAdd(h *hub.Hub, caller agent.Summary, in decisionAddArgs) (any, error) {
	return h.Decisions.Append(caller.ID, hub.Decision{DecisionID: in.DecisionID, Summary: in.Summary, Rationale: in.Rationale})
}

type decisionGetArgs struct {
	hubAction
	DecisionID string `json:"decision_id"`
}

func decisionGet(h *hub.Hub, _ agent.Summary, in decisionGetArgs) (any, error) {
	if in.DecisionID == "" {
		return nil, swarmerr.Invalid("decision_id is required")
	}
	return h.Decisions.Lookup(in.DecisionID)
}

func decisionList(h *hub.Hub, _ agent.Summary, in listOnly) (any, error) {
	return collect(h.Decisions.List(in.options())), nil
}

// Artifacts

type artifactAddArgs struct {
	hubAction
	Reference   string   `json:"reference"`
	Location    string   `json:"location"`
	Extractor   agent.ID `json:"extractor"`
	Description string   `json:"description"`
}

func artifactAdd(h *hub.Hub, caller agent.Summary, in artifactAddArgs) (any, error) {
	return h.Artifacts.Append(caller.ID, hub.Artifact{
		Reference:   in.Reference,
		Location:    in.Location,
		Extractor:   in.Extractor,
		Description: in.Description,
	})
}

type artifactListArgs struct {
	hubAction
	listOpts
	Extractor agent.ID `json:"extractor"`
}

func artifactList(h *hub.Hub, _ agent.Summary, in artifactListArgs) (any, error) {
	return collect(h.Artifacts.List(in.options(), in.Extractor)), nil
}

// Risks

type riskAddArgs struct {
	hubAction
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Likelihood  string   `json:"likelihood"`
	Owner       agent.ID `json:"owner"`
	Mitigation  string   `json:"mitigation"`
}

func riskAdd(h *hub.Hub, caller agent.Summary, in riskAddArgs) (any, error) {
	return h.Risks.Append(caller.ID, hub.Risk{
		Description: in.Description,
		Severity:    hub.Level(in.Severity),
		Likelihood:  hub.Level(in.Likelihood),
		Owner:       in.Owner,
		Mitigation:  in.Mitigation,
	})
}

type riskUpdateArgs struct {
	hubAction
	ID         string `json:"id"`
	Severity   string `json:"severity"`
	Likelihood string `json:"likelihood"`
	Mitigation string `json:"mitigation"`
}

func riskUpdate(h *hub.Hub, caller agent.Summary, in riskUpdateArgs) (any, error) {
	return h.Risks.Update(caller.ID, in.ID, hub.RiskPatch{
		Severity:   hub.Level(in.Severity),
		Likelihood: hub.Level(in.Likelihood),
		Mitigation: in.Mitigation,
	})
}

type riskListArgs struct {
	hubAction
	listOpts
	MinSeverity string `json:"min_severity"`
}

func riskList(h *hub.Hub, _ agent.Summary, in riskListArgs) (any, error) {
	var min hub.Level
	if in.MinSeverity != "" {
		var err error
		if min, err = hub.ParseLevel(in.MinSeverity); err != nil {
			return nil, err
		}
	}
	return collect(h.Risks.List(in.options(), min)), nil
}

// Budget

type consumeArgs struct {
	hubAction
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func budgetConsume(h *hub.Hub, caller agent.Summary, in consumeArgs) (any, error) {
	return h.Budget.Consume(caller.ID, in.Amount, in.Reason)
}

func budgetStatus(h *hub.Hub, _ agent.Summary, _ hubAction) (any, error) {
	return h.Budget.Status(), nil
}

type killArgs struct {
	hubAction
	Reason string `json:"reason"`
}

func kill(h *hub.Hub, caller agent.Summary, in killArgs) (any, error) {
	return h.Kill(caller.ID, in.Reason), nil
}
