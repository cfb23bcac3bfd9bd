package hub

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

func TestTally(t *testing.T) {
	tests := []struct {
		name      string
		votes     []agent.Summary
		choices   []string
		consensus bool
		result    string
		totals    map[string]int
	}{
		{
			name:    "tier weight ties two lower votes",
			votes:   []agent.Summary{scholar, scout, scribe},
			choices: []string{"A", "B", "B"},
			result:  NoConsensus,
			totals:  map[string]int{"A": 2, "B": 2},
		},
		{
			name:      "weighted majority wins",
			votes:     []agent.Summary{scholar, scribe, scout},
			choices:   []string{"A", "A", "B"},
			consensus: true,
			result:    "A",
			totals:    map[string]int{"A": 3, "B": 1},
		},
		{
			name:    "tiers above the top weighted tier keep its weight",
			votes:   []agent.Summary{{ID: "oracle", Role: "Oracle", Tier: 3}, scout, scribe},
			choices: []string{"A", "B", "B"},
			result:  NoConsensus,
			totals:  map[string]int{"A": 2, "B": 2},
		},
		{
			name:   "no ballots",
			result: NoConsensus,
			totals: map[string]int{"A": 0, "B": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t)
			prop, err := h.Votes.Propose(root.ID, "pick", []string{"A", "B"})
			require.NoError(t, err)
			for i, voter := range tt.votes {
				_, err := h.Votes.Cast(prop.ID, voter, tt.choices[i])
				require.NoError(t, err)
			}

			out, err := h.Votes.Tally(prop.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.consensus, out.Consensus)
			assert.Equal(t, tt.result, out.Result())
			assert.Equal(t, tt.totals, out.Totals)
			assert.Equal(t, len(tt.votes), out.Voters)
		})
	}
}

func TestTallyIsDeterministic(t *testing.T) {
	h := newTestHub(t)
	prop, err := h.Votes.Propose(root.ID, "pick", nil)
	require.NoError(t, err)
	for _, v := range []struct {
		voter  agent.Summary
		choice string
	}{{scout, "x"}, {scribe, "y"}, {scholar, "z"}} {
		_, err := h.Votes.Cast(prop.ID, v.voter, v.choice)
		require.NoError(t, err)
	}

	first, err := h.Votes.Tally(prop.ID)
	require.NoError(t, err)
	for range 50 {
		again, err := h.Votes.Tally(prop.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "z", first.Result())
}

func TestVoteRecastOverwrites(t *testing.T) {
	h := newTestHub(t)
	prop, err := h.Votes.Propose(root.ID, "pick", []string{"A", "B"})
	require.NoError(t, err)

	_, err = h.Votes.Cast(prop.ID, scholar, "A")
	require.NoError(t, err)
	e, err := h.Votes.Cast(prop.ID, scholar, "b")
	require.NoError(t, err)
	assert.Len(t, e.Record.Ballots, 1)
	assert.Equal(t, "B", e.Record.Ballots[scholar.ID].Choice, "choice is normalized to the option spelling")
	assert.Equal(t, 2, e.Record.Ballots[scholar.ID].Weight)

	_, err = h.Votes.Cast(prop.ID, scholar, "C")
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = h.Votes.Cast("missing", scholar, "A")
	assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
}

func TestProposeValidation(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Votes.Propose(root.ID, "  ", nil)
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = h.Votes.Propose(root.ID, "pick", []string{"A", " A "})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	e, err := h.Votes.Propose(root.ID, "pick", []string{" A", "B ", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, e.Record.Options)
}

func TestTimerDue(t *testing.T) {
	h := newTestHub(t)
	long, err := h.Timers.Start(scribe.ID, "long", time.Hour)
	require.NoError(t, err)
	short, err := h.Timers.Start(scribe.ID, "short", time.Minute)
	require.NoError(t, err)
	_, err = h.Timers.Start(scribe.ID, "no reminder", 0)
	require.NoError(t, err)

	assert.Equal(t, testStart.Add(time.Minute), short.Record.RemindAt)
	assert.Empty(t, h.Timers.Due(h.clock.Now()))

	h.clock.Advance(2 * time.Hour)
	due := h.Timers.Due(h.clock.Now())
	assert.Equal(t, []string{short.ID, long.ID}, []string{due[0].ID, due[1].ID})
	assert.Len(t, h.Timers.Due(h.clock.Now()), 2, "due is a pure read")

	stopped, err := h.Timers.Stop(root.ID, short.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, stopped.Record.StoppedBy)
	assert.False(t, stopped.Record.Running())
	assert.Len(t, h.Timers.Due(h.clock.Now()), 1)
	assert.Len(t, slices.Collect(h.Timers.List(ListOptions{}, true)), 2)

	_, err = h.Timers.Stop(root.ID, short.ID)
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = h.Timers.Start(root.ID, "neg", -time.Second)
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
}

func TestLoungeRing(t *testing.T) {
	h := newTestHub(t)
	small := newLoungeStore(&Switch{}, h.clock, 3)
	for i := range 5 {
		_, err := small.Append(scout.ID, strings.Repeat("x", i+1))
		require.NoError(t, err)
	}
	var texts []string
	for e := range small.List(ListOptions{NewestFirst: true, Limit: 2}) {
		texts = append(texts, e.Record.Text)
	}
	assert.Equal(t, []string{"xxxxx", "xxxx"}, texts)
	assert.Equal(t, 3, small.store.Len())

	_, err := small.Append(scout.ID, " ")
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = small.Append(scout.ID, strings.Repeat("x", maxNoteLength+1))
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
}

func TestLeakFieldValidation(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Leaks.Append(scout.ID, map[string]string{"password": "x"})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = h.Leaks.Append(scout.ID, map[string]string{"label": " "})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
	_, err = h.Leaks.Append(scout.ID, nil)
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)
}

func TestTaskLifecycle(t *testing.T) {
	h := newTestHub(t)
	task, err := h.Tasks.Add(root.ID, "index corpus", 1)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Record.Status)

	claimed, err := h.Tasks.Claim(scribe.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskClaimed, claimed.Record.Status)
	assert.Equal(t, scribe.ID, claimed.Record.Owner)

	_, err = h.Tasks.Claim(scout.ID, task.ID)
	var cerr *swarmerr.ClaimError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, string(scribe.ID), cerr.Owner)
	assert.ErrorIs(t, err, swarmerr.ErrAlreadyClaimed)

	_, err = h.Tasks.Update(scout.ID, task.ID, TaskInProgress, "")
	assert.ErrorIs(t, err, swarmerr.ErrPermissionDenied)
	_, err = h.Tasks.Update(scribe.ID, task.ID, TaskDone, "")
	assert.ErrorIs(t, err, swarmerr.ErrInvalidTransition)

	_, err = h.Tasks.Update(scribe.ID, task.ID, TaskInProgress, "started")
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	done, err := h.Tasks.Update(scribe.ID, task.ID, TaskDone, "")
	require.NoError(t, err)
	assert.Equal(t, TaskDone, done.Record.Status)
	assert.Equal(t, "started", done.Record.Note)
	assert.Equal(t, testStart.Add(time.Minute), done.Record.FinishedAt)

	_, err = h.Tasks.Update(scribe.ID, task.ID, TaskFailed, "")
	assert.ErrorIs(t, err, swarmerr.ErrInvalidTransition)
}

func TestTaskNext(t *testing.T) {
	h := newTestHub(t)
	low, err := h.Tasks.Add(root.ID, "low", 1)
	require.NoError(t, err)
	highA, err := h.Tasks.Add(root.ID, "high a", 5)
	require.NoError(t, err)
	highB, err := h.Tasks.Add(root.ID, "high b", 5)
	require.NoError(t, err)

	next, ok := h.Tasks.Next(false)
	require.True(t, ok)
	assert.Equal(t, low.ID, next.ID)

	next, ok = h.Tasks.Next(true)
	require.True(t, ok)
	assert.Equal(t, highA.ID, next.ID, "ties break by creation order")

	first, err := h.Tasks.ClaimNext(scribe.ID, true)
	require.NoError(t, err)
	assert.Equal(t, highA.ID, first.ID)
	second, err := h.Tasks.ClaimNext(scout.ID, true)
	require.NoError(t, err)
	assert.Equal(t, highB.ID, second.ID)
	third, err := h.Tasks.ClaimNext(scout.ID, true)
	require.NoError(t, err)
	assert.Equal(t, low.ID, third.ID)

	_, err = h.Tasks.ClaimNext(scout.ID, true)
	assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
	_, ok = h.Tasks.Next(true)
	assert.False(t, ok)

	assert.Len(t, slices.Collect(h.Tasks.List(ListOptions{}, TaskClaimed, scout.ID)), 2)
}

func TestClaimNextConcurrent(t *testing.T) {
	h := newTestHub(t)
	const tasks = 20
	for i := range tasks {
		_, err := h.Tasks.Add(root.ID, "t", i%3)
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]bool)
	)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := h.Tasks.ClaimNext(agent.ID(rune('a'+w)), true)
				if errors.Is(err, swarmerr.ErrRecordNotFound) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, claimed[e.ID], "task claimed twice")
				claimed[e.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, claimed, tasks)
}

func TestEvidenceConfidence(t *testing.T) {
	h := newTestHub(t)
	for _, c := range []float64{-0.1, 1.1} {
		_, err := h.Evidence.Append(scout.ID, Evidence{Finding: "f", Confidence: c})
		assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument, c)
	}
	_, err := h.Evidence.Append(scout.ID, Evidence{Finding: "low", Confidence: 0})
	require.NoError(t, err)
	high, err := h.Evidence.Append(scout.ID, Evidence{Finding: "high", Confidence: 1})
	require.NoError(t, err)

	got := slices.Collect(h.Evidence.List(ListOptions{}, 0.5))
	require.Len(t, got, 1)
	assert.Equal(t, high.ID, got[0].ID)

	_, err = h.Evidence.store.Mutate(high.ID, func(Entry[Evidence], *Evidence) error { return nil })
	assert.ErrorIs(t, err, swarmerr.ErrImmutableRecord)
}

func TestDecisionLog(t *testing.T) {
	h := newTestHub(t)
	d, err := h.Decisions.Append(root.ID, Decision{DecisionID: "D-1", Summary: "use cbor", Rationale: "deterministic"})
	require.NoError(t, err)

	_, err = h.Decisions.Append(scribe.ID, Decision{DecisionID: "D-1", Summary: "again"})
	assert.ErrorIs(t, err, swarmerr.ErrDuplicateRecord)
	_, err = h.Decisions.Append(scribe.ID, Decision{Summary: "anonymous"})
	require.NoError(t, err)
	_, err = h.Decisions.Append(scribe.ID, Decision{})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	got, err := h.Decisions.Lookup("D-1")
	require.NoError(t, err)
	assert.Equal(t, d, got)
	_, err = h.Decisions.Lookup("D-2")
	assert.ErrorIs(t, err, swarmerr.ErrRecordNotFound)
}

func TestArtifactIndex(t *testing.T) {
	h := newTestHub(t)
	a, err := h.Artifacts.Append(scout.ID, Artifact{Reference: "report.md", Location: "/work/report.md"})
	require.NoError(t, err)
	assert.Equal(t, scout.ID, a.Record.Extractor)

	_, err = h.Artifacts.Append(root.ID, Artifact{Reference: "x.bin", Location: "/work/x.bin", Extractor: scribe.ID})
	require.NoError(t, err)
	_, err = h.Artifacts.Append(root.ID, Artifact{Reference: "x"})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	assert.Len(t, slices.Collect(h.Artifacts.List(ListOptions{}, scribe.ID)), 1)
	assert.Len(t, slices.Collect(h.Artifacts.List(ListOptions{Author: root.ID}, "")), 1)
}

func TestRiskOwnerUpdates(t *testing.T) {
	h := newTestHub(t)
	r, err := h.Risks.Append(scribe.ID, Risk{Description: "rate limits", Severity: "Medium", Likelihood: "low"})
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, r.Record.Severity)
	assert.Equal(t, scribe.ID, r.Record.Owner)

	_, err = h.Risks.Update(scout.ID, r.ID, RiskPatch{Severity: LevelHigh})
	assert.ErrorIs(t, err, swarmerr.ErrPermissionDenied)
	_, err = h.Risks.Update(scribe.ID, r.ID, RiskPatch{Severity: "extreme"})
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	updated, err := h.Risks.Update(scribe.ID, r.ID, RiskPatch{Severity: "critical", Mitigation: "backoff"})
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, updated.Record.Severity)
	assert.Equal(t, LevelLow, updated.Record.Likelihood)
	assert.Equal(t, "backoff", updated.Record.Mitigation)

	_, err = h.Risks.Append(scribe.ID, Risk{Description: "minor", Severity: "low", Likelihood: "low"})
	require.NoError(t, err)
	assert.Len(t, slices.Collect(h.Risks.List(ListOptions{}, LevelHigh)), 1)
	assert.Len(t, slices.Collect(h.Risks.List(ListOptions{}, "")), 2)
}

func TestBudgetConsume(t *testing.T) {
	h := newTestHub(t)

	c, err := h.Budget.Consume(scout.ID, 60, "search")
	require.NoError(t, err)
	assert.Equal(t, int64(40), c.Record.Remaining)

	_, err = h.Budget.Consume(scout.ID, 41, "too much")
	assert.ErrorIs(t, err, swarmerr.ErrBudgetExhausted)
	assert.Equal(t, int64(40), h.Budget.Status().Remaining, "rejected consume charges nothing")

	_, err = h.Budget.Consume(scout.ID, 40, "rest")
	require.NoError(t, err)
	_, err = h.Budget.Consume(scout.ID, 1, "")
	assert.ErrorIs(t, err, swarmerr.ErrBudgetExhausted)

	_, err = h.Budget.Consume(scout.ID, 0, "")
	assert.ErrorIs(t, err, swarmerr.ErrInvalidArgument)

	st := h.Budget.Status()
	assert.Equal(t, BudgetStatus{Limit: 100, Spent: 100}, st)
	assert.False(t, h.Halted(), "exhaustion does not trip the kill switch")
	assert.Len(t, slices.Collect(h.Budget.Charges(ListOptions{})), 2)
}
