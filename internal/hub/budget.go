package hub

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Charge is one successful consume.
type Charge struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	Remaining int64  `json:"remaining"`
}

// Clone implements Record.
func (c Charge) Clone() Charge { return c }

// BudgetStatus is a point-in-time view of the guard.
type BudgetStatus struct {
	Limit      int64     `json:"limit"`
	Spent      int64     `json:"spent"`
	Remaining  int64     `json:"remaining"`
	Killed     bool      `json:"killed"`
	KilledBy   agent.ID  `json:"killed_by,omitempty"`
	KilledAt   time.Time `json:"killed_at"`
	KillReason string    `json:"kill_reason,omitempty"`
}

// BudgetGuard holds the session budget counter and the kill switch. The
// counter and kill metadata are guarded by the charge store's lock.
type BudgetGuard struct {
	store *Store[Charge]
	halt  *Switch

	limit      int64
	spent      int64
	killed     bool
	killedBy   agent.ID
	killedAt   time.Time
	killReason string
}

func newBudgetGuard(halt *Switch, c clock.Clock, limit int64) *BudgetGuard {
	b := &BudgetGuard{
		store: NewStore[Charge](Policy{Name: StoreBudgetGuard}, halt, c),
		halt:  halt,
		limit: limit,
	}
	observability.SetBudgetRemaining(limit)
	return b
}

// Consume charges amount against the budget. A charge larger than what is
// left fails with ErrBudgetExhausted and charges nothing.
func (b *BudgetGuard) Consume(author agent.ID, amount int64, reason string) (Entry[Charge], error) {
	if amount <= 0 {
		return Entry[Charge]{}, swarmerr.Invalid("consume amount must be positive, got %d", amount)
	}
	var out Entry[Charge]
	err := b.store.Update(func(tx *Txn[Charge]) error {
		remaining := b.limit - b.spent
		if remaining <= 0 || amount > remaining {
			return fmt.Errorf("%w: %d requested, %d remaining", swarmerr.ErrBudgetExhausted, amount, max(remaining, 0))
		}
		b.spent += amount
		out = tx.Append(author, Charge{Amount: amount, Reason: strings.TrimSpace(reason), Remaining: b.limit - b.spent})
		observability.SetBudgetRemaining(b.limit - b.spent)
		return nil
	})
	return out, err
}

// Kill trips the session kill switch. It is irreversible; repeated calls
// return the original status and report false.
func (b *BudgetGuard) Kill(caller agent.ID, reason string) (BudgetStatus, bool) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.killed {
		return b.statusLocked(), false
	}
	b.killed = true
	b.killedBy = caller
	b.killedAt = b.store.now()
	b.killReason = strings.TrimSpace(reason)
	b.halt.Halt()
	return b.statusLocked(), true
}

// Status reports the counter and kill state.
func (b *BudgetGuard) Status() BudgetStatus {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	return b.statusLocked()
}

func (b *BudgetGuard) statusLocked() BudgetStatus {
	return BudgetStatus{
		Limit:      b.limit,
		Spent:      b.spent,
		Remaining:  max(b.limit-b.spent, 0),
		Killed:     b.killed,
		KilledBy:   b.killedBy,
		KilledAt:   b.killedAt,
		KillReason: b.killReason,
	}
}

// Charges yields the recorded charges.
func (b *BudgetGuard) Charges(opts ListOptions) iter.Seq[Entry[Charge]] {
	return b.store.List(opts, nil)
}

// budgetState is the persisted form of the guard.
type budgetState struct {
	Entries    []Entry[Charge] `json:"entries"`
	Limit      int64           `json:"limit"`
	Spent      int64           `json:"spent"`
	Killed     bool            `json:"killed"`
	KilledBy   agent.ID        `json:"killed_by,omitempty"`
	KilledAt   time.Time       `json:"killed_at"`
	KillReason string          `json:"kill_reason,omitempty"`
}

// Name returns the store name.
func (b *BudgetGuard) Name() string { return b.store.Name() }

func (b *BudgetGuard) rlock()   { b.store.rlock() }
func (b *BudgetGuard) runlock() { b.store.runlock() }

func (b *BudgetGuard) encodeLocked() (codec.RawMessage, error) {
	return codec.Marshal(budgetState{
		Entries:    b.store.snapshotLocked(),
		Limit:      b.limit,
		Spent:      b.spent,
		Killed:     b.killed,
		KilledBy:   b.killedBy,
		KilledAt:   b.killedAt,
		KillReason: b.killReason,
	})
}

// decode restores the guard. A missing state keeps the configured limit;
// a killed state trips the switch again.
func (b *BudgetGuard) decode(raw codec.RawMessage) error {
	var st budgetState
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("decode %s: %w", StoreBudgetGuard, err)
		}
		if st.Limit <= 0 || st.Spent < 0 {
			return swarmerr.Invalid("%s: limit %d spent %d", StoreBudgetGuard, st.Limit, st.Spent)
		}
	}
	if err := b.store.load(st.Entries); err != nil {
		return err
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if len(raw) > 0 {
		b.limit = st.Limit
		b.spent = st.Spent
		b.killed = st.Killed
		b.killedBy = st.KilledBy
		b.killedAt = st.KilledAt
		b.killReason = st.KillReason
	}
	if b.killed {
		b.halt.Halt()
	}
	observability.SetBudgetRemaining(max(b.limit-b.spent, 0))
	return nil
}

// Close makes the guard reject further consumes.
func (b *BudgetGuard) Close() { b.store.Close() }
