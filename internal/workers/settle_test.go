package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/ledger"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
)

// fakeLedger keeps accounts in memory and records applied transactions,
// enforcing the same duplicate-reference rule as the real store.
type fakeLedger struct {
	accounts map[string]*ledger.Account
	applied  [][]ledger.Entry
	seenRefs map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[string]*ledger.Account{},
		seenRefs: map[string]bool{},
	}
}

func acctKey(userID, currency string, typ ledger.AccountType) string {
	return fmt.Sprintf("%s/%s/%s", userID, currency, typ)
}

func (f *fakeLedger) EnsureAccount(_ context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error) {
	key := acctKey(userID, currency, typ)
	if a, ok := f.accounts[key]; ok {
		return a, nil
	}
	a := &ledger.Account{ID: key, UserID: userID, Currency: currency, Type: typ}
	f.accounts[key] = a
	return a, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error) {
	a, ok := f.accounts[acctKey(userID, currency, typ)]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeLedger) ApplyTransaction(_ context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		ref := fmt.Sprintf("%s/%s/%s", e.AccountID, e.ReferenceID, e.Kind)
		if e.ReferenceID != "" && f.seenRefs[ref] {
			return ledger.ErrDuplicateReference
		}
	}
	for _, e := range entries {
		ref := fmt.Sprintf("%s/%s/%s", e.AccountID, e.ReferenceID, e.Kind)
		if e.ReferenceID != "" {
			f.seenRefs[ref] = true
		}
		f.accounts[e.AccountID].Balance += e.Amount
	}
	f.applied = append(f.applied, entries)
	return nil
}

func (f *fakeLedger) seed(t *testing.T, userID string, typ ledger.AccountType, balance int64) {
	t.Helper()
	a, err := f.EnsureAccount(context.Background(), userID, "USD", typ)
	require.NoError(t, err)
	a.Balance = balance
}

func settleJob(t *testing.T, payload room.SettleHandJob) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{ID: "job-1", Name: queue.JobSettleHand, Payload: raw}
}

func TestSettler_WritesWinLossAndRakeEntries(t *testing.T) {
	fl := newFakeLedger()
	fl.seed(t, "alice", ledger.TypeInPlay, 200)
	fl.seed(t, "bob", ledger.TypeInPlay, 200)
	s := NewSettler(fl, "house", "USD", zap.NewNop())

	err := s.HandleSettleHand(context.Background(), settleJob(t, room.SettleHandJob{
		TableID: "tbl-1",
		HandID:  "hand-1",
		Deltas:  map[string]int64{"alice": 94, "bob": -100},
		Rake:    6,
	}))
	require.NoError(t, err)

	alice, _ := fl.GetAccount(context.Background(), "alice", "USD", ledger.TypeInPlay)
	bob, _ := fl.GetAccount(context.Background(), "bob", "USD", ledger.TypeInPlay)
	house, _ := fl.GetAccount(context.Background(), "house", "USD", ledger.TypeMain)
	assert.Equal(t, int64(294), alice.Balance)
	assert.Equal(t, int64(100), bob.Balance)
	assert.Equal(t, int64(6), house.Balance)

	require.Len(t, fl.applied, 1)
	kinds := map[ledger.Kind]int{}
	for _, e := range fl.applied[0] {
		kinds[e.Kind]++
		assert.Equal(t, "hand-1", e.ReferenceID)
	}
	assert.Equal(t, 1, kinds[ledger.KindHandWin])
	assert.Equal(t, 1, kinds[ledger.KindHandLoss])
	assert.Equal(t, 1, kinds[ledger.KindRake])
}

func TestSettler_ReplayIsIdempotent(t *testing.T) {
	fl := newFakeLedger()
	fl.seed(t, "alice", ledger.TypeInPlay, 200)
	fl.seed(t, "bob", ledger.TypeInPlay, 200)
	s := NewSettler(fl, "house", "USD", zap.NewNop())

	job := settleJob(t, room.SettleHandJob{
		TableID: "tbl-1",
		HandID:  "hand-1",
		Deltas:  map[string]int64{"alice": 50, "bob": -50},
	})
	require.NoError(t, s.HandleSettleHand(context.Background(), job))
	require.NoError(t, s.HandleSettleHand(context.Background(), job))

	alice, _ := fl.GetAccount(context.Background(), "alice", "USD", ledger.TypeInPlay)
	assert.Equal(t, int64(250), alice.Balance)
	assert.Len(t, fl.applied, 1)
}

func TestSettler_SkipsPlayerWhoseBalanceWouldGoNegative(t *testing.T) {
	fl := newFakeLedger()
	fl.seed(t, "alice", ledger.TypeInPlay, 200)
	fl.seed(t, "broke", ledger.TypeInPlay, 10)
	s := NewSettler(fl, "house", "USD", zap.NewNop())

	err := s.HandleSettleHand(context.Background(), settleJob(t, room.SettleHandJob{
		TableID: "tbl-1",
		HandID:  "hand-2",
		Deltas:  map[string]int64{"alice": 50, "broke": -50},
	}))
	require.NoError(t, err)

	broke, _ := fl.GetAccount(context.Background(), "broke", "USD", ledger.TypeInPlay)
	alice, _ := fl.GetAccount(context.Background(), "alice", "USD", ledger.TypeInPlay)
	assert.Equal(t, int64(10), broke.Balance)
	assert.Equal(t, int64(250), alice.Balance)
}

func TestSettler_SkipsUnknownAccount(t *testing.T) {
	fl := newFakeLedger()
	fl.seed(t, "alice", ledger.TypeInPlay, 200)
	s := NewSettler(fl, "house", "USD", zap.NewNop())

	err := s.HandleSettleHand(context.Background(), settleJob(t, room.SettleHandJob{
		TableID: "tbl-1",
		HandID:  "hand-3",
		Deltas:  map[string]int64{"alice": 20, "ghost": -20},
	}))
	require.NoError(t, err)

	alice, _ := fl.GetAccount(context.Background(), "alice", "USD", ledger.TypeInPlay)
	assert.Equal(t, int64(220), alice.Balance)
}

func TestSettler_NoEntriesForEmptyHand(t *testing.T) {
	fl := newFakeLedger()
	s := NewSettler(fl, "house", "USD", zap.NewNop())

	err := s.HandleSettleHand(context.Background(), settleJob(t, room.SettleHandJob{
		TableID: "tbl-1",
		HandID:  "hand-4",
		Deltas:  map[string]int64{},
	}))
	require.NoError(t, err)
	assert.Empty(t, fl.applied)
}
