// Package funds moves money between a player's withdrawable MAIN account and
// the IN_PLAY account that mirrors chips on the felt. All movement goes
// through the ledger so both legs commit or neither does.
package funds

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/ledger"
)

var (
	ErrInvalidAmount     = errors.New("funds: amount must be positive")
	ErrInsufficientFunds = errors.New("funds: insufficient funds")
)

// Ledger is the slice of the ledger store the manager needs. Satisfied by
// *ledger.Store; tests substitute a fake.
type Ledger interface {
	EnsureAccount(ctx context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error)
	GetAccount(ctx context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error)
	ApplyTransaction(ctx context.Context, entries []ledger.Entry) error
}

type Manager struct {
	ledger   Ledger
	currency string
	log      *zap.Logger
}

// transferRef builds a per-movement reference id. Both legs of one transfer
// share it; distinct transfers never collide, so the ledger's uniqueness
// index only rejects true replays of a single movement.
func transferRef(op, tableID string) string {
	return op + ":" + tableID + ":" + uuid.NewString()
}

func NewManager(l Ledger, currency string, log *zap.Logger) *Manager {
	return &Manager{ledger: l, currency: currency, log: log}
}

// EnsureAccounts creates the MAIN and IN_PLAY pair for a user.
func (m *Manager) EnsureAccounts(ctx context.Context, userID string) error {
	if _, err := m.ledger.EnsureAccount(ctx, userID, m.currency, ledger.TypeMain); err != nil {
		return fmt.Errorf("ensure main account: %w", err)
	}
	if _, err := m.ledger.EnsureAccount(ctx, userID, m.currency, ledger.TypeInPlay); err != nil {
		return fmt.Errorf("ensure in-play account: %w", err)
	}
	return nil
}

// Balances returns the user's MAIN and IN_PLAY balances.
func (m *Manager) Balances(ctx context.Context, userID string) (main, inPlay int64, err error) {
	ma, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeMain)
	if err != nil {
		return 0, 0, err
	}
	ip, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeInPlay)
	if err != nil {
		return 0, 0, err
	}
	return ma.Balance, ip.Balance, nil
}

// BuyIn moves amount from MAIN to IN_PLAY. Each movement carries its own
// reference: players re-buy at the same table, so the reference must be
// unique per transfer, not per table. Fails with ErrInsufficientFunds when
// MAIN cannot cover it.
func (m *Manager) BuyIn(ctx context.Context, userID, tableID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := m.EnsureAccounts(ctx, userID); err != nil {
		return err
	}
	main, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeMain)
	if err != nil {
		return err
	}
	inPlay, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeInPlay)
	if err != nil {
		return err
	}
	ref := transferRef("buyin", tableID)
	err = m.ledger.ApplyTransaction(ctx, []ledger.Entry{
		{AccountID: main.ID, Amount: -amount, Kind: ledger.KindBuyIn, ReferenceID: ref,
			Description: "buy-in to table " + tableID},
		{AccountID: inPlay.ID, Amount: amount, Kind: ledger.KindBuyIn, ReferenceID: ref,
			Description: "buy-in to table " + tableID},
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: buy-in %d for %s", ErrInsufficientFunds, amount, userID)
	}
	return err
}

// CashOut moves amount from IN_PLAY back to MAIN when a player leaves a
// table with chips.
func (m *Manager) CashOut(ctx context.Context, userID, tableID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	main, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeMain)
	if err != nil {
		return err
	}
	inPlay, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeInPlay)
	if err != nil {
		return err
	}
	ref := transferRef("cashout", tableID)
	err = m.ledger.ApplyTransaction(ctx, []ledger.Entry{
		{AccountID: inPlay.ID, Amount: -amount, Kind: ledger.KindCashOut, ReferenceID: ref,
			Description: "cash-out from table " + tableID},
		{AccountID: main.ID, Amount: amount, Kind: ledger.KindCashOut, ReferenceID: ref,
			Description: "cash-out from table " + tableID},
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: cash-out %d for %s", ErrInsufficientFunds, amount, userID)
	}
	return err
}

// Deposit credits MAIN from an external source.
func (m *Manager) Deposit(ctx context.Context, userID, referenceID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	main, err := m.ledger.EnsureAccount(ctx, userID, m.currency, ledger.TypeMain)
	if err != nil {
		return err
	}
	return m.ledger.ApplyTransaction(ctx, []ledger.Entry{
		{AccountID: main.ID, Amount: amount, Kind: ledger.KindDeposit, ReferenceID: referenceID},
	})
}

// Withdraw debits MAIN for an external payout. Guarded: cannot overdraw.
func (m *Manager) Withdraw(ctx context.Context, userID, referenceID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	main, err := m.ledger.GetAccount(ctx, userID, m.currency, ledger.TypeMain)
	if err != nil {
		return err
	}
	err = m.ledger.ApplyTransaction(ctx, []ledger.Entry{
		{AccountID: main.ID, Amount: -amount, Kind: ledger.KindWithdrawal, ReferenceID: referenceID},
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: withdraw %d for %s", ErrInsufficientFunds, amount, userID)
	}
	return err
}
