// Package ledger is the append-only double-entry money store. Every balance
// change is a row in ledger_entries; accounts carry a cached balance updated
// in the same transaction. Entries are immutable once written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Kind classifies an entry. Guarded kinds refuse to drive a balance below
// zero; the rest may overdraw (settlement corrections, reconciliation).
type Kind string

const (
	KindDeposit    Kind = "DEPOSIT"
	KindWithdrawal Kind = "WITHDRAWAL"
	KindBuyIn      Kind = "BUY_IN"
	KindCashOut    Kind = "CASH_OUT"
	KindHandWin    Kind = "HAND_WIN"
	KindHandLoss   Kind = "HAND_LOSS"
	KindRake       Kind = "RAKE"
	KindRefund     Kind = "REFUND"
)

var guardedKinds = map[Kind]bool{
	KindBuyIn:      true,
	KindCashOut:    true,
	KindWithdrawal: true,
}

// AccountType separates withdrawable funds from chips committed to tables.
type AccountType string

const (
	TypeMain   AccountType = "MAIN"
	TypeInPlay AccountType = "IN_PLAY"
)

type Account struct {
	ID       string
	UserID   string
	Currency string
	Type     AccountType
	Balance  int64
}

// Entry is one leg of a transaction. Amount is signed; positive credits the
// account.
type Entry struct {
	AccountID   string
	Amount      int64
	Kind        Kind
	ReferenceID string
	Description string
}

var (
	ErrAccountNotFound    = errors.New("ledger: account not found")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrDuplicateReference = errors.New("ledger: duplicate reference")
)

const pgUniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	sb   sq.StatementBuilderType
}

func NewStore(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{
		pool: pool,
		log:  log,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id     TEXT        NOT NULL,
    currency    TEXT        NOT NULL,
    type        TEXT        NOT NULL,
    balance     BIGINT      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, currency, type)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id           BIGSERIAL PRIMARY KEY,
    account_id   UUID        NOT NULL REFERENCES accounts(id),
    amount       BIGINT      NOT NULL,
    kind         TEXT        NOT NULL,
    reference_id TEXT,
    description  TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_account_ref_kind
    ON ledger_entries (account_id, reference_id, kind)
    WHERE reference_id IS NOT NULL AND reference_id <> '';

CREATE INDEX IF NOT EXISTS ledger_entries_account_created
    ON ledger_entries (account_id, created_at);
`

// EnsureSchema creates the tables on first boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// EnsureAccount creates the account if missing and returns it either way.
func (s *Store) EnsureAccount(ctx context.Context, userID, currency string, typ AccountType) (*Account, error) {
	insert, args, err := s.sb.Insert("accounts").
		Columns("user_id", "currency", "type").
		Values(userID, currency, string(typ)).
		Suffix("ON CONFLICT (user_id, currency, type) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build account insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insert, args...); err != nil {
		return nil, fmt.Errorf("ensure account %s/%s/%s: %w", userID, currency, typ, err)
	}
	return s.GetAccount(ctx, userID, currency, typ)
}

// GetAccount looks up the account by its natural key.
func (s *Store) GetAccount(ctx context.Context, userID, currency string, typ AccountType) (*Account, error) {
	query, args, err := s.sb.Select("id", "user_id", "currency", "type", "balance").
		From("accounts").
		Where(sq.Eq{"user_id": userID, "currency": currency, "type": string(typ)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build account select: %w", err)
	}
	var a Account
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&a.ID, &a.UserID, &a.Currency, &a.Type, &a.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &a, nil
}

// Balance returns the cached balance for an account id.
func (s *Store) Balance(ctx context.Context, accountID string) (int64, error) {
	query, args, err := s.sb.Select("balance").From("accounts").
		Where(sq.Eq{"id": accountID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build balance select: %w", err)
	}
	var bal int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return bal, nil
}

// ApplyTransaction writes a set of entries atomically: locks every touched
// account in a stable order, enforces the non-negative guard for guarded
// kinds, appends the entries and updates the cached balances. A unique
// (account, reference, kind) collision maps to ErrDuplicateReference so
// replays are detectable.
//
// Entries spanning two accounts of the same currency should sum to zero;
// single-leg entries (house rake income, deposits from outside) are allowed.
func (s *Store) ApplyTransaction(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	deltas := make(map[string]int64, len(entries))
	for _, e := range entries {
		deltas[e.AccountID] += e.Amount
	}
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		query, args, err := s.sb.Select("balance").From("accounts").
			Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
		if err != nil {
			return fmt.Errorf("build lock select: %w", err)
		}
		var bal int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&bal); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
			}
			return fmt.Errorf("lock account %s: %w", id, err)
		}
		balances[id] = bal
	}

	for _, e := range entries {
		next := balances[e.AccountID] + e.Amount
		if e.Amount < 0 && guardedKinds[e.Kind] && next < 0 {
			return fmt.Errorf("%w: account %s %s would reach %d",
				ErrInsufficientFunds, e.AccountID, e.Kind, next)
		}
		balances[e.AccountID] = next
	}

	insert := s.sb.Insert("ledger_entries").
		Columns("account_id", "amount", "kind", "reference_id", "description")
	for _, e := range entries {
		insert = insert.Values(e.AccountID, e.Amount, string(e.Kind), e.ReferenceID, e.Description)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build entries insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, pgErr.Detail)
		}
		return fmt.Errorf("insert ledger entries: %w", err)
	}

	for _, id := range ids {
		update, args, err := s.sb.Update("accounts").
			Set("balance", sq.Expr("balance + ?", deltas[id])).
			Set("updated_at", sq.Expr("now()")).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build balance update: %w", err)
		}
		if _, err := tx.Exec(ctx, update, args...); err != nil {
			return fmt.Errorf("update balance %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Entries returns the most recent entries for an account, newest first.
func (s *Store) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := s.sb.Select("account_id", "amount", "kind",
		"COALESCE(reference_id, '')", "COALESCE(description, '')").
		From("ledger_entries").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entries select: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AccountID, &e.Amount, &e.Kind, &e.ReferenceID, &e.Description); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
