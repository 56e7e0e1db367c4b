// Package workers holds the asynchronous job handlers that run behind the
// orchestrator: chip settlement into the ledger, write-behind persistence,
// hand archival, player timeouts and auto-deal.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/ledger"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
)

// SettleLedger is the slice of the ledger the settler needs.
type SettleLedger interface {
	EnsureAccount(ctx context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error)
	GetAccount(ctx context.Context, userID, currency string, typ ledger.AccountType) (*ledger.Account, error)
	ApplyTransaction(ctx context.Context, entries []ledger.Entry) error
}

// Settler mirrors completed hands into the ledger: one HAND_WIN or HAND_LOSS
// entry per player against IN_PLAY, plus one RAKE entry crediting the house.
type Settler struct {
	ledger      SettleLedger
	houseUserID string
	currency    string
	log         *zap.Logger
}

func NewSettler(l SettleLedger, houseUserID, currency string, log *zap.Logger) *Settler {
	return &Settler{ledger: l, houseUserID: houseUserID, currency: currency, log: log}
}

// HandleSettleHand applies one settle-hand job. Replays are absorbed by the
// ledger's (account, reference, kind) uniqueness; a player whose projected
// balance would go negative is skipped with a warning rather than failing
// the whole hand.
func (s *Settler) HandleSettleHand(ctx context.Context, job queue.Job) error {
	var payload room.SettleHandJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode settle-hand payload: %w", err)
	}

	var entries []ledger.Entry
	for playerID, delta := range payload.Deltas {
		acct, err := s.ledger.GetAccount(ctx, playerID, s.currency, ledger.TypeInPlay)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				s.log.Warn("settlement skipped: no in-play account",
					zap.String("handId", payload.HandID),
					zap.String("playerId", playerID),
					zap.Int64("delta", delta))
				continue
			}
			return fmt.Errorf("settle %s: %w", payload.HandID, err)
		}
		if delta < 0 && acct.Balance+delta < 0 {
			s.log.Warn("settlement skipped: would overdraw in-play balance",
				zap.String("handId", payload.HandID),
				zap.String("playerId", playerID),
				zap.Int64("balance", acct.Balance),
				zap.Int64("delta", delta))
			continue
		}
		kind := ledger.KindHandWin
		if delta < 0 {
			kind = ledger.KindHandLoss
		}
		entries = append(entries, ledger.Entry{
			AccountID:   acct.ID,
			Amount:      delta,
			Kind:        kind,
			ReferenceID: payload.HandID,
			Description: "hand " + payload.HandID + " at table " + payload.TableID,
		})
	}

	if payload.Rake > 0 {
		house, err := s.ledger.EnsureAccount(ctx, s.houseUserID, s.currency, ledger.TypeMain)
		if err != nil {
			return fmt.Errorf("settle %s house account: %w", payload.HandID, err)
		}
		entries = append(entries, ledger.Entry{
			AccountID:   house.ID,
			Amount:      payload.Rake,
			Kind:        ledger.KindRake,
			ReferenceID: payload.HandID,
			Description: "rake for hand " + payload.HandID,
		})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := s.ledger.ApplyTransaction(ctx, entries); err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			s.log.Debug("hand already settled", zap.String("handId", payload.HandID))
			return nil
		}
		return fmt.Errorf("settle %s: %w", payload.HandID, err)
	}
	s.log.Info("hand settled",
		zap.String("tableId", payload.TableID),
		zap.String("handId", payload.HandID),
		zap.Int("players", len(payload.Deltas)),
		zap.Int64("rake", payload.Rake))
	return nil
}
