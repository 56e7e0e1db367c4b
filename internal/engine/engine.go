// Package engine implements the no-limit hold'em rules state machine for a
// single table: seating, blinds, betting streets, side pots, showdown
// evaluation and per-hand settlement results. It is deliberately free of any
// storage or transport concern; callers restore it from a snapshot, apply one
// action, and persist the snapshot back.
package engine

import (
	"fmt"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionSit            ActionType = "SIT"
	ActionStand          ActionType = "STAND"
	ActionAddChips       ActionType = "ADD_CHIPS"
	ActionReserveSeat    ActionType = "RESERVE_SEAT"
	ActionDeal           ActionType = "DEAL"
	ActionFold           ActionType = "FOLD"
	ActionCheck          ActionType = "CHECK"
	ActionCall           ActionType = "CALL"
	ActionBet            ActionType = "BET"
	ActionRaise          ActionType = "RAISE"
	ActionShow           ActionType = "SHOW"
	ActionMuck           ActionType = "MUCK"
	ActionTimeBank       ActionType = "TIME_BANK"
	ActionTimeout        ActionType = "TIMEOUT"
	ActionNextBlindLevel ActionType = "NEXT_BLIND_LEVEL"
)

type Action struct {
	Type        ActionType `json:"type"`
	PlayerID    string     `json:"playerId,omitempty"`
	Seat        *int       `json:"seat,omitempty"`
	Amount      int64      `json:"amount,omitempty"`
	Stack       int64      `json:"stack,omitempty"`
	CardIndices []int      `json:"cardIndices,omitempty"`
}

// InvalidActionError carries a stable machine code alongside the human
// reason. The orchestrator forwards the code to clients unchanged.
type InvalidActionError struct {
	Code   string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func invalid(code, format string, args ...any) error {
	return &InvalidActionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

const (
	CodeSeatOccupied   = "SEAT_OCCUPIED"
	CodeSeatInvalid    = "SEAT_INVALID"
	CodeAlreadySeated  = "ALREADY_SEATED"
	CodeNotSeated      = "NOT_SEATED"
	CodeHandInProgress = "HAND_IN_PROGRESS"
	CodeNoHand         = "NO_HAND"
	CodeNotYourTurn    = "NOT_YOUR_TURN"
	CodeBadAmount      = "BAD_AMOUNT"
	CodeNotEnough      = "NOT_ENOUGH_PLAYERS"
	CodeBetIllegal     = "BET_ILLEGAL"
	CodeNoTimeBank     = "NO_TIME_BANK"
	CodeNotTournament  = "NOT_TOURNAMENT"
	CodeNoShowdown     = "NO_SHOWDOWN"
	CodeUnknownAction  = "UNKNOWN_ACTION"
)

// Engine wraps one table snapshot and applies actions to it.
type Engine struct {
	st *TableState
}

var defaultLadder = []BlindLevel{
	{SmallBlind: 10, BigBlind: 20},
	{SmallBlind: 15, BigBlind: 30},
	{SmallBlind: 25, BigBlind: 50},
	{SmallBlind: 50, BigBlind: 100},
	{SmallBlind: 75, BigBlind: 150},
	{SmallBlind: 100, BigBlind: 200},
	{SmallBlind: 150, BigBlind: 300},
	{SmallBlind: 200, BigBlind: 400},
	{SmallBlind: 300, BigBlind: 600},
	{SmallBlind: 500, BigBlind: 1000},
}

// New initializes a fresh table snapshot at version 0.
func New(tableID string, cfg Config) (*Engine, error) {
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = MaxSeats
	}
	if cfg.MaxPlayers > MaxSeats {
		return nil, fmt.Errorf("maxPlayers %d exceeds %d", cfg.MaxPlayers, MaxSeats)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCash
	}
	if cfg.Mode == ModeTournament && len(cfg.BlindLevels) == 0 {
		cfg.BlindLevels = append([]BlindLevel(nil), defaultLadder...)
	}
	if cfg.Mode == ModeCash {
		if cfg.SmallBlind <= 0 || cfg.BigBlind <= 0 || cfg.BigBlind < cfg.SmallBlind {
			return nil, fmt.Errorf("invalid blinds: sb=%d bb=%d", cfg.SmallBlind, cfg.BigBlind)
		}
	}
	if cfg.RakeBps < 0 || cfg.RakeBps >= 10000 {
		return nil, fmt.Errorf("invalid rakeBps %d", cfg.RakeBps)
	}
	return &Engine{st: &TableState{
		TableID:    tableID,
		Config:     cfg,
		Status:     StatusWaiting,
		ButtonSeat: -1,
	}}, nil
}

// Restore wraps an existing snapshot without copying it.
func Restore(st *TableState) *Engine {
	return &Engine{st: st}
}

// Snapshot returns the underlying snapshot. The caller owns persistence.
func (e *Engine) Snapshot() *TableState { return e.st }

// Act applies one action, mutating the snapshot. On error the snapshot must
// be discarded; partial mutation is not rolled back.
func (e *Engine) Act(act Action) error {
	switch act.Type {
	case ActionSit:
		return e.sit(act)
	case ActionReserveSeat:
		return e.reserveSeat(act)
	case ActionStand:
		return e.stand(act)
	case ActionAddChips:
		return e.addChips(act)
	case ActionDeal:
		return e.deal()
	case ActionFold, ActionCheck, ActionCall, ActionBet, ActionRaise:
		return e.applyBetting(act)
	case ActionTimeout:
		return e.timeout(act)
	case ActionTimeBank:
		return e.timeBank(act)
	case ActionShow, ActionMuck:
		return e.showMuck(act)
	case ActionNextBlindLevel:
		return e.nextBlindLevel()
	default:
		return invalid(CodeUnknownAction, "unknown action type %q", act.Type)
	}
}

func (e *Engine) sit(act Action) error {
	st := e.st
	if act.Seat == nil || *act.Seat < 0 || *act.Seat >= st.Config.MaxPlayers {
		return invalid(CodeSeatInvalid, "seat out of range")
	}
	if act.PlayerID == "" {
		return invalid(CodeSeatInvalid, "missing playerId")
	}
	if st.SeatOf(act.PlayerID) >= 0 {
		return invalid(CodeAlreadySeated, "player %s already seated", act.PlayerID)
	}
	seat := st.Seats[*act.Seat]
	if seat != nil && !(seat.Reserved && seat.PlayerID == act.PlayerID) {
		return invalid(CodeSeatOccupied, "seat %d occupied", *act.Seat)
	}
	if act.Stack <= 0 {
		return invalid(CodeBadAmount, "stack must be positive")
	}
	if st.Config.MinBuyIn > 0 && act.Stack < st.Config.MinBuyIn {
		return invalid(CodeBadAmount, "stack below minimum buy-in")
	}
	if st.Config.MaxBuyIn > 0 && act.Stack > st.Config.MaxBuyIn {
		return invalid(CodeBadAmount, "stack above maximum buy-in")
	}
	st.Seats[*act.Seat] = &Seat{
		PlayerID:     act.PlayerID,
		Stack:        act.Stack,
		TimeBankSecs: st.Config.TimeBankSecs,
	}
	return nil
}

func (e *Engine) reserveSeat(act Action) error {
	st := e.st
	if act.Seat == nil || *act.Seat < 0 || *act.Seat >= st.Config.MaxPlayers {
		return invalid(CodeSeatInvalid, "seat out of range")
	}
	if st.SeatOf(act.PlayerID) >= 0 {
		return invalid(CodeAlreadySeated, "player %s already seated", act.PlayerID)
	}
	if st.Seats[*act.Seat] != nil {
		return invalid(CodeSeatOccupied, "seat %d occupied", *act.Seat)
	}
	st.Seats[*act.Seat] = &Seat{PlayerID: act.PlayerID, Reserved: true}
	return nil
}

func (e *Engine) stand(act Action) error {
	st := e.st
	idx := st.SeatOf(act.PlayerID)
	if idx < 0 {
		return invalid(CodeNotSeated, "player %s not seated", act.PlayerID)
	}
	if st.Hand != nil && st.Hand.InHand[idx] && !st.Hand.Folded[idx] {
		return invalid(CodeHandInProgress, "cannot stand while in a live hand")
	}
	st.Seats[idx] = nil
	return nil
}

func (e *Engine) addChips(act Action) error {
	st := e.st
	idx := st.SeatOf(act.PlayerID)
	if idx < 0 {
		return invalid(CodeNotSeated, "player %s not seated", act.PlayerID)
	}
	if act.Amount <= 0 {
		return invalid(CodeBadAmount, "amount must be positive")
	}
	if st.Hand != nil && st.Hand.InHand[idx] && !st.Hand.Folded[idx] {
		return invalid(CodeHandInProgress, "cannot add chips while in a live hand")
	}
	st.Seats[idx].Stack += act.Amount
	return nil
}

func (e *Engine) timeBank(act Action) error {
	st := e.st
	if st.Hand == nil {
		return invalid(CodeNoHand, "no active hand")
	}
	idx := st.SeatOf(act.PlayerID)
	if idx < 0 || idx != st.Hand.ActionOn {
		return invalid(CodeNotYourTurn, "time bank only for the acting player")
	}
	s := st.Seats[idx]
	if st.Config.TimeBankSecs <= 0 || s.TimeBankSecs <= 0 {
		return invalid(CodeNoTimeBank, "no time bank available")
	}
	s.TimeBankSecs = 0
	st.Hand.TimeBankSeat = idx
	st.appendLog(HandEvent{Type: "timeBank", Seat: idx, Player: act.PlayerID})
	return nil
}

func (e *Engine) nextBlindLevel() error {
	st := e.st
	if st.Config.Mode != ModeTournament {
		return invalid(CodeNotTournament, "blind levels only in tournament mode")
	}
	if st.BlindLevel+1 < len(st.Config.BlindLevels) {
		st.BlindLevel++
	}
	return nil
}

// showMuck toggles post-hand hole card visibility. Only meaningful between
// completion and the next deal.
func (e *Engine) showMuck(act Action) error {
	st := e.st
	if len(st.Winners) == 0 {
		return invalid(CodeNoShowdown, "no completed hand to show")
	}
	for i := range st.Winners {
		if st.Winners[i].PlayerID == act.PlayerID {
			st.Winners[i].Shown = act.Type == ActionShow
			return nil
		}
	}
	return invalid(CodeNotSeated, "player %s did not finish the hand", act.PlayerID)
}

// timeout folds the player on the clock. The caller is responsible for the
// version check that makes stale timers harmless.
func (e *Engine) timeout(act Action) error {
	st := e.st
	if st.Hand == nil {
		return invalid(CodeNoHand, "no active hand")
	}
	idx := st.SeatOf(act.PlayerID)
	if idx < 0 || idx != st.Hand.ActionOn {
		return invalid(CodeNotYourTurn, "timeout target is not the acting seat")
	}
	st.appendLog(HandEvent{Type: "timeout", Seat: idx, Player: act.PlayerID})
	return e.applyBetting(Action{Type: ActionFold, PlayerID: act.PlayerID})
}

func (st *TableState) appendLog(ev HandEvent) {
	st.Log = append(st.Log, ev)
}

func newHandID() string {
	return uuid.NewString()
}
