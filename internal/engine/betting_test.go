package engine

import "testing"

func netBySeat(t *testing.T, e *Engine) map[int]int64 {
	t.Helper()
	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected completed hand")
	}
	out := map[int]int64{}
	for _, r := range st.Winners {
		out[r.Seat] = r.Net
	}
	return out
}

func TestBetting_FoldEndsHandAndAwardsPot(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	mustAct(t, e, Action{Type: ActionFold, PlayerID: player(0)})

	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected hand complete after fold")
	}
	if got := stack(t, e, 0); got != 99 {
		t.Fatalf("expected folder stack 99, got %d", got)
	}
	if got := stack(t, e, 1); got != 101 {
		t.Fatalf("expected winner stack 101, got %d", got)
	}
	nets := netBySeat(t, e)
	if nets[0] != -1 || nets[1] != 1 {
		t.Fatalf("expected nets -1/+1, got %d/%d", nets[0], nets[1])
	}
}

func TestBetting_CheckIllegalFacingBet(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	// SB faces 1 more preflop.
	mustFailWith(t, e, Action{Type: ActionCheck, PlayerID: player(0)}, CodeBetIllegal)
}

func TestBetting_OutOfTurnRejected(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	mustFailWith(t, e, Action{Type: ActionCall, PlayerID: player(1)}, CodeNotYourTurn)
}

func TestBetting_BigBlindHasOptionPreflop(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})

	h := e.Snapshot().Hand
	if h == nil || h.Street != StreetPreflop {
		t.Fatalf("expected still preflop for the big blind option")
	}
	if h.ActionOn != 1 {
		t.Fatalf("expected action on big blind, got %d", h.ActionOn)
	}
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})
	if got := e.Snapshot().Hand.Street; got != StreetFlop {
		t.Fatalf("expected flop after option check, got %s", got)
	}
}

func TestBetting_MinRaiseEnforced(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	// BetTo is 2, min raise size 2: raising to 3 is short of 4.
	mustFailWith(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 3}, CodeBetIllegal)
	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 4})

	h := e.Snapshot().Hand
	if h.BetTo != 4 || h.MinRaiseSize != 2 {
		t.Fatalf("expected betTo=4 minRaise=2, got %d/%d", h.BetTo, h.MinRaiseSize)
	}
}

func TestBetting_ShowdownAwardsAndRake(t *testing.T) {
	// 25% rake to make integer math visible on a small pot.
	e := newCashEngine(t, Config{RakeBps: 2500}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	rigCards(t, e, map[int][2]string{
		0: {"Kh", "3s"},
		1: {"Ah", "Ad"},
	}, []string{"2c", "7d", "9h", "Jc", "Qs"})

	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})

	// Flop: big blind acts first heads-up postflop.
	mustAct(t, e, Action{Type: ActionBet, PlayerID: player(1), Amount: 10})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})

	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(0)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(0)})

	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected completed hand")
	}
	// Pot 24, rake 6, aces take 18.
	if st.RakeThisHand != 6 {
		t.Fatalf("expected rake 6, got %d", st.RakeThisHand)
	}
	if got := stack(t, e, 1); got != 106 {
		t.Fatalf("expected winner stack 106, got %d", got)
	}
	if got := stack(t, e, 0); got != 88 {
		t.Fatalf("expected loser stack 88, got %d", got)
	}
	nets := netBySeat(t, e)
	if nets[1] != 6 || nets[0] != -12 {
		t.Fatalf("expected nets +6/-12, got %d/%d", nets[1], nets[0])
	}
	var sum int64
	for _, n := range nets {
		sum += n
	}
	if sum != -st.RakeThisHand {
		t.Fatalf("expected nets to sum to -rake, got %d vs rake %d", sum, st.RakeThisHand)
	}
}

func TestBetting_NoFlopNoDrop(t *testing.T) {
	e := newCashEngine(t, Config{RakeBps: 2500}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 10})
	mustAct(t, e, Action{Type: ActionFold, PlayerID: player(1)})

	st := e.Snapshot()
	if st.RakeThisHand != 0 {
		t.Fatalf("expected no rake before the flop, got %d", st.RakeThisHand)
	}
	if got := stack(t, e, 0); got != 102 {
		t.Fatalf("expected raiser stack 102 after winning blinds, got %d", got)
	}
}

func TestBetting_SidePotsPayByCommitmentTier(t *testing.T) {
	e := newCashEngine(t, Config{}, 50, 100, 200)
	mustAct(t, e, Action{Type: ActionDeal})
	rigCards(t, e, map[int][2]string{
		0: {"Ah", "Ad"},
		1: {"Kh", "Kd"},
		2: {"Qh", "Qd"},
	}, []string{"2c", "7d", "9h", "Jc", "3s"})

	// Button (seat 0) is first to act three-handed preflop.
	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 50})
	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(1), Amount: 100})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(2)})

	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected all-in runout to complete the hand")
	}
	// Main pot 150 to the aces, side pot 100 to the kings.
	if got := stack(t, e, 0); got != 150 {
		t.Fatalf("expected seat 0 stack 150, got %d", got)
	}
	if got := stack(t, e, 1); got != 100 {
		t.Fatalf("expected seat 1 stack 100, got %d", got)
	}
	if got := stack(t, e, 2); got != 100 {
		t.Fatalf("expected seat 2 stack 100, got %d", got)
	}
	nets := netBySeat(t, e)
	if nets[0] != 100 || nets[1] != 0 || nets[2] != -100 {
		t.Fatalf("expected nets +100/0/-100, got %d/%d/%d", nets[0], nets[1], nets[2])
	}
}

func TestBetting_SplitPotWithOddChip(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	// Seats 0 and 1 make the same broadway straight; seat 2 pairs the 8.
	rigCards(t, e, map[int][2]string{
		0: {"Js", "Th"},
		1: {"Jd", "Td"},
		2: {"7c", "8d"},
	}, []string{"Ah", "Kh", "Qd", "8s", "2d"})

	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 5})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(1)})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(2)})
	for street := 0; street < 3; street++ {
		mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})
		mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(2)})
		mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(0)})
	}

	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected completed hand")
	}
	// Pot 15 splits 8/7: the odd chip goes to the first winner by seat.
	if got := stack(t, e, 0); got != 103 {
		t.Fatalf("expected seat 0 stack 103 with odd chip, got %d", got)
	}
	if got := stack(t, e, 1); got != 102 {
		t.Fatalf("expected seat 1 stack 102, got %d", got)
	}
	if got := stack(t, e, 2); got != 95 {
		t.Fatalf("expected seat 2 stack 95, got %d", got)
	}
}

func TestBetting_UnderRaiseAllInDoesNotReopenAction(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 30)
	mustAct(t, e, Action{Type: ActionDeal})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})

	// Flop: seat 1 checks, seat 0 bets 20, seat 1 shoves 28 (raise of 8,
	// below the 20 minimum).
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})
	mustAct(t, e, Action{Type: ActionBet, PlayerID: player(0), Amount: 20})
	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(1), Amount: 28})

	h := e.Snapshot().Hand
	if h.ActionOn != 0 {
		t.Fatalf("expected action back on seat 0, got %d", h.ActionOn)
	}
	// The short all-in does not reopen raising for seat 0.
	mustFailWith(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 60}, CodeBetIllegal)
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})

	if !e.Snapshot().HandComplete() {
		t.Fatalf("expected runout after call of the all-in")
	}
}

func TestBetting_UncalledBetReturned(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 100)
	mustAct(t, e, Action{Type: ActionDeal})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(0)})
	mustAct(t, e, Action{Type: ActionCheck, PlayerID: player(1)})

	mustAct(t, e, Action{Type: ActionBet, PlayerID: player(1), Amount: 50})
	mustAct(t, e, Action{Type: ActionFold, PlayerID: player(0)})

	// The 50 comes back; only the preflop pot of 4 changes hands.
	if got := stack(t, e, 1); got != 102 {
		t.Fatalf("expected winner stack 102 after uncalled bet returned, got %d", got)
	}
	if got := stack(t, e, 0); got != 98 {
		t.Fatalf("expected folder stack 98, got %d", got)
	}
}

func TestBetting_ShortAllInCallRunsOutBoard(t *testing.T) {
	e := newCashEngine(t, Config{}, 100, 10)
	mustAct(t, e, Action{Type: ActionDeal})
	rigCards(t, e, map[int][2]string{
		0: {"Ah", "Ad"},
		1: {"Kh", "Kd"},
	}, []string{"2c", "7d", "9h", "Jc", "3s"})

	mustAct(t, e, Action{Type: ActionRaise, PlayerID: player(0), Amount: 20})
	mustAct(t, e, Action{Type: ActionCall, PlayerID: player(1)})

	st := e.Snapshot()
	if !st.HandComplete() {
		t.Fatalf("expected immediate runout once the short stack is all-in")
	}
	// Seat 1 could only cover 10; the uncalled 10 returns to seat 0.
	if got := stack(t, e, 0); got != 110 {
		t.Fatalf("expected seat 0 stack 110, got %d", got)
	}
	if got := stack(t, e, 1); got != 0 {
		t.Fatalf("expected seat 1 felted, got %d", got)
	}
}
