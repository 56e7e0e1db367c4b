package engine

import (
	"sort"
	"strings"
)

func (st *TableState) occupiedSeatsWithStack() []int {
	out := make([]int, 0, MaxSeats)
	for i := 0; i < MaxSeats; i++ {
		s := st.Seats[i]
		if s == nil || s.Reserved || s.SittingOut || s.Stack <= 0 {
			continue
		}
		out = append(out, i)
	}
	return out
}

// nextFundedSeat returns the next funded, non-sitting-out seat clockwise.
func (st *TableState) nextFundedSeat(from int) int {
	for step := 1; step <= MaxSeats; step++ {
		i := (from + step) % MaxSeats
		s := st.Seats[i]
		if s != nil && !s.Reserved && !s.SittingOut && s.Stack > 0 {
			return i
		}
	}
	return from
}

func (st *TableState) blindSeats() (sbSeat, bbSeat int) {
	active := st.occupiedSeatsWithStack()
	if len(active) < 2 {
		return -1, -1
	}
	if len(active) == 2 {
		// Heads-up: button posts the small blind.
		sbSeat = st.ButtonSeat
		bbSeat = st.nextFundedSeat(sbSeat)
		return sbSeat, bbSeat
	}
	sbSeat = st.nextFundedSeat(st.ButtonSeat)
	bbSeat = st.nextFundedSeat(sbSeat)
	return sbSeat, bbSeat
}

func (e *Engine) deal() error {
	st := e.st
	if st.Hand != nil {
		return invalid(CodeHandInProgress, "hand already in progress")
	}
	active := st.occupiedSeatsWithStack()
	if len(active) < 2 {
		return invalid(CodeNotEnough, "need at least 2 funded players")
	}

	// Previous completion report is consumed once the next hand starts.
	st.Winners = nil
	st.RakeThisHand = 0
	st.Log = nil

	if st.ButtonSeat < 0 {
		st.ButtonSeat = active[0]
	} else {
		st.ButtonSeat = st.nextFundedSeat(st.ButtonSeat)
	}

	st.HandSeq++
	handID := newHandID()
	deck := ShuffledDeck([]byte(st.TableID + "|" + handID))

	h := &Hand{
		HandID:       handID,
		Street:       StreetPreflop,
		ButtonSeat:   st.ButtonSeat,
		ActionOn:     -1,
		Deck:         deck,
		Board:        []Card{},
		TimeBankSeat: -1,
	}
	for i := 0; i < MaxSeats; i++ {
		h.LastIntervalActed[i] = -1
		s := st.Seats[i]
		if s == nil || s.Reserved || s.SittingOut {
			continue
		}
		h.InHand[i] = s.Stack > 0
		s.Hole = [2]Card{}
		s.HasHole = false
	}
	st.Hand = h

	sb, bb := st.blinds()
	sbSeat, bbSeat := st.blindSeats()
	if sbSeat < 0 || bbSeat < 0 {
		st.Hand = nil
		return invalid(CodeNotEnough, "cannot determine blind seats")
	}
	h.SmallBlindSeat = sbSeat
	h.BigBlindSeat = bbSeat
	st.postBlind(sbSeat, sb)
	st.postBlind(bbSeat, bb)
	h.BetTo = h.StreetCommit[bbSeat]
	h.MinRaiseSize = bb
	// The blinds open the first betting interval.
	h.IntervalID = 1

	st.dealHoleCards()
	h.ActionOn = st.nextActiveToAct(bbSeat)
	st.Status = StatusActive

	st.appendLog(HandEvent{Type: "deal", Street: StreetPreflop})
	st.appendLog(HandEvent{Type: "smallBlind", Seat: sbSeat, Amount: h.StreetCommit[sbSeat]})
	st.appendLog(HandEvent{Type: "bigBlind", Seat: bbSeat, Amount: h.StreetCommit[bbSeat]})
	return nil
}

// postBlind commits up to amount; a short stack goes all-in.
func (st *TableState) postBlind(seatIdx int, amount int64) {
	h := st.Hand
	s := st.Seats[seatIdx]
	put := amount
	if put > s.Stack {
		put = s.Stack
	}
	s.Stack -= put
	h.StreetCommit[seatIdx] += put
	h.TotalCommit[seatIdx] += put
	if s.Stack == 0 {
		h.AllIn[seatIdx] = true
	}
}

// dealHoleCards starts at the small blind seat, two passes clockwise.
func (st *TableState) dealHoleCards() {
	h := st.Hand
	start := h.SmallBlindSeat
	order := []int{}
	cur := start
	for {
		if h.InHand[cur] {
			order = append(order, cur)
		}
		cur = (cur + 1) % MaxSeats
		if cur == start {
			break
		}
	}
	for c := 0; c < 2; c++ {
		for _, seatIdx := range order {
			if int(h.DeckCursor) >= len(h.Deck) {
				return
			}
			st.Seats[seatIdx].Hole[c] = h.Deck[h.DeckCursor]
			st.Seats[seatIdx].HasHole = true
			h.DeckCursor++
		}
	}
}

func (h *Hand) needsToAct(seat int) bool {
	if !h.InHand[seat] || h.Folded[seat] || h.AllIn[seat] {
		return false
	}
	return h.LastIntervalActed[seat] != int(h.IntervalID) || h.StreetCommit[seat] != h.BetTo
}

func (st *TableState) nextActiveToAct(fromSeat int) int {
	h := st.Hand
	for step := 1; step <= MaxSeats; step++ {
		i := (fromSeat + step) % MaxSeats
		if h.needsToAct(i) {
			return i
		}
	}
	return -1
}

func (h *Hand) toCall(seat int) int64 {
	if h.BetTo <= h.StreetCommit[seat] {
		return 0
	}
	return h.BetTo - h.StreetCommit[seat]
}

func (h *Hand) countNotFolded() int {
	n := 0
	for i := 0; i < MaxSeats; i++ {
		if h.InHand[i] && !h.Folded[i] {
			n++
		}
	}
	return n
}

func (st *TableState) countWithChips() int {
	h := st.Hand
	n := 0
	for i := 0; i < MaxSeats; i++ {
		if !h.InHand[i] || h.Folded[i] {
			continue
		}
		if s := st.Seats[i]; s != nil && s.Stack > 0 {
			n++
		}
	}
	return n
}

func (st *TableState) applyBetTo(seat int, desiredCommit int64) error {
	h := st.Hand
	s := st.Seats[seat]

	currentCommit := h.StreetCommit[seat]
	if desiredCommit <= currentCommit {
		return invalid(CodeBadAmount, "bet must exceed current street commitment")
	}
	maxCommit := currentCommit + s.Stack
	if desiredCommit > maxCommit {
		return invalid(CodeBadAmount, "bet exceeds available chips")
	}
	currentBetTo := h.BetTo
	if desiredCommit <= currentBetTo {
		return invalid(CodeBetIllegal, "bet must exceed the current bet; use call or check")
	}
	if h.LastIntervalActed[seat] == int(h.IntervalID) {
		return invalid(CodeBetIllegal, "raise not allowed: already acted since last full raise")
	}

	isAllIn := desiredCommit == maxCommit
	raiseSize := desiredCommit - currentBetTo
	_, minBet := st.blinds()

	if currentBetTo == 0 {
		// Opening bet on this street.
		if desiredCommit < minBet && !isAllIn {
			return invalid(CodeBetIllegal, "bet below big blind; only allowed if all-in")
		}
		// Any opening bet opens a new betting interval, even a short all-in.
		h.IntervalID++
		h.LastIntervalActed[seat] = int(h.IntervalID)
		if desiredCommit >= minBet {
			h.MinRaiseSize = desiredCommit
		} else {
			h.MinRaiseSize = minBet
		}
		h.BetTo = desiredCommit
	} else {
		if raiseSize < h.MinRaiseSize {
			if !isAllIn {
				return invalid(CodeBetIllegal, "raise below minimum; only allowed if all-in")
			}
			// Under-raise all-in neither reopens action nor moves the minimum.
			h.LastIntervalActed[seat] = int(h.IntervalID)
			h.BetTo = desiredCommit
		} else {
			h.IntervalID++
			h.MinRaiseSize = raiseSize
			h.BetTo = desiredCommit
			h.LastIntervalActed[seat] = int(h.IntervalID)
		}
	}

	delta := desiredCommit - currentCommit
	s.Stack -= delta
	h.StreetCommit[seat] += delta
	h.TotalCommit[seat] += delta
	if s.Stack == 0 {
		h.AllIn[seat] = true
	}
	return nil
}

func (st *TableState) applyCall(seat int) error {
	h := st.Hand
	s := st.Seats[seat]
	need := h.toCall(seat)
	if need == 0 {
		return invalid(CodeBetIllegal, "call is not legal when facing 0")
	}
	pay := need
	if pay > s.Stack {
		pay = s.Stack
	}
	s.Stack -= pay
	h.StreetCommit[seat] += pay
	h.TotalCommit[seat] += pay
	if s.Stack == 0 {
		h.AllIn[seat] = true
	}
	h.LastIntervalActed[seat] = int(h.IntervalID)
	return nil
}

func (h *Hand) applyCheck(seat int) error {
	if h.toCall(seat) != 0 {
		return invalid(CodeBetIllegal, "check is not legal when facing a bet")
	}
	h.LastIntervalActed[seat] = int(h.IntervalID)
	return nil
}

func (h *Hand) applyFold(seat int) {
	h.Folded[seat] = true
	h.LastIntervalActed[seat] = int(h.IntervalID)
}

func (h *Hand) streetComplete() bool {
	interval := int(h.IntervalID)
	for i := 0; i < MaxSeats; i++ {
		if !h.InHand[i] || h.Folded[i] || h.AllIn[i] {
			continue
		}
		if h.StreetCommit[i] != h.BetTo {
			return false
		}
		if h.LastIntervalActed[i] != interval {
			return false
		}
	}
	return true
}

// returnUncalledStreetExcess refunds the part of the highest commitment that
// nobody matched (single over-bettor only).
func (st *TableState) returnUncalledStreetExcess() {
	h := st.Hand
	var max, second int64
	for i := 0; i < MaxSeats; i++ {
		if h.StreetCommit[i] > max {
			max = h.StreetCommit[i]
		}
	}
	if max == 0 {
		return
	}
	for i := 0; i < MaxSeats; i++ {
		v := h.StreetCommit[i]
		if v != max && v > second {
			second = v
		}
	}
	maxSeat := -1
	for i := 0; i < MaxSeats; i++ {
		if h.StreetCommit[i] != max {
			continue
		}
		if maxSeat != -1 {
			return
		}
		maxSeat = i
	}
	excess := max - second
	if maxSeat == -1 || excess == 0 || st.Seats[maxSeat] == nil {
		return
	}
	st.Seats[maxSeat].Stack += excess
	h.StreetCommit[maxSeat] -= excess
	h.TotalCommit[maxSeat] -= excess
	if st.Seats[maxSeat].Stack > 0 {
		h.AllIn[maxSeat] = false
	}
}

func (st *TableState) revealCommunity(n int) {
	h := st.Hand
	cards := []string{}
	for i := 0; i < n; i++ {
		if int(h.DeckCursor) >= len(h.Deck) {
			break
		}
		c := h.Deck[h.DeckCursor]
		h.DeckCursor++
		h.Board = append(h.Board, c)
		cards = append(cards, c.String())
	}
	st.appendLog(HandEvent{Type: "board", Street: h.Street, Cards: strings.Join(cards, ",")})
}

func (st *TableState) advanceStreet() {
	h := st.Hand
	switch h.Street {
	case StreetPreflop:
		h.Street = StreetFlop
		st.revealCommunity(3)
	case StreetFlop:
		h.Street = StreetTurn
		st.revealCommunity(1)
	case StreetTurn:
		h.Street = StreetRiver
		st.revealCommunity(1)
	default:
		return
	}

	_, bb := st.blinds()
	h.BetTo = 0
	h.MinRaiseSize = bb
	h.IntervalID = 0
	for i := 0; i < MaxSeats; i++ {
		h.StreetCommit[i] = 0
		h.LastIntervalActed[i] = -1
	}
	// Postflop action starts left of the button.
	h.ActionOn = st.nextActiveToAct(h.ButtonSeat)
}

func (st *TableState) maybeAdvance() {
	h := st.Hand
	if h == nil {
		return
	}
	if h.countNotFolded() <= 1 {
		st.completeByFolds()
		return
	}
	if !h.streetComplete() {
		h.ActionOn = st.nextActiveToAct(h.ActionOn)
		return
	}

	st.returnUncalledStreetExcess()

	if h.Street == StreetRiver {
		st.runoutAndSettle()
		return
	}
	// No further betting is possible once fewer than 2 contenders have chips.
	if st.countWithChips() < 2 {
		st.runoutAndSettle()
		return
	}

	st.advanceStreet()

	if st.Hand != nil && st.Hand.ActionOn == -1 {
		st.runoutAndSettle()
	}
}

func (st *TableState) completeByFolds() {
	h := st.Hand
	winnerSeat := -1
	for i := 0; i < MaxSeats; i++ {
		if h.InHand[i] && !h.Folded[i] {
			winnerSeat = i
			break
		}
	}
	if winnerSeat == -1 {
		// Should not happen; clear the hand rather than wedge the table.
		st.Hand = nil
		return
	}

	st.returnUncalledStreetExcess()

	awards := map[int]int64{}
	var potTotal int64
	for i := 0; i < MaxSeats; i++ {
		potTotal += h.TotalCommit[i]
	}
	rake := st.rakeFor(potTotal)
	awards[winnerSeat] = potTotal - rake

	st.finishHand(awards, rake, map[int]bool{})
	st.appendLog(HandEvent{Type: "handComplete", Seat: winnerSeat, Amount: potTotal - rake, Cards: "all-folded"})
}

func computeSidePots(totalCommit [MaxSeats]int64, eligible [MaxSeats]bool) []Pot {
	type rem struct {
		seat     int
		amount   int64
		eligible bool
	}
	remaining := make([]rem, 0, MaxSeats)
	for i := 0; i < MaxSeats; i++ {
		if totalCommit[i] == 0 {
			continue
		}
		remaining = append(remaining, rem{seat: i, amount: totalCommit[i], eligible: eligible[i]})
	}

	tiers := []Pot{}
	for len(remaining) > 0 {
		min := remaining[0].amount
		for i := 1; i < len(remaining); i++ {
			if remaining[i].amount < min {
				min = remaining[i].amount
			}
		}
		pot := Pot{Amount: min * int64(len(remaining))}
		for _, r := range remaining {
			if r.eligible {
				pot.EligibleSeats = append(pot.EligibleSeats, r.seat)
			}
		}
		tiers = append(tiers, pot)

		next := remaining[:0]
		for _, r := range remaining {
			r.amount -= min
			if r.amount > 0 {
				next = append(next, r)
			}
		}
		remaining = next
	}

	merged := []Pot{}
	for _, p := range tiers {
		if len(merged) > 0 && sameSeats(merged[len(merged)-1].EligibleSeats, p.EligibleSeats) {
			merged[len(merged)-1].Amount += p.Amount
			continue
		}
		cp := append([]int(nil), p.EligibleSeats...)
		merged = append(merged, Pot{Amount: p.Amount, EligibleSeats: cp})
	}
	return merged
}

func sameSeats(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rakeFor applies the configured rake in cash mode, with no-flop-no-drop.
func (st *TableState) rakeFor(potTotal int64) int64 {
	if st.Config.Mode != ModeCash || st.Config.RakeBps <= 0 {
		return 0
	}
	if st.Hand != nil && len(st.Hand.Board) == 0 {
		return 0
	}
	return potTotal * int64(st.Config.RakeBps) / 10000
}

func (st *TableState) runoutAndSettle() {
	h := st.Hand

	h.ActionOn = -1
	// Run out any missing board cards.
	switch h.Street {
	case StreetPreflop:
		h.Street = StreetFlop
		st.revealCommunity(3)
		fallthrough
	case StreetFlop:
		h.Street = StreetTurn
		st.revealCommunity(1)
		fallthrough
	case StreetTurn:
		h.Street = StreetRiver
		st.revealCommunity(1)
	}
	h.Street = StreetShowdown

	var eligible [MaxSeats]bool
	for i := 0; i < MaxSeats; i++ {
		eligible[i] = h.InHand[i] && !h.Folded[i]
	}
	pots := computeSidePots(h.TotalCommit, eligible)
	h.Pots = pots

	var potTotal int64
	for _, p := range pots {
		potTotal += p.Amount
	}
	rake := st.rakeFor(potTotal)
	// Rake comes off the main pot.
	if rake > 0 && len(pots) > 0 {
		if rake > pots[0].Amount {
			rake = pots[0].Amount
		}
		pots[0].Amount -= rake
	}

	board5 := h.Board
	if len(board5) > 5 {
		board5 = board5[:5]
	}

	awards := map[int]int64{}
	shown := map[int]bool{}
	for _, pot := range pots {
		if pot.Amount == 0 || len(pot.EligibleSeats) == 0 {
			continue
		}
		var winners []int
		if len(pot.EligibleSeats) == 1 {
			winners = []int{pot.EligibleSeats[0]}
		} else {
			holeBySeat := make(map[int][2]Card, len(pot.EligibleSeats))
			for _, seat := range pot.EligibleSeats {
				if st.Seats[seat] == nil {
					continue
				}
				holeBySeat[seat] = st.Seats[seat].Hole
				shown[seat] = true
			}
			ws, err := winningSeats(board5, holeBySeat)
			if err != nil {
				// Inconsistent cards: refund every commitment and abort.
				for i := 0; i < MaxSeats; i++ {
					if st.Seats[i] != nil {
						st.Seats[i].Stack += h.TotalCommit[i]
					}
				}
				st.appendLog(HandEvent{Type: "handAborted", Cards: err.Error()})
				st.clearHand()
				return
			}
			winners = ws
		}

		share := pot.Amount / int64(len(winners))
		remainder := pot.Amount % int64(len(winners))
		for i, seat := range winners {
			awards[seat] += share
			if i == 0 {
				awards[seat] += remainder
			}
		}
	}

	st.finishHand(awards, rake, shown)
	st.appendLog(HandEvent{Type: "handComplete", Cards: "showdown"})
}

// finishHand applies awards to stacks and records the completion report.
func (st *TableState) finishHand(awards map[int]int64, rake int64, shown map[int]bool) {
	h := st.Hand

	results := make([]SeatResult, 0, MaxSeats)
	for i := 0; i < MaxSeats; i++ {
		if !h.InHand[i] || st.Seats[i] == nil {
			continue
		}
		won := awards[i]
		st.Seats[i].Stack += won
		results = append(results, SeatResult{
			Seat:     i,
			PlayerID: st.Seats[i].PlayerID,
			Won:      won,
			Net:      won - h.TotalCommit[i],
			Hole:     st.Seats[i].Hole,
			Shown:    shown[i],
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Seat < results[j].Seat })

	st.Winners = results
	st.LastHandID = h.HandID
	st.RakeThisHand = rake
	st.clearHand()
}

func (st *TableState) clearHand() {
	for i := 0; i < MaxSeats; i++ {
		if st.Seats[i] != nil {
			st.Seats[i].Hole = [2]Card{}
			st.Seats[i].HasHole = false
		}
	}
	st.Hand = nil
}

func (e *Engine) applyBetting(act Action) error {
	st := e.st
	h := st.Hand
	if h == nil {
		return invalid(CodeNoHand, "no active hand")
	}
	actorIdx := h.ActionOn
	if actorIdx < 0 || actorIdx >= MaxSeats || st.Seats[actorIdx] == nil {
		return invalid(CodeNotYourTurn, "no acting seat")
	}
	if st.Seats[actorIdx].PlayerID != act.PlayerID {
		return invalid(CodeNotYourTurn, "not your turn")
	}
	if !h.InHand[actorIdx] || h.Folded[actorIdx] || h.AllIn[actorIdx] {
		return invalid(CodeNotYourTurn, "actor not eligible to act")
	}

	switch act.Type {
	case ActionFold:
		h.applyFold(actorIdx)
	case ActionCheck:
		if err := h.applyCheck(actorIdx); err != nil {
			return err
		}
	case ActionCall:
		if err := st.applyCall(actorIdx); err != nil {
			return err
		}
	case ActionBet:
		if h.BetTo != 0 {
			return invalid(CodeBetIllegal, "cannot bet over a bet; use raise")
		}
		if act.Amount <= 0 {
			return invalid(CodeBadAmount, "bet amount must be positive")
		}
		if err := st.applyBetTo(actorIdx, act.Amount); err != nil {
			return err
		}
	case ActionRaise:
		if h.BetTo == 0 {
			return invalid(CodeBetIllegal, "cannot raise without a bet; use bet")
		}
		if act.Amount <= 0 {
			return invalid(CodeBadAmount, "raise amount must be positive")
		}
		if err := st.applyBetTo(actorIdx, act.Amount); err != nil {
			return err
		}
	}

	h.TimeBankSeat = -1
	st.appendLog(HandEvent{
		Type:   strings.ToLower(string(act.Type)),
		Seat:   actorIdx,
		Player: act.PlayerID,
		Amount: act.Amount,
		Street: h.Street,
	})

	st.maybeAdvance()
	return nil
}
