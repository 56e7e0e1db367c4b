package engine

import (
	"errors"
	"fmt"
	"sort"
)

type handCategory uint8

const (
	highCard handCategory = iota
	onePair
	twoPair
	trips
	straight
	flush
	fullHouse
	quads
	straightFlush
)

// handRank orders hands by category first, then lexicographically by
// tiebreakers (high to low).
type handRank struct {
	category    handCategory
	tiebreakers []uint8
}

func compareHandRank(a, b handRank) int {
	if a.category != b.category {
		if a.category < b.category {
			return -1
		}
		return 1
	}
	l := len(a.tiebreakers)
	if len(b.tiebreakers) > l {
		l = len(b.tiebreakers)
	}
	for i := 0; i < l; i++ {
		var av, bv uint8
		if i < len(a.tiebreakers) {
			av = a.tiebreakers[i]
		}
		if i < len(b.tiebreakers) {
			bv = b.tiebreakers[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func assertDistinct(cs []Card, label string) error {
	var seen [52]bool
	for _, c := range cs {
		if c > 51 {
			return fmt.Errorf("%s contains invalid card id %d", label, c)
		}
		if seen[c] {
			return fmt.Errorf("%s contains duplicate card id %d", label, c)
		}
		seen[c] = true
	}
	return nil
}

func straightHigh(uniqueRanksDesc []uint8) (uint8, bool) {
	if len(uniqueRanksDesc) != 5 {
		return 0, false
	}
	// Wheel (A-5) is the one non-contiguous straight.
	if uniqueRanksDesc[0] == 14 && uniqueRanksDesc[1] == 5 && uniqueRanksDesc[2] == 4 &&
		uniqueRanksDesc[3] == 3 && uniqueRanksDesc[4] == 2 {
		return 5, true
	}
	for i := 1; i < len(uniqueRanksDesc); i++ {
		if uniqueRanksDesc[i-1]-1 != uniqueRanksDesc[i] {
			return 0, false
		}
	}
	return uniqueRanksDesc[0], true
}

func rank5(cards5 []Card) (handRank, error) {
	if len(cards5) != 5 {
		return handRank{}, fmt.Errorf("rank5 expected 5 cards, got %d", len(cards5))
	}
	if err := assertDistinct(cards5, "cards5"); err != nil {
		return handRank{}, err
	}

	isFlush := true
	for i := 1; i < 5; i++ {
		if cards5[i].Suit() != cards5[0].Suit() {
			isFlush = false
			break
		}
	}

	ranks := make([]uint8, 0, 5)
	for _, c := range cards5 {
		ranks = append(ranks, c.Rank())
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] > ranks[j] })

	counts := map[uint8]uint8{}
	for _, r := range ranks {
		counts[r]++
	}
	unique := make([]uint8, 0, len(counts))
	for r := range counts {
		unique = append(unique, r)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] > unique[j] })

	high, isStraight := straightHigh(unique)

	type group struct {
		rank  uint8
		count uint8
	}
	groups := make([]group, 0, len(counts))
	for r, c := range counts {
		groups = append(groups, group{rank: r, count: c})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	kickers := func() []uint8 {
		ks := make([]uint8, 0, 4)
		for _, g := range groups {
			if g.count == 1 {
				ks = append(ks, g.rank)
			}
		}
		sort.Slice(ks, func(i, j int) bool { return ks[i] > ks[j] })
		return ks
	}

	switch {
	case isStraight && isFlush:
		return handRank{category: straightFlush, tiebreakers: []uint8{high}}, nil
	case groups[0].count == 4:
		return handRank{category: quads, tiebreakers: append([]uint8{groups[0].rank}, kickers()...)}, nil
	case groups[0].count == 3 && groups[1].count == 2:
		return handRank{category: fullHouse, tiebreakers: []uint8{groups[0].rank, groups[1].rank}}, nil
	case isFlush:
		return handRank{category: flush, tiebreakers: ranks}, nil
	case isStraight:
		return handRank{category: straight, tiebreakers: []uint8{high}}, nil
	case groups[0].count == 3:
		return handRank{category: trips, tiebreakers: append([]uint8{groups[0].rank}, kickers()...)}, nil
	case groups[0].count == 2 && groups[1].count == 2:
		hi, lo := groups[0].rank, groups[1].rank
		if lo > hi {
			hi, lo = lo, hi
		}
		return handRank{category: twoPair, tiebreakers: append([]uint8{hi, lo}, kickers()...)}, nil
	case groups[0].count == 2:
		return handRank{category: onePair, tiebreakers: append([]uint8{groups[0].rank}, kickers()...)}, nil
	}
	return handRank{category: highCard, tiebreakers: ranks}, nil
}

var combos7Choose5 = [21][5]int{
	{0, 1, 2, 3, 4}, {0, 1, 2, 3, 5}, {0, 1, 2, 3, 6}, {0, 1, 2, 4, 5},
	{0, 1, 2, 4, 6}, {0, 1, 2, 5, 6}, {0, 1, 3, 4, 5}, {0, 1, 3, 4, 6},
	{0, 1, 3, 5, 6}, {0, 1, 4, 5, 6}, {0, 2, 3, 4, 5}, {0, 2, 3, 4, 6},
	{0, 2, 3, 5, 6}, {0, 2, 4, 5, 6}, {0, 3, 4, 5, 6}, {1, 2, 3, 4, 5},
	{1, 2, 3, 4, 6}, {1, 2, 3, 5, 6}, {1, 2, 4, 5, 6}, {1, 3, 4, 5, 6},
	{2, 3, 4, 5, 6},
}

func rank7(cards7 []Card) (handRank, error) {
	if len(cards7) != 7 {
		return handRank{}, fmt.Errorf("rank7 expected 7 cards, got %d", len(cards7))
	}
	if err := assertDistinct(cards7, "cards7"); err != nil {
		return handRank{}, err
	}
	var best *handRank
	for _, idx := range combos7Choose5 {
		r, err := rank5([]Card{cards7[idx[0]], cards7[idx[1]], cards7[idx[2]], cards7[idx[3]], cards7[idx[4]]})
		if err != nil {
			return handRank{}, err
		}
		if best == nil || compareHandRank(r, *best) == 1 {
			tmp := r
			best = &tmp
		}
	}
	return *best, nil
}

// winningSeats returns the seats holding the best 7-card hand, sorted
// ascending. Ties return every tied seat.
func winningSeats(board5 []Card, holeBySeat map[int][2]Card) ([]int, error) {
	if len(board5) != 5 {
		return nil, fmt.Errorf("winningSeats expected 5 board cards, got %d", len(board5))
	}
	if err := assertDistinct(board5, "board5"); err != nil {
		return nil, err
	}

	seats := make([]int, 0, len(holeBySeat))
	for seat := range holeBySeat {
		if seat >= 0 && seat < MaxSeats {
			seats = append(seats, seat)
		}
	}
	sort.Ints(seats)

	var best *handRank
	bestSeats := []int{}
	for _, seat := range seats {
		hole := holeBySeat[seat]
		cards7 := []Card{board5[0], board5[1], board5[2], board5[3], board5[4], hole[0], hole[1]}
		if err := assertDistinct(cards7, fmt.Sprintf("seat %d cards", seat)); err != nil {
			return nil, err
		}
		r, err := rank7(cards7)
		if err != nil {
			return nil, err
		}
		switch {
		case best == nil:
			tmp := r
			best = &tmp
			bestSeats = []int{seat}
		default:
			switch compareHandRank(r, *best) {
			case 1:
				tmp := r
				best = &tmp
				bestSeats = []int{seat}
			case 0:
				bestSeats = append(bestSeats, seat)
			}
		}
	}

	if best == nil {
		return nil, errors.New("no eligible hands to evaluate")
	}
	sort.Ints(bestSeats)
	return bestSeats, nil
}
