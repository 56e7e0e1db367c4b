package engine

import "testing"

func cards(t *testing.T, names ...string) []Card {
	t.Helper()
	out := make([]Card, 0, len(names))
	for _, n := range names {
		out = append(out, mustCard(t, n))
	}
	return out
}

func rank5Of(t *testing.T, names ...string) handRank {
	t.Helper()
	r, err := rank5(cards(t, names...))
	if err != nil {
		t.Fatalf("rank5(%v): %v", names, err)
	}
	return r
}

func TestRank5_Categories(t *testing.T) {
	tests := []struct {
		name  string
		cards []string
		want  handCategory
	}{
		{"high card", []string{"Ah", "Kd", "9c", "7s", "3h"}, highCard},
		{"one pair", []string{"Ah", "Ad", "9c", "7s", "3h"}, onePair},
		{"two pair", []string{"Ah", "Ad", "9c", "9s", "3h"}, twoPair},
		{"trips", []string{"Ah", "Ad", "Ac", "9s", "3h"}, trips},
		{"straight", []string{"9h", "8d", "7c", "6s", "5h"}, straight},
		{"wheel straight", []string{"Ah", "2d", "3c", "4s", "5h"}, straight},
		{"flush", []string{"Ah", "Jh", "9h", "7h", "3h"}, flush},
		{"full house", []string{"Ah", "Ad", "Ac", "9s", "9h"}, fullHouse},
		{"quads", []string{"Ah", "Ad", "Ac", "As", "9h"}, quads},
		{"straight flush", []string{"9h", "8h", "7h", "6h", "5h"}, straightFlush},
	}
	for _, tc := range tests {
		r := rank5Of(t, tc.cards...)
		if r.category != tc.want {
			t.Fatalf("%s: expected category %d, got %d", tc.name, tc.want, r.category)
		}
	}
}

func TestRank5_WheelLosesToSixHighStraight(t *testing.T) {
	wheel := rank5Of(t, "Ah", "2d", "3c", "4s", "5h")
	sixHigh := rank5Of(t, "2h", "3d", "4c", "5s", "6h")
	if compareHandRank(sixHigh, wheel) != 1 {
		t.Fatalf("expected six-high straight to beat the wheel")
	}
}

func TestRank5_KickersBreakPairTies(t *testing.T) {
	aceKicker := rank5Of(t, "Qh", "Qd", "Ac", "7s", "3h")
	kingKicker := rank5Of(t, "Qs", "Qc", "Kc", "7d", "3d")
	if compareHandRank(aceKicker, kingKicker) != 1 {
		t.Fatalf("expected the ace kicker to win")
	}
}

func TestRank5_RejectsDuplicates(t *testing.T) {
	if _, err := rank5(cards(t, "Ah", "Ah", "9c", "7s", "3h")); err == nil {
		t.Fatalf("expected duplicate card error")
	}
}

func TestRank7_FindsBestFiveOfSeven(t *testing.T) {
	// Seven cards hiding a flush among pairs.
	r, err := rank7(cards(t, "Ah", "Jh", "9h", "7h", "3h", "Ad", "Jc"))
	if err != nil {
		t.Fatalf("rank7: %v", err)
	}
	if r.category != flush {
		t.Fatalf("expected flush, got category %d", r.category)
	}
}

func TestWinningSeats_OrdersAndTies(t *testing.T) {
	board := cards(t, "Ah", "Kh", "Qd", "8s", "2d")

	winners, err := winningSeats(board, map[int][2]Card{
		1: {mustCard(t, "Js"), mustCard(t, "Th")},
		4: {mustCard(t, "Jd"), mustCard(t, "Td")},
		7: {mustCard(t, "7c"), mustCard(t, "8d")},
	})
	if err != nil {
		t.Fatalf("winningSeats: %v", err)
	}
	if len(winners) != 2 || winners[0] != 1 || winners[1] != 4 {
		t.Fatalf("expected tied seats [1 4], got %v", winners)
	}
}

func TestWinningSeats_RejectsBoardHoleCollision(t *testing.T) {
	board := cards(t, "Ah", "Kh", "Qd", "8s", "2d")
	_, err := winningSeats(board, map[int][2]Card{
		0: {mustCard(t, "Ah"), mustCard(t, "Td")},
	})
	if err == nil {
		t.Fatalf("expected collision error")
	}
}
