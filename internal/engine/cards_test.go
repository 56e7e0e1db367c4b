package engine

import "testing"

func TestShuffledDeck_DeterministicPerSeed(t *testing.T) {
	a := ShuffledDeck([]byte("tbl|hand-1"))
	b := ShuffledDeck([]byte("tbl|hand-1"))
	if len(a) != 52 || len(b) != 52 {
		t.Fatalf("expected 52 cards, got %d/%d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at index %d", i)
		}
	}
}

func TestShuffledDeck_IsPermutation(t *testing.T) {
	deck := ShuffledDeck([]byte("tbl|hand-2"))
	var seen [52]bool
	for _, c := range deck {
		if c > 51 {
			t.Fatalf("invalid card id %d", c)
		}
		if seen[c] {
			t.Fatalf("duplicate card id %d", c)
		}
		seen[c] = true
	}
}

func TestShuffledDeck_DifferentSeedsDiffer(t *testing.T) {
	a := ShuffledDeck([]byte("tbl|hand-1"))
	b := ShuffledDeck([]byte("tbl|hand-2"))
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different seeds to produce different decks")
	}
}

func TestCardString_RoundTripNotation(t *testing.T) {
	for _, want := range []string{"2c", "9d", "Th", "Js", "Qc", "Kd", "Ah"} {
		c := mustCard(t, want)
		if got := c.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
