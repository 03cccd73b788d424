package memory

import (
	"strings"
	"testing"
)

// fieldCounter counts whitespace-separated words; good enough to reason
// about budgets in tests.
var fieldCounter = CounterFunc(func(text string) int { return len(strings.Fields(text)) })

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

func turnsOf(sizes ...int) []Turn {
	turns := make([]Turn, len(sizes))
	for i, n := range sizes {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns[i] = Turn{Role: role, Content: words(n)}
	}
	return turns
}

func TestTrim_ExclusiveThreshold(t *testing.T) {
	turns := turnsOf(5, 5, 5, 5)

	got := Trim(turns, 12, fieldCounter)
	if len(got) != 2 {
		t.Fatalf("expected the 2 newest turns (10 < 12, 15 >= 12), got %d", len(got))
	}
	if got[0] != turns[2] || got[1] != turns[3] {
		t.Errorf("expected suffix turns[2:], got %+v", got)
	}
}

func TestTrim_ReachingBudgetExactlyExcludes(t *testing.T) {
	got := Trim(turnsOf(5, 5, 5), 10, fieldCounter)
	if len(got) != 1 {
		t.Fatalf("expected 1 turn (5+5 reaches 10), got %d", len(got))
	}
}

func TestTrim_EverythingFits(t *testing.T) {
	turns := turnsOf(1, 2, 3)
	got := Trim(turns, 100, fieldCounter)
	assertTurns(t, got, turns)
}

func TestTrim_OversizedNewestTurnKept(t *testing.T) {
	turns := turnsOf(1, 1, 50)
	got := Trim(turns, 10, fieldCounter)
	if len(got) != 1 || got[0] != turns[2] {
		t.Fatalf("expected only the oversized newest turn, got %+v", got)
	}
}

func TestTrim_ZeroBudgetKeepsNewest(t *testing.T) {
	turns := turnsOf(3, 3)
	got := Trim(turns, 0, fieldCounter)
	if len(got) != 1 || got[0] != turns[1] {
		t.Fatalf("expected newest turn only, got %+v", got)
	}
}

func TestTrim_Empty(t *testing.T) {
	if got := Trim(nil, 10, fieldCounter); len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestTrim_DoesNotAliasInput(t *testing.T) {
	turns := turnsOf(1, 1)
	got := Trim(turns, 100, fieldCounter)
	got[0].Content = "changed"
	if turns[0].Content == "changed" {
		t.Error("Trim result aliases the input slice")
	}
}

func TestTrim_Properties(t *testing.T) {
	inputs := [][]int{
		{5, 5, 5, 5},
		{1},
		{0, 0, 0},
		{7, 1, 9, 2, 2, 30, 4},
		{100, 1, 1, 1},
		{3, 3, 3, 3, 3, 3, 3, 3, 3, 3},
	}
	for _, sizes := range inputs {
		for budget := 0; budget <= 40; budget++ {
			turns := turnsOf(sizes...)
			got := Trim(turns, budget, fieldCounter)

			if len(got) == 0 {
				t.Fatalf("sizes=%v budget=%d: empty result", sizes, budget)
			}
			// Contiguous, order-preserving suffix.
			offset := len(turns) - len(got)
			for i := range got {
				if got[i] != turns[offset+i] {
					t.Fatalf("sizes=%v budget=%d: not a suffix", sizes, budget)
				}
			}
			// Within budget unless a single oversized turn.
			if total := TokenCount(got, fieldCounter); len(got) > 1 && total > budget {
				t.Fatalf("sizes=%v budget=%d: total %d over budget with %d turns", sizes, budget, total, len(got))
			}
			// Idempotent.
			again := Trim(got, budget, fieldCounter)
			if len(again) != len(got) {
				t.Fatalf("sizes=%v budget=%d: not idempotent (%d then %d)", sizes, budget, len(got), len(again))
			}
		}
	}
}
