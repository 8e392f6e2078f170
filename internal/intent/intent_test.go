package intent

import "testing"

func TestJournalAppliesInOrder(t *testing.T) {
	j := NewJournal[int]()
	j.Add(func(items []int) []int { return append(items, 1) })
	j.Add(func(items []int) []int { return append(items, 2) })

	got := j.Apply(nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected order: %v", got)
	}
	if j.Pending() != 2 {
		t.Fatalf("expected 2 pending got %d", j.Pending())
	}
}

func TestJournalResolveReplaysOriginalState(t *testing.T) {
	j := NewJournal[int]()
	id := j.Add(func(items []int) []int {
		for i := range items {
			items[i]++
		}
		return items
	})

	base := []int{1, 2}
	if got := j.Apply(append([]int(nil), base...)); got[0] != 2 {
		t.Fatalf("expected intent applied got %v", got)
	}

	j.Resolve(id)
	if got := j.Apply(append([]int(nil), base...)); got[0] != 1 {
		t.Fatalf("expected original state replayed got %v", got)
	}
	if j.Pending() != 0 {
		t.Fatalf("expected no pending intents got %d", j.Pending())
	}

	// Unknown ids are ignored.
	j.Resolve("missing")
}
