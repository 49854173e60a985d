package ids

import (
	"sort"
	"testing"
)

func TestNewProducesUniqueSortedIDs(t *testing.T) {
	const n = 100
	seen := make(map[string]struct{}, n)
	var generated []string
	for i := 0; i < n; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = struct{}{}
		generated = append(generated, id)
	}
	if !sort.StringsAreSorted(generated) {
		t.Fatal("ids generated in sequence should sort in creation order")
	}
}
