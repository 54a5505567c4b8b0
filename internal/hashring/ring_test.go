package hashring

import "testing"

func TestGetIsDeterministic(t *testing.T) {
	r := New([]string{"a-00", "a-01", "a-02", "a-03"})
	got := r.Get("query-1")
	for i := 0; i < 100; i++ {
		if r.Get("query-1") != got {
			t.Fatalf("Get is not deterministic for a fixed key")
		}
	}
}

func TestIndexMatchesGet(t *testing.T) {
	names := []string{"a-00", "a-01", "a-02", "a-03"}
	r := New(names)
	idx := r.Index("query-1")
	if idx < 0 || idx >= len(names) {
		t.Fatalf("index out of range: %d", idx)
	}
	if names[idx] != r.Get("query-1") {
		t.Fatalf("Index(%q)=%d (%q) disagrees with Get=%q", "query-1", idx, names[idx], r.Get("query-1"))
	}
}

func TestDistributionIsReasonablyEven(t *testing.T) {
	names := []string{"a-00", "a-01", "a-02", "a-03", "a-04"}
	r := New(names)
	counts := make(map[string]int)
	const trials = 5000
	for i := 0; i < trials; i++ {
		key := keyFor(i)
		counts[r.Get(key)]++
	}
	if len(counts) != len(names) {
		t.Fatalf("expected all %d destinations to receive traffic, got %d", len(names), len(counts))
	}
	for name, c := range counts {
		if c < trials/len(names)/3 {
			t.Errorf("destination %q received suspiciously few keys: %d", name, c)
		}
	}
}

func keyFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for j := range b {
		b[j] = letters[(i*31+j*17)%len(letters)]
	}
	return string(b)
}
