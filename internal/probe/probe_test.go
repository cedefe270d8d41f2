package probe_test

import (
	"testing"

	"github.com/calvinalkan/classindex/internal/probe"
)

func Test_SlotMask_Returns_Power_Of_Two_Mask_When_Given_Various_Capacities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		capacity int
		want     uint32
	}{
		// below minimum clamps up
		{capacity: 0, want: 15},
		{capacity: -5, want: 15},
		{capacity: 16, want: 15},
		// rounds up to next power of two
		{capacity: 17, want: 31},
		{capacity: 1000, want: 1023},
		{capacity: 1024, want: 1023},
		// above maximum clamps down
		{capacity: 1 << 30, want: 1<<20 - 1},
	}

	for _, tt := range tests {
		got := probe.SlotMask(tt.capacity, 16, 1<<20)
		if got != tt.want {
			t.Errorf("SlotMask(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func Test_Hash_Matches_Reference_FNV1a_When_Given_Known_Inputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint32
	}{
		{in: "", want: 0x811c9dc5},
		{in: "a", want: 0xe40c292c},
		{in: "foobar", want: 0xbf9cf968},
	}

	for _, tt := range tests {
		if got := probe.Hash(tt.in); got != tt.want {
			t.Errorf("Hash(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func Test_Rehash_Visits_Different_Slots_When_Chained(t *testing.T) {
	t.Parallel()

	const mask = 1023

	seen := make(map[uint32]bool)
	h := probe.Hash("java/lang/String")

	for range probe.MaxAttempts {
		seen[h&mask] = true
		h = probe.Rehash(h)
	}

	// a handful of collisions within ten probes is fine; a degenerate chain is not
	if len(seen) < probe.MaxAttempts/2 {
		t.Fatalf("probe chain only visited %d distinct slots", len(seen))
	}
}
