package plan

import "testing"

func TestPositionCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Position
		want int
	}{
		{"equal", Position{1, 2}, Position{1, 2}, 0},
		{"first digit", Position{1}, Position{2}, -1},
		{"prefix sorts first", Position{5}, Position{5, 0}, -1},
		{"deeper digit", Position{5, 3}, Position{5, 4}, -1},
		{"nil before anything", nil, Position{0}, -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Fatalf("%s: Compare = %d, want %d", tc.name, got, tc.want)
		}
		if got := tc.b.Compare(tc.a); got != -tc.want {
			t.Fatalf("%s: reverse Compare = %d, want %d", tc.name, got, -tc.want)
		}
	}
}

func TestPositionBetweenStaysStrictlyInside(t *testing.T) {
	cases := []struct {
		name         string
		lower, upper Position
	}{
		{"open both ends", nil, nil},
		{"open upper", Position{100}, nil},
		{"open lower", nil, Position{100}},
		{"wide gap", Position{100}, Position{200}},
		{"adjacent digits", Position{100}, Position{101}},
		{"prefix bound", Position{100}, Position{100, 3}},
		{"deep adjacent", Position{7, 7, 7}, Position{7, 7, 8}},
	}
	for _, tc := range cases {
		got := positionBetween(tc.lower, tc.upper)
		if tc.lower != nil && got.Compare(tc.lower) <= 0 {
			t.Fatalf("%s: %v not above lower %v", tc.name, got, tc.lower)
		}
		if tc.upper != nil && got.Compare(tc.upper) >= 0 {
			t.Fatalf("%s: %v not below upper %v", tc.name, got, tc.upper)
		}
	}
}

func TestPositionBetweenIsDeterministic(t *testing.T) {
	lower := Position{100, 5}
	upper := Position{100, 6}
	first := positionBetween(lower, upper)
	second := positionBetween(lower, upper)
	if first.Compare(second) != 0 {
		t.Fatalf("same bounds produced different paths: %v vs %v", first, second)
	}
}

func TestPlacementPositionDisambiguatesConcurrentPlacements(t *testing.T) {
	a := placementPosition(nil, nil, 1000, "alice")
	b := placementPosition(nil, nil, 2000, "bob")
	if a.Compare(b) == 0 {
		t.Fatalf("concurrent placements share a position")
	}
	if a.Compare(b) >= 0 {
		t.Fatalf("earlier timestamp must order first: %v vs %v", a, b)
	}
}

func TestPlacementChainSupportsRepeatedInsertion(t *testing.T) {
	// Repeatedly insert at the head; every new key must land below the
	// previous head.
	upper := placementPosition(nil, nil, 1, "c0")
	for i := 2; i < 40; i++ {
		next := placementPosition(nil, upper, int64(i), "c0")
		if next.Compare(upper) >= 0 {
			t.Fatalf("iteration %d: %v not below %v", i, next, upper)
		}
		upper = next
	}
}
