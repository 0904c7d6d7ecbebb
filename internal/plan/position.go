package plan

import "hash/fnv"

// Position is an orderable key establishing the total order of items within
// a day. It is a path of digits compared lexicographically, with a shorter
// path sorting before any longer path it prefixes. Positions are derived by
// the interpreter, never authored directly.
type Position []int64

const positionDigitMax = int64(1) << 62

// Compare returns -1, 0, or 1 ordering a relative to b.
func (p Position) Compare(other Position) int {
	for i := 0; ; i++ {
		aEnd := i >= len(p)
		bEnd := i >= len(other)
		switch {
		case aEnd && bEnd:
			return 0
		case aEnd:
			return -1
		case bEnd:
			return 1
		case p[i] < other[i]:
			return -1
		case p[i] > other[i]:
			return 1
		}
	}
}

// Clone returns a copy so callers cannot alias store-owned digits.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	copy(out, p)
	return out
}

// positionBetween computes a digit path strictly between lower and upper.
// A nil lower means the open start bound, a nil upper the open end bound.
// The result depends only on the bounds, so every replica computing the
// placement for the same operation arrives at the same path.
func positionBetween(lower, upper Position) Position {
	out := make(Position, 0, len(lower)+1)
	upperBinds := true
	for i := 0; ; i++ {
		lo := int64(0)
		if i < len(lower) {
			lo = lower[i]
		}
		hi := positionDigitMax
		if upperBinds && i < len(upper) {
			hi = upper[i]
		}
		if hi < lo {
			// Corrupt bounds; fall back to extending past lower.
			hi = positionDigitMax
		}
		if hi-lo > 1 {
			return append(out, lo+(hi-lo)/2)
		}
		out = append(out, lo)
		if hi-lo == 1 {
			upperBinds = false
		}
	}
}

// placementPosition derives the position for an item placed between the
// given bounds by op. The trailing digits disambiguate concurrent
// placements into the same gap so no two live items share a key, while
// preserving the (position, opTimestamp, clientId) tie-break order.
func placementPosition(lower, upper Position, opTimestamp int64, clientID string) Position {
	base := positionBetween(lower, upper)
	return append(base, opTimestamp, int64(clientHash(clientID)))
}

func clientHash(clientID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return h.Sum32()
}
