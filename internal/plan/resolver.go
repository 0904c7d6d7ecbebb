package plan

// Neighbors is the prev/next identity pair handed to the operation builder
// to place an item at a target position. Empty ids mean the open start/end
// bound.
type Neighbors struct {
	PrevCrdtID string
	NextCrdtID string
}

// ResolveNeighbors computes the neighbor pair for placing an item at index
// within day, operating on the live ordered view with excludeCrdtID removed
// from its own neighbor set (a dragged item cannot be its own neighbor).
// The index is interpreted against that reduced view and clamped to its
// bounds, so a drop past the end lands at the end.
func (s *Store) ResolveNeighbors(day, index int, excludeCrdtID string) Neighbors {
	view := s.Day(day)
	if excludeCrdtID != "" {
		filtered := view[:0]
		for _, item := range view {
			if item.CrdtID == excludeCrdtID {
				continue
			}
			filtered = append(filtered, item)
		}
		view = filtered
	}
	if index < 0 {
		index = 0
	}
	if index > len(view) {
		index = len(view)
	}
	var n Neighbors
	if index > 0 {
		n.PrevCrdtID = view[index-1].CrdtID
	}
	if index < len(view) {
		n.NextCrdtID = view[index].CrdtID
	}
	return n
}

// ResolveAfter computes the neighbor pair for inserting directly after an
// existing item, the "insert after search result" action. It returns the
// day the anchor currently lives in. A missing or tombstoned anchor yields
// ErrUnknownItem.
func (s *Store) ResolveAfter(anchorCrdtID string) (int, Neighbors, error) {
	anchor, ok := s.Item(anchorCrdtID)
	if !ok || anchor.Tombstone {
		return 0, Neighbors{}, ErrUnknownItem
	}
	view := s.Day(anchor.Day)
	for i, item := range view {
		if item.CrdtID != anchorCrdtID {
			continue
		}
		n := Neighbors{PrevCrdtID: anchorCrdtID}
		if i+1 < len(view) {
			n.NextCrdtID = view[i+1].CrdtID
		}
		return anchor.Day, n, nil
	}
	return 0, Neighbors{}, ErrUnknownItem
}
