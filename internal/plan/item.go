package plan

// CategoryCode classifies a plan item for display and statistics.
type CategoryCode string

const (
	CategorySight     CategoryCode = "sight"
	CategoryFood      CategoryCode = "food"
	CategoryLodging   CategoryCode = "lodging"
	CategoryTransport CategoryCode = "transport"
	CategoryShopping  CategoryCode = "shopping"
	CategoryEtc       CategoryCode = "etc"
)

func (c CategoryCode) Valid() bool {
	switch c {
	case CategorySight, CategoryFood, CategoryLodging, CategoryTransport, CategoryShopping, CategoryEtc:
		return true
	}
	return false
}

// PlanItem is one itinerary entry. CrdtID is the stable identity that
// survives moves across days and is never reused; Position orders the item
// within its current day. Tombstoned items stay in the collection so late
// operations referencing them resolve instead of erroring.
type PlanItem struct {
	CrdtID         string       `json:"crdtId"`
	Day            int          `json:"day"`
	Place          string       `json:"place"`
	Address        string       `json:"address"`
	Cost           int          `json:"cost"`
	CategoryCode   CategoryCode `json:"categoryCode"`
	Position       Position     `json:"position"`
	OpTimestamp    int64        `json:"opTimestamp"`
	OriginClientID string       `json:"originClientId"`
	Tombstone      bool         `json:"tombstone"`
}

// Clone returns a deep copy of the item.
func (it PlanItem) Clone() PlanItem {
	out := it
	out.Position = it.Position.Clone()
	return out
}

// Before reports whether it orders ahead of other within a day, breaking
// position ties by (opTimestamp, originClientId) so that every replica
// arrives at the same order without a handshake.
func (it PlanItem) Before(other PlanItem) bool {
	if c := it.Position.Compare(other.Position); c != 0 {
		return c < 0
	}
	if it.OpTimestamp != other.OpTimestamp {
		return it.OpTimestamp < other.OpTimestamp
	}
	return it.OriginClientID < other.OriginClientID
}

// DaySnapshot is the unit of authoritative truth for one day, pushed by the
// server inside a join-response. LastStreamOffset is an opaque cursor into
// the server's operation stream.
type DaySnapshot struct {
	Items            []PlanItem `json:"items"`
	LastStreamOffset string     `json:"lastStreamOffset"`
}
