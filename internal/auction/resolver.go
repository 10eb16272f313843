// Package auction resolves sealed-bid contention for a single slot.
package auction

import (
	"errors"
	"sort"

	"github.com/iliyamo/slot-market/internal/model"
)

// ErrNoBids is returned when a contention group is empty.
var ErrNoBids = errors.New("auction: no bids")

// Resolve picks the winner among all bids competing for one contention key.
//
// Bids are ordered by price, highest first.  Equal prices go to the order
// created first; if creation times are also equal the lexicographically
// smaller order id wins, then the smaller slot id, so the outcome never
// depends on input order.  A lone bid wins unconditionally.  The input slice
// is not modified.
func Resolve(bids []model.Bid) (model.Bid, []model.Bid, error) {
	if len(bids) == 0 {
		return model.Bid{}, nil, ErrNoBids
	}
	sorted := make([]model.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool { return ranksBefore(sorted[i], sorted[j]) })
	return sorted[0], sorted[1:], nil
}

func ranksBefore(a, b model.Bid) bool {
	if a.BidPrice != b.BidPrice {
		return a.BidPrice > b.BidPrice
	}
	if !a.OrderCreatedAt.Equal(b.OrderCreatedAt) {
		return a.OrderCreatedAt.Before(b.OrderCreatedAt)
	}
	if a.OrderID != b.OrderID {
		return a.OrderID < b.OrderID
	}
	return a.SlotID < b.SlotID
}
