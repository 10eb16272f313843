package auction

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/iliyamo/slot-market/internal/model"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)

	t.Run("highest price wins", func(t *testing.T) {
		winner, losers, err := Resolve([]model.Bid{
			{OrderID: "orderX", SlotID: 1, BidPrice: 300, OrderCreatedAt: base},
			{OrderID: "orderY", SlotID: 2, BidPrice: 450, OrderCreatedAt: base.Add(time.Hour)},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if winner.OrderID != "orderY" {
			t.Fatalf("expected orderY to win, got %s", winner.OrderID)
		}
		if len(losers) != 1 || losers[0].OrderID != "orderX" {
			t.Fatalf("expected orderX as sole loser, got %+v", losers)
		}
	})

	t.Run("single bid wins unconditionally", func(t *testing.T) {
		winner, losers, err := Resolve([]model.Bid{{OrderID: "solo", SlotID: 7, BidPrice: 1}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if winner.OrderID != "solo" {
			t.Fatalf("expected solo to win, got %s", winner.OrderID)
		}
		if len(losers) != 0 {
			t.Fatalf("expected no losers, got %d", len(losers))
		}
	})

	t.Run("empty group returns ErrNoBids", func(t *testing.T) {
		_, _, err := Resolve(nil)
		if !errors.Is(err, ErrNoBids) {
			t.Fatalf("expected ErrNoBids, got %v", err)
		}
	})

	t.Run("tie goes to earliest order", func(t *testing.T) {
		bids := []model.Bid{
			{OrderID: "late", SlotID: 1, BidPrice: 500, OrderCreatedAt: base.Add(2 * time.Minute)},
			{OrderID: "early", SlotID: 2, BidPrice: 500, OrderCreatedAt: base},
			{OrderID: "low", SlotID: 3, BidPrice: 100, OrderCreatedAt: base.Add(-time.Hour)},
		}
		for i := 0; i < 20; i++ {
			winner, _, err := Resolve(bids)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if winner.OrderID != "early" {
				t.Fatalf("run %d: expected early to win, got %s", i, winner.OrderID)
			}
			bids[0], bids[1] = bids[1], bids[0]
		}
	})

	t.Run("tie with equal creation time falls back to order id", func(t *testing.T) {
		winner, _, err := Resolve([]model.Bid{
			{OrderID: "b", SlotID: 1, BidPrice: 200, OrderCreatedAt: base},
			{OrderID: "a", SlotID: 2, BidPrice: 200, OrderCreatedAt: base},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if winner.OrderID != "a" {
			t.Fatalf("expected a to win, got %s", winner.OrderID)
		}
	})

	t.Run("does not reorder input", func(t *testing.T) {
		bids := []model.Bid{
			{OrderID: "x", BidPrice: 1},
			{OrderID: "y", BidPrice: 2},
		}
		if _, _, err := Resolve(bids); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if bids[0].OrderID != "x" || bids[1].OrderID != "y" {
			t.Fatalf("input was reordered: %+v", bids)
		}
	})
}

func TestResolveProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(12)
		bids := make([]model.Bid, n)
		for i := range bids {
			bids[i] = model.Bid{
				OrderID:        string(rune('a' + rng.Intn(26))),
				SlotID:         uint64(i + 1),
				BidPrice:       int64(100 * (1 + rng.Intn(5))),
				OrderCreatedAt: base.Add(time.Duration(rng.Intn(4)) * time.Minute),
			}
		}
		winner, losers, err := Resolve(bids)
		if err != nil {
			t.Fatalf("round %d: unexpected error %v", round, err)
		}
		if len(losers) != n-1 {
			t.Fatalf("round %d: expected %d losers, got %d", round, n-1, len(losers))
		}
		for _, l := range losers {
			if l.BidPrice > winner.BidPrice {
				t.Fatalf("round %d: loser %+v outbids winner %+v", round, l, winner)
			}
			if l.SlotID == winner.SlotID {
				t.Fatalf("round %d: winner also listed as loser", round)
			}
		}

		shuffled := make([]model.Bid, n)
		copy(shuffled, bids)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again, _, _ := Resolve(shuffled)
		if again.SlotID != winner.SlotID {
			t.Fatalf("round %d: winner depends on input order (%d vs %d)", round, winner.SlotID, again.SlotID)
		}
	}
}
