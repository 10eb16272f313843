package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iliyamo/slot-market/internal/model"
	"github.com/iliyamo/slot-market/internal/queue"
	"github.com/iliyamo/slot-market/internal/repository"
)

// fakeStore is an in-memory order repository and stats store.  WithTx
// snapshots both and restores them when fn fails.  Writing a slot as won
// fails with ErrSlotTaken when another slot already holds that key as won,
// like the unique won key index.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders map[string]model.Order
	stats  map[model.PeriodKey]model.MarketStat

	listErr      error
	stale        []model.Order
	staleWonKeys bool
	completeErrs []error
}

func newFakeStore(orders ...model.Order) *fakeStore {
	s := &fakeStore{
		orders: make(map[string]model.Order),
		stats:  make(map[model.PeriodKey]model.MarketStat),
	}
	for _, o := range orders {
		s.orders[o.ID] = cloneOrder(o)
	}
	return s
}

func cloneOrder(o model.Order) model.Order {
	o.Slots = append([]model.SlotLineItem(nil), o.Slots...)
	return o
}

func (s *fakeStore) order(id string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *fakeStore) stat(k model.PeriodKey) model.MarketStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[k]
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	orders := make(map[string]model.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = cloneOrder(v)
	}
	stats := make(map[model.PeriodKey]model.MarketStat, len(s.stats))
	for k, v := range s.stats {
		stats[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.orders, s.stats = orders, stats
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) ListAwaitingSettlement(ctx context.Context) ([]model.Order, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale != nil {
		return s.stale, nil
	}
	var out []model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderStatusAwaitingSettlement && !o.NeedsReview {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *fakeStore) WonKeys(ctx context.Context, keys []model.ContentionKey) (map[model.ContentionKey]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleWonKeys {
		return map[model.ContentionKey]bool{}, nil
	}
	want := make(map[model.ContentionKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[model.ContentionKey]bool)
	for _, o := range s.orders {
		for _, sl := range o.Slots {
			if sl.Status == model.SlotStatusWon && want[sl.Key()] {
				out[sl.Key()] = true
			}
		}
	}
	return out, nil
}

func (s *fakeStore) SaveProvisional(ctx context.Context, orderID string, slots map[uint64]model.SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.awaitingOrder(orderID)
	if err != nil {
		return err
	}
	if err := s.applySlots(&o, slots); err != nil {
		return err
	}
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) ClaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error {
	if len(slotIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.awaitingOrder(orderID)
	if err != nil {
		return err
	}
	won := make(map[uint64]model.SlotStatus, len(slotIDs))
	for _, id := range slotIDs {
		won[id] = model.SlotStatusWon
	}
	if err := s.applySlots(&o, won); err != nil {
		return err
	}
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) UnclaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error {
	if len(slotIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.awaitingOrder(orderID)
	if err != nil {
		return err
	}
	for _, id := range slotIDs {
		for i := range o.Slots {
			if o.Slots[i].ID == id && o.Slots[i].Status == model.SlotStatusWon {
				o.Slots[i].Status = model.SlotStatusWinning
			}
		}
	}
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) RecordFailedAttempt(ctx context.Context, orderID string, maxAttempts int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderStatusAwaitingSettlement {
		return 0, false, repository.ErrStateConflict
	}
	o.SettleAttempts++
	o.NeedsReview = o.SettleAttempts >= maxAttempts
	s.orders[orderID] = o
	return o.SettleAttempts, o.NeedsReview, nil
}

func (s *fakeStore) FlagForReview(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderStatusAwaitingSettlement {
		return repository.ErrStateConflict
	}
	o.NeedsReview = true
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) CompleteSettlement(ctx context.Context, orderID string, status model.OrderStatus, payable int64, slots map[uint64]model.SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completeErrs) > 0 {
		err := s.completeErrs[0]
		s.completeErrs = s.completeErrs[1:]
		if err != nil {
			return err
		}
	}
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderStatusAwaitingSettlement {
		return repository.ErrStateConflict
	}
	if err := s.applySlots(&o, slots); err != nil {
		return err
	}
	o.Status = status
	o.PayableAmount = &payable
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) awaitingOrder(orderID string) (model.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, repository.ErrOrderNotFound
	}
	if o.Status != model.OrderStatusAwaitingSettlement {
		return model.Order{}, repository.ErrStateConflict
	}
	return cloneOrder(o), nil
}

// applySlots writes statuses to the non-final slots of o.  Nothing is
// written when a new won slot collides with a won slot elsewhere.
func (s *fakeStore) applySlots(o *model.Order, slots map[uint64]model.SlotStatus) error {
	for _, sl := range o.Slots {
		if st, ok := slots[sl.ID]; ok && st == model.SlotStatusWon && !sl.Status.Final() && s.wonElsewhere(sl) {
			return fmt.Errorf("slot %d: %w", sl.ID, repository.ErrSlotTaken)
		}
	}
	for i := range o.Slots {
		if st, ok := slots[o.Slots[i].ID]; ok && !o.Slots[i].Status.Final() {
			o.Slots[i].Status = st
		}
	}
	return nil
}

func (s *fakeStore) wonElsewhere(sl model.SlotLineItem) bool {
	for _, o := range s.orders {
		for _, other := range o.Slots {
			if other.ID != sl.ID && other.Status == model.SlotStatusWon && other.Key() == sl.Key() {
				return true
			}
		}
	}
	return false
}

func (s *fakeStore) RecordBid(ctx context.Context, key model.PeriodKey, amount int64) (model.MarketStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[key]
	st.Key = key
	st.TotalBids++
	st.TotalAmount += amount
	st.AveragePrice = model.RoundedAverage(st.TotalAmount, st.TotalBids)
	s.stats[key] = st
	return st, nil
}

type paymentCall struct {
	op     string
	authID string
	amount int64
}

// fakeGateway records calls and fails them while fail returns an error.
type fakeGateway struct {
	mu    sync.Mutex
	calls []paymentCall
	fail  func(op, authID string) error
}

func (g *fakeGateway) Capture(ctx context.Context, authID string, amount int64) error {
	return g.record(paymentCall{op: "capture", authID: authID, amount: amount})
}

func (g *fakeGateway) Release(ctx context.Context, authID string) error {
	return g.record(paymentCall{op: "release", authID: authID})
}

func (g *fakeGateway) record(c paymentCall) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		if err := g.fail(c.op, c.authID); err != nil {
			return err
		}
	}
	g.calls = append(g.calls, c)
	return nil
}

func (g *fakeGateway) callsFor(authID string) []paymentCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []paymentCall
	for _, c := range g.calls {
		if c.authID == authID {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, ev queue.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) find(orderID, event string) (queue.NotificationEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.OrderID == orderID && ev.Event == event {
			return ev, true
		}
	}
	return queue.NotificationEvent{}, false
}

func (n *fakeNotifier) count(orderID, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.OrderID == orderID && ev.Event == event {
			c++
		}
	}
	return c
}

type countingCache struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var errBoom = errors.New("boom")
