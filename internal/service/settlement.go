// Package service holds the settlement engine and its collaborators: the
// notification publisher and the in-process scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/slot-market/internal/auction"
	"github.com/iliyamo/slot-market/internal/clock"
	"github.com/iliyamo/slot-market/internal/config"
	"github.com/iliyamo/slot-market/internal/model"
	"github.com/iliyamo/slot-market/internal/payment"
	"github.com/iliyamo/slot-market/internal/queue"
	"github.com/iliyamo/slot-market/internal/repository"
)

// OrderRepository is the persistence the settler needs.  It is satisfied by
// *repository.OrderRepo.
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListAwaitingSettlement(ctx context.Context) ([]model.Order, error)
	GetByID(ctx context.Context, id string) (model.Order, error)
	WonKeys(ctx context.Context, keys []model.ContentionKey) (map[model.ContentionKey]bool, error)
	SaveProvisional(ctx context.Context, orderID string, slots map[uint64]model.SlotStatus) error
	ClaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error
	UnclaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error
	RecordFailedAttempt(ctx context.Context, orderID string, maxAttempts int) (int, bool, error)
	FlagForReview(ctx context.Context, orderID string) error
	CompleteSettlement(ctx context.Context, orderID string, status model.OrderStatus, payable int64, slots map[uint64]model.SlotStatus) error
}

// StatsStore accumulates market price statistics.  It is satisfied by
// *repository.MarketStatRepo.
type StatsStore interface {
	RecordBid(ctx context.Context, key model.PeriodKey, amount int64) (model.MarketStat, error)
}

// StatsCache drops cached market price responses once new bids are
// recorded.
type StatsCache interface {
	Invalidate(ctx context.Context) error
}

// Outcome summarizes what one tick did with one order.
type Outcome string

const (
	// OutcomeSettled: payment moved and the order reached a terminal status.
	OutcomeSettled Outcome = "settled"
	// OutcomePending: some slots are still inside their bidding window.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped: the order was no longer awaiting settlement.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetryable: a payment or write failed; the next tick retries.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeInvalid: a slot carries inconsistent data; the order is kept
	// out of contention and counts a failed attempt.
	OutcomeInvalid Outcome = "invalid"
)

// OrderResult is the per-order report of a tick.
type OrderResult struct {
	OrderID      string            `json:"order_id"`
	Outcome      Outcome           `json:"outcome"`
	Status       model.OrderStatus `json:"status"`
	SlotsSettled int               `json:"slots_settled"`
	Err          error             `json:"-"`

	bidsRecorded int
}

// TickResult is the report of one settlement run.
type TickResult struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	OrdersLoaded   int           `json:"orders_loaded"`
	SlotsEligible  int           `json:"slots_eligible"`
	SlotsDeferred  int           `json:"slots_deferred"`
	SlotsProcessed int           `json:"slots_processed"`
	Groups         int           `json:"groups"`
	Results        []OrderResult `json:"results"`
}

// Count returns how many orders ended the tick with outcome o.
func (r TickResult) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Settler runs settlement ticks.
type Settler struct {
	orders   OrderRepository
	stats    StatsStore
	gateway  payment.Gateway
	notifier Notifier
	clock    clock.Clock
	cfg      config.SettlementConfig
	cache    StatsCache
}

// NewSettler wires a settler.  A nil notifier logs events instead, a nil
// clock uses the system clock.
func NewSettler(orders OrderRepository, stats StatsStore, gateway payment.Gateway, notifier Notifier, clk clock.Clock, cfg config.SettlementConfig) *Settler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Settler{
		orders:   orders,
		stats:    stats,
		gateway:  gateway,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg.Normalize(),
	}
}

// WithStatsCache makes the settler invalidate c after every tick that
// recorded bids.
func (s *Settler) WithStatsCache(c StatsCache) *Settler {
	s.cache = c
	return s
}

// orderPlan holds one order and the decisions this tick made for its slots.
type orderPlan struct {
	order     model.Order
	decisions map[uint64]model.SlotStatus
	deferred  int
	invalid   []error
}

type candidate struct {
	plan int
	slot int
}

// RunTick performs one settlement pass over every order awaiting
// settlement.  Only a failure to load the work is returned as an error; per
// order failures are reported in the result and retried on the next tick.
func (s *Settler) RunTick(ctx context.Context) (TickResult, error) {
	now := s.clock.Now()
	res := TickResult{StartedAt: now}

	orders, err := s.orders.ListAwaitingSettlement(ctx)
	if err != nil {
		return res, fmt.Errorf("load awaiting orders: %w", err)
	}
	res.OrdersLoaded = len(orders)

	plans := make([]orderPlan, len(orders))
	groups := make(map[model.ContentionKey][]candidate)
	for i, o := range orders {
		plans[i] = orderPlan{order: o, decisions: make(map[uint64]model.SlotStatus)}
		for _, sl := range o.Slots {
			if sl.Status.Final() {
				continue
			}
			if err := sl.Validate(); err != nil {
				plans[i].invalid = append(plans[i].invalid, err)
			}
		}
		if len(plans[i].invalid) > 0 {
			slog.Warn("settlement: order excluded",
				slog.String("order_id", o.ID),
				slog.String("error", errors.Join(plans[i].invalid...).Error()))
			continue
		}
		for j, sl := range o.Slots {
			if sl.Status.Final() {
				continue
			}
			if !sl.BiddingClosed(now, s.cfg.Cutoff) {
				plans[i].deferred++
				res.SlotsDeferred++
				continue
			}
			res.SlotsEligible++
			groups[sl.Key()] = append(groups[sl.Key()], candidate{plan: i, slot: j})
		}
	}

	keys := make([]model.ContentionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
	res.Groups = len(keys)

	taken, err := s.orders.WonKeys(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("load won keys: %w", err)
	}

	for _, k := range keys {
		cands := groups[k]
		if taken[k] {
			for _, c := range cands {
				plans[c.plan].decisions[orders[c.plan].Slots[c.slot].ID] = model.SlotStatusOutbid
			}
			continue
		}
		bids := make([]model.Bid, 0, len(cands))
		for _, c := range cands {
			sl := orders[c.plan].Slots[c.slot]
			bids = append(bids, model.Bid{
				OrderID:        orders[c.plan].ID,
				SlotID:         sl.ID,
				BidPrice:       sl.BidPrice,
				OrderCreatedAt: orders[c.plan].CreatedAt,
			})
		}
		winner, _, err := auction.Resolve(bids)
		if err != nil {
			continue
		}
		for _, c := range cands {
			id := orders[c.plan].Slots[c.slot].ID
			if id == winner.SlotID {
				plans[c.plan].decisions[id] = model.SlotStatusWinning
			} else {
				plans[c.plan].decisions[id] = model.SlotStatusOutbid
			}
		}
	}

	res.Results = make([]OrderResult, len(plans))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range plans {
		g.Go(func() error {
			res.Results[i] = s.settleOrder(ctx, &plans[i])
			return nil
		})
	}
	_ = g.Wait()

	recorded := 0
	for _, r := range res.Results {
		res.SlotsProcessed += r.SlotsSettled
		recorded += r.bidsRecorded
	}
	if recorded > 0 && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			slog.Warn("settlement: market price cache invalidation failed",
				slog.String("error", err.Error()))
		}
	}
	res.FinishedAt = s.clock.Now()
	slog.Info("settlement tick finished",
		slog.Int("orders", res.OrdersLoaded),
		slog.Int("groups", res.Groups),
		slog.Int("slots_processed", res.SlotsProcessed),
		slog.Int("settled", res.Count(OutcomeSettled)),
		slog.Int("retryable", res.Count(OutcomeRetryable)))
	return res, nil
}

func (s *Settler) settleOrder(ctx context.Context, p *orderPlan) OrderResult {
	o := p.order
	r := OrderResult{OrderID: o.ID, Status: o.Status}

	current, err := s.orders.GetByID(ctx, o.ID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			r.Outcome = OutcomeSkipped
			return r
		}
		r.Outcome, r.Err = OutcomeRetryable, err
		return r
	}
	if current.Status != model.OrderStatusAwaitingSettlement || current.NeedsReview {
		r.Outcome, r.Status = OutcomeSkipped, current.Status
		return r
	}
	authID := current.PaymentAuthorizationID

	if len(p.invalid) > 0 {
		err := errors.Join(p.invalid...)
		s.recordFailure(ctx, o.ID, authID, err)
		r.Outcome, r.Err = OutcomeInvalid, err
		return r
	}

	if p.deferred > 0 {
		if err := s.orders.SaveProvisional(ctx, o.ID, p.decisions); err != nil {
			if errors.Is(err, repository.ErrStateConflict) {
				r.Outcome = OutcomeSkipped
				return r
			}
			r.Outcome, r.Err = OutcomeRetryable, err
			return r
		}
		r.Outcome = OutcomePending
		s.notifyProvisional(ctx, current, p.decisions)
		return r
	}

	final := make([]model.SlotLineItem, len(o.Slots))
	updates := make(map[uint64]model.SlotStatus, len(p.decisions))
	var won, lost []model.SlotLineItem
	var claim []uint64
	var wonTotal int64
	for i, sl := range o.Slots {
		switch p.decisions[sl.ID] {
		case model.SlotStatusWinning:
			sl.Status = model.SlotStatusWon
			updates[sl.ID] = sl.Status
			claim = append(claim, sl.ID)
		case model.SlotStatusOutbid:
			sl.Status = model.SlotStatusLost
			updates[sl.ID] = sl.Status
		}
		switch sl.Status {
		case model.SlotStatusWon:
			wonTotal += sl.BidPrice
			won = append(won, sl)
		case model.SlotStatusLost:
			lost = append(lost, sl)
		}
		final[i] = sl
	}
	status, ok := model.FinalStatus(final)
	if !ok {
		r.Outcome = OutcomeInvalid
		r.Err = fmt.Errorf("order %s: slots left undecided", o.ID)
		return r
	}

	// Winning keys are claimed before any money moves.  A concurrent tick
	// that already took a key makes this one back off without capturing.
	if err := s.orders.ClaimSlots(ctx, o.ID, claim); err != nil {
		switch {
		case errors.Is(err, repository.ErrStateConflict):
			r.Outcome = OutcomeSkipped
		case errors.Is(err, repository.ErrSlotTaken):
			slog.Warn("settlement: winning key claimed by another order",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()))
			r.Outcome, r.Err = OutcomeRetryable, err
		default:
			r.Outcome, r.Err = OutcomeRetryable, err
		}
		return r
	}

	if wonTotal > 0 {
		err = s.gateway.Capture(ctx, authID, wonTotal)
	} else {
		err = s.gateway.Release(ctx, authID)
	}
	if err != nil {
		if uerr := s.orders.UnclaimSlots(ctx, o.ID, claim); uerr != nil {
			slog.Error("settlement: unclaim after payment failure",
				slog.String("order_id", o.ID),
				slog.String("error", uerr.Error()))
		}
		s.recordFailure(ctx, o.ID, authID, err)
		r.Outcome, r.Err = OutcomeRetryable, err
		return r
	}

	err = s.retryWrite(ctx, func(ctx context.Context) error {
		return s.orders.WithTx(ctx, func(ctx context.Context) error {
			if err := s.orders.CompleteSettlement(ctx, o.ID, status, wonTotal, updates); err != nil {
				return err
			}
			for _, sl := range won {
				if _, err := s.stats.RecordBid(ctx, model.ResourcePeriodKey(sl), sl.BidPrice); err != nil {
					return err
				}
				if _, err := s.stats.RecordBid(ctx, model.GlobalPeriodKey(sl), sl.BidPrice); err != nil {
					return err
				}
			}
			return nil
		})
	})
	switch {
	case errors.Is(err, repository.ErrStateConflict):
		r.Outcome = OutcomeSkipped
		return r
	case errors.Is(err, repository.ErrSlotTaken):
		slog.Error("settlement: payment moved on a taken key, flagging for review",
			slog.String("order_id", o.ID),
			slog.String("authorization_id", authID),
			slog.Int64("won_total", wonTotal),
			slog.String("error", err.Error()))
		if ferr := s.orders.FlagForReview(ctx, o.ID); ferr != nil {
			slog.Error("settlement: flag for review failed",
				slog.String("order_id", o.ID),
				slog.String("error", ferr.Error()))
		}
		r.Outcome, r.Err = OutcomeRetryable, err
		return r
	case err != nil:
		slog.Error("settlement: payment moved but finalize failed",
			slog.String("order_id", o.ID),
			slog.String("authorization_id", authID),
			slog.Int64("won_total", wonTotal),
			slog.String("error", err.Error()))
		r.Outcome, r.Err = OutcomeRetryable, err
		return r
	}

	r.Outcome, r.Status, r.SlotsSettled = OutcomeSettled, status, len(updates)
	r.bidsRecorded = len(won)
	s.notify(ctx, current, queue.EventWon, wonTotal, won)
	s.notify(ctx, current, queue.EventLost, 0, lost)
	return r
}

// notifyProvisional tells the buyer about slots that became winning on this
// tick while the rest of the order is still open.
func (s *Settler) notifyProvisional(ctx context.Context, current model.Order, decisions map[uint64]model.SlotStatus) {
	var fresh []model.SlotLineItem
	var total int64
	for _, sl := range current.Slots {
		if decisions[sl.ID] == model.SlotStatusWinning && sl.Status != model.SlotStatusWinning {
			fresh = append(fresh, sl)
			total += sl.BidPrice
		}
	}
	s.notify(ctx, current, queue.EventWinning, total, fresh)
}

func (s *Settler) recordFailure(ctx context.Context, orderID, authID string, cause error) {
	attempts, flagged, err := s.orders.RecordFailedAttempt(ctx, orderID, s.cfg.MaxAttempts)
	if err != nil {
		slog.Error("settlement: record failed attempt",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
		return
	}
	if flagged {
		slog.Error("settlement: order flagged for review",
			slog.String("order_id", orderID),
			slog.String("authorization_id", authID),
			slog.Int("attempts", attempts),
			slog.String("error", cause.Error()))
		return
	}
	slog.Warn("settlement: attempt failed, will retry",
		slog.String("order_id", orderID),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()))
}

// retryWrite runs fn up to WriteRetries times with exponential backoff.
// State conflicts and slot collisions are final and returned at once.
func (s *Settler) retryWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := s.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt < s.cfg.WriteRetries; attempt++ {
		if attempt > 0 && backoff > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		err = fn(ctx)
		if err == nil || errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrSlotTaken) {
			return err
		}
		slog.Warn("settlement: finalize write failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return err
}

func (s *Settler) notify(ctx context.Context, o model.Order, event string, amount int64, slots []model.SlotLineItem) {
	if len(slots) == 0 {
		return
	}
	ev := queue.NotificationEvent{
		Event:     event,
		Recipient: o.BuyerContact,
		OrderID:   o.ID,
		Amount:    amount,
		Slots:     make([]queue.SlotSummary, 0, len(slots)),
		SettledAt: s.clock.Now().Format(time.RFC3339),
	}
	for _, sl := range slots {
		k := sl.Key()
		ev.Slots = append(ev.Slots, queue.SlotSummary{ResourceID: k.ResourceID, Date: k.Date, Hour: k.Hour, Price: sl.BidPrice})
	}
	nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, ev); err != nil {
		slog.Warn("settlement: notification failed",
			slog.String("order_id", o.ID),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
