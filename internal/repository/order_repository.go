package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/slot-market/internal/model"
)

// OrderRepo provides persistence for orders and their slot line items.  All
// timestamps are stored in UTC.  Every call is bounded by the configured
// timeout and joins a transaction carried by the context when present.
type OrderRepo struct {
    db      *sql.DB
    timeout time.Duration
}

// NewOrderRepo returns a new OrderRepo bound to the given database.  A
// non-positive timeout defaults to five seconds.
func NewOrderRepo(db *sql.DB, timeout time.Duration) *OrderRepo {
    if timeout <= 0 {
        timeout = 5 * time.Second
    }
    return &OrderRepo{db: db, timeout: timeout}
}

// DB exposes the underlying handle.
func (r *OrderRepo) DB() *sql.DB { return r.db }

// WithTx runs fn in one transaction shared by every repository on this DB.
func (r *OrderRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
    return withTx(ctx, r.db, fn)
}

const orderColumns = `id, type, status, amount, payable_amount, payment_authorization_id,
    buyer_id, buyer_contact, settle_attempts, needs_review, created_at, updated_at`

const slotColumns = `os.id, os.order_id, os.resource_id, os.slot_date, os.hour_of_day,
    os.bid_price, os.is_buyout, os.slot_status, sc.id IS NULL`

// Create inserts an order and its slots.  The order's CreatedAt and
// UpdatedAt are set when zero; generated slot ids are written back.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    if o.CreatedAt.IsZero() {
        o.CreatedAt = time.Now().UTC()
    }
    o.UpdatedAt = o.CreatedAt
    return withTx(ctx, r.db, func(ctx context.Context) error {
        q := conn(ctx, r.db)
        const ins = `INSERT INTO orders (id, type, status, amount, buyer_id, buyer_contact, created_at, updated_at)
                     VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
        if _, err := q.ExecContext(ctx, ins, o.ID, o.Type, o.Status, o.Amount, o.BuyerID, o.BuyerContact, o.CreatedAt, o.UpdatedAt); err != nil {
            if isDuplicateKey(err) {
                return ErrDuplicateOrder
            }
            return fmt.Errorf("insert order: %w", err)
        }
        for i := range o.Slots {
            s := &o.Slots[i]
            s.OrderID = o.ID
            if s.Status == "" {
                s.Status = model.SlotStatusNormal
            }
            const insSlot = `INSERT INTO order_slots (order_id, resource_id, slot_date, hour_of_day, bid_price, is_buyout, slot_status)
                             VALUES (?, ?, ?, ?, ?, ?, ?)`
            res, err := q.ExecContext(ctx, insSlot, o.ID, s.ResourceID, s.Date.UTC().Format(model.DateLayout), s.HourOfDay, s.BidPrice, s.IsBuyout, s.Status)
            if err != nil {
                return fmt.Errorf("insert slot: %w", err)
            }
            id, err := res.LastInsertId()
            if err != nil {
                return err
            }
            s.ID = uint64(id)
        }
        return nil
    })
}

// GetByID returns an order with its slots, or ErrOrderNotFound.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (model.Order, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    return r.getByID(ctx, id, false)
}

func (r *OrderRepo) getByID(ctx context.Context, id string, forUpdate bool) (model.Order, error) {
    q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
    if forUpdate {
        q += ` FOR UPDATE`
    }
    o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, q, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return model.Order{}, ErrOrderNotFound
        }
        return model.Order{}, fmt.Errorf("get order: %w", err)
    }
    slots, err := r.slotsFor(ctx, []string{o.ID})
    if err != nil {
        return model.Order{}, err
    }
    o.Slots = slots[o.ID]
    return o, nil
}

// ListAwaitingSettlement returns every order in awaiting_settlement that has
// not been flagged for review, oldest first, with slots populated.
func (r *OrderRepo) ListAwaitingSettlement(ctx context.Context) ([]model.Order, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    q := `SELECT ` + orderColumns + ` FROM orders
          WHERE status = ? AND needs_review = 0
          ORDER BY created_at, id`
    rows, err := conn(ctx, r.db).QueryContext(ctx, q, model.OrderStatusAwaitingSettlement)
    if err != nil {
        return nil, fmt.Errorf("list awaiting orders: %w", err)
    }
    defer rows.Close()
    orders := make([]model.Order, 0)
    ids := make([]string, 0)
    for rows.Next() {
        o, err := scanOrder(rows)
        if err != nil {
            return nil, fmt.Errorf("scan order: %w", err)
        }
        orders = append(orders, o)
        ids = append(ids, o.ID)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    if len(orders) == 0 {
        return orders, nil
    }
    slots, err := r.slotsFor(ctx, ids)
    if err != nil {
        return nil, err
    }
    for i := range orders {
        orders[i].Slots = slots[orders[i].ID]
    }
    return orders, nil
}

// slotsFor loads slots for several orders in one query, keyed by order id.
func (r *OrderRepo) slotsFor(ctx context.Context, orderIDs []string) (map[string][]model.SlotLineItem, error) {
    out := make(map[string][]model.SlotLineItem, len(orderIDs))
    if len(orderIDs) == 0 {
        return out, nil
    }
    args := make([]any, 0, len(orderIDs))
    placeholders := make([]string, 0, len(orderIDs))
    for _, id := range orderIDs {
        args = append(args, id)
        placeholders = append(placeholders, "?")
    }
    q := `SELECT ` + slotColumns + `
          FROM order_slots os
          LEFT JOIN screens sc ON sc.id = os.resource_id
          WHERE os.order_id IN (` + strings.Join(placeholders, ",") + `)
          ORDER BY os.order_id, os.id`
    rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
    if err != nil {
        return nil, fmt.Errorf("list slots: %w", err)
    }
    defer rows.Close()
    for rows.Next() {
        var s model.SlotLineItem
        var status string
        if err := rows.Scan(&s.ID, &s.OrderID, &s.ResourceID, &s.Date, &s.HourOfDay,
            &s.BidPrice, &s.IsBuyout, &status, &s.UnknownResource); err != nil {
            return nil, fmt.Errorf("scan slot: %w", err)
        }
        s.Status = model.SlotStatus(status)
        out[s.OrderID] = append(out[s.OrderID], s)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}

// WonKeys reports which of the given contention keys already have a won
// slot in any order.
func (r *OrderRepo) WonKeys(ctx context.Context, keys []model.ContentionKey) (map[model.ContentionKey]bool, error) {
    out := make(map[model.ContentionKey]bool)
    if len(keys) == 0 {
        return out, nil
    }
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    args := make([]any, 0, len(keys)*3)
    tuples := make([]string, 0, len(keys))
    for _, k := range keys {
        args = append(args, k.ResourceID, k.Date, k.Hour)
        tuples = append(tuples, "(?, ?, ?)")
    }
    q := `SELECT DISTINCT resource_id, slot_date, hour_of_day FROM order_slots
          WHERE slot_status = 'won' AND (resource_id, slot_date, hour_of_day) IN (` + strings.Join(tuples, ",") + `)`
    rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
    if err != nil {
        return nil, fmt.Errorf("list won keys: %w", err)
    }
    defer rows.Close()
    for rows.Next() {
        var k model.ContentionKey
        var d time.Time
        if err := rows.Scan(&k.ResourceID, &d, &k.Hour); err != nil {
            return nil, fmt.Errorf("scan won key: %w", err)
        }
        k.Date = d.UTC().Format(model.DateLayout)
        out[k] = true
    }
    return out, rows.Err()
}

// SaveProvisional stores winning/outbid outcomes for slots of an order that
// cannot finalize yet.  The order must still be awaiting settlement and only
// non-final slots are touched.
func (r *OrderRepo) SaveProvisional(ctx context.Context, orderID string, slots map[uint64]model.SlotStatus) error {
    if len(slots) == 0 {
        return nil
    }
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    return withTx(ctx, r.db, func(ctx context.Context) error {
        if err := r.lockAwaiting(ctx, orderID); err != nil {
            return err
        }
        return r.updateSlots(ctx, orderID, slots)
    })
}

// RecordFailedAttempt increments the order's failed settlement attempts and
// flags it for review once maxAttempts is reached.  It returns the new
// attempt count and whether the order is now flagged.
func (r *OrderRepo) RecordFailedAttempt(ctx context.Context, orderID string, maxAttempts int) (int, bool, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    q := conn(ctx, r.db)
    // MySQL evaluates SET assignments left to right, so needs_review sees
    // the incremented counter.
    const upd = `UPDATE orders
                 SET settle_attempts = settle_attempts + 1,
                     needs_review = (settle_attempts >= ?),
                     updated_at = ?
                 WHERE id = ? AND status = ?`
    res, err := q.ExecContext(ctx, upd, maxAttempts, time.Now().UTC(), orderID, model.OrderStatusAwaitingSettlement)
    if err != nil {
        return 0, false, fmt.Errorf("record failed attempt: %w", err)
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return 0, false, ErrStateConflict
    }
    var attempts int
    var flagged bool
    if err := q.QueryRowContext(ctx, `SELECT settle_attempts, needs_review FROM orders WHERE id = ?`, orderID).Scan(&attempts, &flagged); err != nil {
        return 0, false, fmt.Errorf("read attempts: %w", err)
    }
    return attempts, flagged, nil
}

// FlagForReview takes an awaiting order out of automatic settlement.
func (r *OrderRepo) FlagForReview(ctx context.Context, orderID string) error {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    const upd = `UPDATE orders SET needs_review = 1, updated_at = ? WHERE id = ? AND status = ?`
    res, err := conn(ctx, r.db).ExecContext(ctx, upd, time.Now().UTC(), orderID, model.OrderStatusAwaitingSettlement)
    if err != nil {
        return fmt.Errorf("flag for review: %w", err)
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrStateConflict
    }
    return nil
}

// ClaimSlots marks slots of an awaiting order as won ahead of capture.  The
// order row stays locked while the slots are written, and the unique won
// key index turns a second claim on the same key into ErrSlotTaken.
func (r *OrderRepo) ClaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error {
    if len(slotIDs) == 0 {
        return nil
    }
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    return withTx(ctx, r.db, func(ctx context.Context) error {
        if err := r.lockAwaiting(ctx, orderID); err != nil {
            return err
        }
        won := make(map[uint64]model.SlotStatus, len(slotIDs))
        for _, id := range slotIDs {
            won[id] = model.SlotStatusWon
        }
        return r.updateSlots(ctx, orderID, won)
    })
}

// UnclaimSlots returns claimed slots of a still awaiting order to winning,
// freeing their keys.
func (r *OrderRepo) UnclaimSlots(ctx context.Context, orderID string, slotIDs []uint64) error {
    if len(slotIDs) == 0 {
        return nil
    }
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    return withTx(ctx, r.db, func(ctx context.Context) error {
        if err := r.lockAwaiting(ctx, orderID); err != nil {
            return err
        }
        const upd = `UPDATE order_slots SET slot_status = ?
                     WHERE id = ? AND order_id = ? AND slot_status = ?`
        q := conn(ctx, r.db)
        for _, id := range slotIDs {
            if _, err := q.ExecContext(ctx, upd, model.SlotStatusWinning, id, orderID, model.SlotStatusWon); err != nil {
                return fmt.Errorf("unclaim slot %d: %w", id, err)
            }
        }
        return nil
    })
}

// CompleteSettlement moves an order from awaiting_settlement to its terminal
// status and writes the final slot statuses.  It returns ErrStateConflict
// when the order is no longer awaiting settlement and ErrSlotTaken when a
// won slot would collide with another winner.
func (r *OrderRepo) CompleteSettlement(ctx context.Context, orderID string, status model.OrderStatus, payable int64, slots map[uint64]model.SlotStatus) error {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    return withTx(ctx, r.db, func(ctx context.Context) error {
        const upd = `UPDATE orders SET status = ?, payable_amount = ?, updated_at = ?
                     WHERE id = ? AND status = ?`
        res, err := conn(ctx, r.db).ExecContext(ctx, upd, status, payable, time.Now().UTC(), orderID, model.OrderStatusAwaitingSettlement)
        if err != nil {
            return fmt.Errorf("complete order: %w", err)
        }
        if n, _ := res.RowsAffected(); n == 0 {
            return ErrStateConflict
        }
        return r.updateSlots(ctx, orderID, slots)
    })
}

// ConfirmAuthorization applies a verified payment confirmation.  A bid order
// in pending_auth moves to awaiting_settlement, or to cancelled when the
// bidding window of any of its slots closed at now; a buyout order is paid
// and its slots won.  Orders in any other state are returned unchanged with
// changed=false so webhook redeliveries are harmless.
func (r *OrderRepo) ConfirmAuthorization(ctx context.Context, orderID, authID string, now time.Time, cutoff time.Duration) (model.Order, bool, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    now = now.UTC()
    var out model.Order
    var changed bool
    err := withTx(ctx, r.db, func(ctx context.Context) error {
        o, err := r.getByID(ctx, orderID, true)
        if err != nil {
            return err
        }
        if o.Status != model.OrderStatusPendingAuth {
            out = o
            return nil
        }
        next := model.OrderStatusAwaitingSettlement
        if o.Type == model.OrderTypeBuyout {
            next = model.OrderStatusPaid
        } else if biddingClosed(o, now, cutoff) {
            next = model.OrderStatusCancelled
        }
        const upd = `UPDATE orders SET status = ?, payment_authorization_id = ?, updated_at = ? WHERE id = ? AND status = ?`
        if _, err := conn(ctx, r.db).ExecContext(ctx, upd, next, authID, now, orderID, model.OrderStatusPendingAuth); err != nil {
            return fmt.Errorf("confirm authorization: %w", err)
        }
        if next == model.OrderStatusPaid {
            won := make(map[uint64]model.SlotStatus, len(o.Slots))
            for i := range o.Slots {
                won[o.Slots[i].ID] = model.SlotStatusWon
                o.Slots[i].Status = model.SlotStatusWon
            }
            if err := r.updateSlots(ctx, orderID, won); err != nil {
                return err
            }
            amount := o.Amount
            o.PayableAmount = &amount
            if _, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE orders SET payable_amount = ? WHERE id = ?`, amount, orderID); err != nil {
                return fmt.Errorf("set payable amount: %w", err)
            }
        }
        o.Status = next
        o.PaymentAuthorizationID = authID
        o.UpdatedAt = now
        out, changed = o, true
        return nil
    })
    if err != nil {
        return model.Order{}, false, err
    }
    return out, changed, nil
}

func biddingClosed(o model.Order, now time.Time, cutoff time.Duration) bool {
    for _, s := range o.Slots {
        if s.BiddingClosed(now, cutoff) {
            return true
        }
    }
    return false
}

func (r *OrderRepo) lockAwaiting(ctx context.Context, orderID string) error {
    var status string
    err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ? FOR UPDATE`, orderID).Scan(&status)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return ErrOrderNotFound
        }
        return fmt.Errorf("lock order: %w", err)
    }
    if model.OrderStatus(status) != model.OrderStatusAwaitingSettlement {
        return ErrStateConflict
    }
    return nil
}

// updateSlots writes statuses to non-final slots of one order.
func (r *OrderRepo) updateSlots(ctx context.Context, orderID string, slots map[uint64]model.SlotStatus) error {
    const upd = `UPDATE order_slots SET slot_status = ?
                 WHERE id = ? AND order_id = ? AND slot_status NOT IN ('won', 'lost')`
    q := conn(ctx, r.db)
    for id, st := range slots {
        if _, err := q.ExecContext(ctx, upd, st, id, orderID); err != nil {
            if isDuplicateKey(err) {
                return fmt.Errorf("slot %d: %w", id, ErrSlotTaken)
            }
            return fmt.Errorf("update slot %d: %w", id, err)
        }
    }
    return nil
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
    var o model.Order
    var typ, status string
    var payable sql.NullInt64
    var authID sql.NullString
    if err := row.Scan(&o.ID, &typ, &status, &o.Amount, &payable, &authID,
        &o.BuyerID, &o.BuyerContact, &o.SettleAttempts, &o.NeedsReview, &o.CreatedAt, &o.UpdatedAt); err != nil {
        return model.Order{}, err
    }
    o.Type = model.OrderType(typ)
    o.Status = model.OrderStatus(status)
    if payable.Valid {
        v := payable.Int64
        o.PayableAmount = &v
    }
    if authID.Valid {
        o.PaymentAuthorizationID = authID.String
    }
    o.CreatedAt = o.CreatedAt.UTC()
    o.UpdatedAt = o.UpdatedAt.UTC()
    return o, nil
}
