package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/slot-market/internal/model"
)

// MarketStatRepo is the aggregate statistics store: running count, sum and
// rounded average of settled prices per (resource, day of week, hour).
type MarketStatRepo struct {
    db      *sql.DB
    timeout time.Duration
}

// NewMarketStatRepo returns a MarketStatRepo bound to db.
func NewMarketStatRepo(db *sql.DB, timeout time.Duration) *MarketStatRepo {
    if timeout <= 0 {
        timeout = 5 * time.Second
    }
    return &MarketStatRepo{db: db, timeout: timeout}
}

// RecordBid adds amount to the aggregate for key and returns the new record.
// The row is created if missing and then locked with SELECT ... FOR UPDATE,
// so concurrent callers on the same key serialize and no update is lost.
// The seed takes the exclusive row lock up front.
// When ctx carries a transaction the write joins it.
func (r *MarketStatRepo) RecordBid(ctx context.Context, key model.PeriodKey, amount int64) (model.MarketStat, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    var out model.MarketStat
    err := withTx(ctx, r.db, func(ctx context.Context) error {
        q := conn(ctx, r.db)
        const seed = `INSERT INTO market_stats (resource_id, day_of_week, hour_of_day, total_bids, total_amount, average_price)
                      VALUES (?, ?, ?, 0, 0, 0)
                      ON DUPLICATE KEY UPDATE resource_id = resource_id`
        if _, err := q.ExecContext(ctx, seed, key.ResourceID, int(key.DayOfWeek), key.Hour); err != nil {
            return fmt.Errorf("seed market stat: %w", err)
        }
        var bids, total int64
        const sel = `SELECT total_bids, total_amount FROM market_stats
                     WHERE resource_id = ? AND day_of_week = ? AND hour_of_day = ? FOR UPDATE`
        if err := q.QueryRowContext(ctx, sel, key.ResourceID, int(key.DayOfWeek), key.Hour).Scan(&bids, &total); err != nil {
            return fmt.Errorf("lock market stat: %w", err)
        }
        bids++
        total += amount
        now := time.Now().UTC()
        avg := model.RoundedAverage(total, bids)
        const upd = `UPDATE market_stats SET total_bids = ?, total_amount = ?, average_price = ?, updated_at = ?
                     WHERE resource_id = ? AND day_of_week = ? AND hour_of_day = ?`
        if _, err := q.ExecContext(ctx, upd, bids, total, avg, now, key.ResourceID, int(key.DayOfWeek), key.Hour); err != nil {
            return fmt.Errorf("update market stat: %w", err)
        }
        out = model.MarketStat{Key: key, TotalBids: bids, TotalAmount: total, AveragePrice: avg, UpdatedAt: now}
        return nil
    })
    if err != nil {
        return model.MarketStat{}, err
    }
    return out, nil
}

// Get returns the aggregate for key.  A key with no settled bids yields a
// zero record and no error.
func (r *MarketStatRepo) Get(ctx context.Context, key model.PeriodKey) (model.MarketStat, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    st := model.MarketStat{Key: key}
    const q = `SELECT total_bids, total_amount, average_price, updated_at FROM market_stats
               WHERE resource_id = ? AND day_of_week = ? AND hour_of_day = ?`
    err := conn(ctx, r.db).QueryRowContext(ctx, q, key.ResourceID, int(key.DayOfWeek), key.Hour).
        Scan(&st.TotalBids, &st.TotalAmount, &st.AveragePrice, &st.UpdatedAt)
    if err != nil && !errors.Is(err, sql.ErrNoRows) {
        return model.MarketStat{}, fmt.Errorf("get market stat: %w", err)
    }
    return st, nil
}

// ListByResource returns all aggregates for one resource (0 for the
// marketplace-wide scope) ordered by day of week and hour.
func (r *MarketStatRepo) ListByResource(ctx context.Context, resourceID uint64) ([]model.MarketStat, error) {
    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    const q = `SELECT day_of_week, hour_of_day, total_bids, total_amount, average_price, updated_at
               FROM market_stats WHERE resource_id = ? AND total_bids > 0
               ORDER BY day_of_week, hour_of_day`
    rows, err := conn(ctx, r.db).QueryContext(ctx, q, resourceID)
    if err != nil {
        return nil, fmt.Errorf("list market stats: %w", err)
    }
    defer rows.Close()
    out := make([]model.MarketStat, 0)
    for rows.Next() {
        st := model.MarketStat{Key: model.PeriodKey{ResourceID: resourceID}}
        var dow int
        if err := rows.Scan(&dow, &st.Key.Hour, &st.TotalBids, &st.TotalAmount, &st.AveragePrice, &st.UpdatedAt); err != nil {
            return nil, fmt.Errorf("scan market stat: %w", err)
        }
        st.Key.DayOfWeek = time.Weekday(dow)
        out = append(out, st)
    }
    return out, rows.Err()
}
