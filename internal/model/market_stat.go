package model

import "time"

// PeriodKey addresses one aggregate market price record.  ResourceID 0 is the
// marketplace-wide scope.
type PeriodKey struct {
    ResourceID uint64       `json:"resource_id"`
    DayOfWeek  time.Weekday `json:"day_of_week"`
    Hour       int          `json:"hour"`
}

// GlobalPeriodKey returns the marketplace-wide key for a slot.
func GlobalPeriodKey(s SlotLineItem) PeriodKey {
    return PeriodKey{DayOfWeek: s.Date.UTC().Weekday(), Hour: s.HourOfDay}
}

// ResourcePeriodKey returns the per-screen key for a slot.
func ResourcePeriodKey(s SlotLineItem) PeriodKey {
    return PeriodKey{ResourceID: s.ResourceID, DayOfWeek: s.Date.UTC().Weekday(), Hour: s.HourOfDay}
}

// MarketStat is the running settled-price aggregate for a period key.
type MarketStat struct {
    Key          PeriodKey `json:"key"`
    TotalBids    int64     `json:"total_bids"`
    TotalAmount  int64     `json:"total_amount"`
    AveragePrice int64     `json:"average_price"`
    UpdatedAt    time.Time `json:"updated_at"`
}

// RoundedAverage divides total by count rounding half away from zero.
func RoundedAverage(total, count int64) int64 {
    if count <= 0 {
        return 0
    }
    if total >= 0 {
        return (total + count/2) / count
    }
    return (total - count/2) / count
}
