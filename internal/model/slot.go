package model

import (
    "encoding/json"
    "fmt"
    "time"
)

// SlotStatus is the state of one line item.  Winning and outbid are
// provisional resolution outcomes kept while the rest of the order waits for
// its own deadlines; won and lost are final.
type SlotStatus string

const (
    SlotStatusNormal  SlotStatus = "normal"
    SlotStatusWinning SlotStatus = "winning"
    SlotStatusOutbid  SlotStatus = "outbid"
    SlotStatusWon     SlotStatus = "won"
    SlotStatusLost    SlotStatus = "lost"
)

// Final reports whether the slot has been settled.
func (s SlotStatus) Final() bool { return s == SlotStatusWon || s == SlotStatusLost }

// DateLayout is the wire and storage format of slot dates.
const DateLayout = "2006-01-02"

// SlotLineItem is one sellable hour of one screen inside an order.
type SlotLineItem struct {
    ID         uint64     `json:"id"`
    OrderID    string     `json:"order_id"`
    ResourceID uint64     `json:"resource_id"`
    Date       time.Time  `json:"-"`
    HourOfDay  int        `json:"hour"`
    BidPrice   int64      `json:"bid_price"`
    IsBuyout   bool       `json:"is_buyout"`
    Status     SlotStatus `json:"slot_status"`
    // UnknownResource is set by the repository when ResourceID has no screen.
    UnknownResource bool `json:"-"`
}

// MarshalJSON renders Date in DateLayout.
func (s SlotLineItem) MarshalJSON() ([]byte, error) {
    type plain SlotLineItem
    return json.Marshal(struct {
        plain
        Date string `json:"date"`
    }{plain(s), s.Date.UTC().Format(DateLayout)})
}

// Key returns the contention key of the slot.
func (s SlotLineItem) Key() ContentionKey {
    return ContentionKey{ResourceID: s.ResourceID, Date: s.Date.UTC().Format(DateLayout), Hour: s.HourOfDay}
}

// StartTime is the UTC instant the slot goes on air.
func (s SlotLineItem) StartTime() time.Time {
    d := s.Date.UTC()
    return time.Date(d.Year(), d.Month(), d.Day(), s.HourOfDay, 0, 0, 0, time.UTC)
}

// BiddingClosed reports whether the slot's bidding window has ended at now,
// which happens cutoff before StartTime.  The deadline itself is closed.
func (s SlotLineItem) BiddingClosed(now time.Time, cutoff time.Duration) bool {
    return !now.Before(s.StartTime().Add(-cutoff))
}

// Validate reports data inconsistencies that keep a slot out of settlement.
func (s SlotLineItem) Validate() error {
    switch {
    case s.ResourceID == 0:
        return fmt.Errorf("slot %d: missing resource id", s.ID)
    case s.UnknownResource:
        return fmt.Errorf("slot %d: unknown resource %d", s.ID, s.ResourceID)
    case s.Date.IsZero():
        return fmt.Errorf("slot %d: missing date", s.ID)
    case s.HourOfDay < 0 || s.HourOfDay > 23:
        return fmt.Errorf("slot %d: hour %d out of range", s.ID, s.HourOfDay)
    case s.BidPrice <= 0:
        return fmt.Errorf("slot %d: non-positive bid price %d", s.ID, s.BidPrice)
    }
    return nil
}

// ContentionKey identifies the unit of scarcity: one screen, one date, one hour.
type ContentionKey struct {
    ResourceID uint64
    Date       string
    Hour       int
}

func (k ContentionKey) String() string {
    return fmt.Sprintf("%d/%s/%02d", k.ResourceID, k.Date, k.Hour)
}

// Bid is a slot line item as seen by the auction resolver.
type Bid struct {
    OrderID        string
    SlotID         uint64
    BidPrice       int64
    OrderCreatedAt time.Time
}
