package model

import "time"

// OrderType distinguishes sealed-bid orders from fixed-price purchases.
type OrderType string

const (
    OrderTypeBid    OrderType = "bid"
    OrderTypeBuyout OrderType = "buyout"
)

// OrderStatus is the lifecycle state of an order.  Terminal states for bid
// orders are written only by the settlement engine.
type OrderStatus string

const (
    OrderStatusPendingAuth        OrderStatus = "pending_auth"
    OrderStatusAwaitingSettlement OrderStatus = "awaiting_settlement"
    OrderStatusWon                OrderStatus = "won"
    OrderStatusPartiallyWon       OrderStatus = "partially_won"
    OrderStatusLost               OrderStatus = "lost"
    OrderStatusPaid               OrderStatus = "paid"
    OrderStatusCancelled          OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
    switch s {
    case OrderStatusPendingAuth, OrderStatusAwaitingSettlement, OrderStatusWon,
        OrderStatusPartiallyWon, OrderStatusLost, OrderStatusPaid, OrderStatusCancelled:
        return true
    }
    return false
}

// Order is a purchase request spanning one or more slots.
//
// Fields:
//  ID                     – opaque unique identifier (UUID).
//  Type                   – bid or buyout.
//  Status                 – lifecycle state, see OrderStatus.
//  Amount                 – sum of slot bid prices at authorization time.
//  PayableAmount          – sum of won slot prices, set at settlement.
//  PaymentAuthorizationID – provider authorization, set by the payment webhook.
//  BuyerID / BuyerContact – who placed the order and where to notify them.
//  SettleAttempts         – failed payment attempts during settlement.
//  NeedsReview            – set once SettleAttempts reaches the configured cap.
type Order struct {
    ID                     string         `json:"id"`
    Type                   OrderType      `json:"type"`
    Status                 OrderStatus    `json:"status"`
    Amount                 int64          `json:"amount"`
    PayableAmount          *int64         `json:"payable_amount,omitempty"`
    PaymentAuthorizationID string         `json:"payment_authorization_id,omitempty"`
    BuyerID                string         `json:"buyer_id"`
    BuyerContact           string         `json:"buyer_contact"`
    SettleAttempts         int            `json:"settle_attempts"`
    NeedsReview            bool           `json:"needs_review"`
    CreatedAt              time.Time      `json:"created_at"`
    UpdatedAt              time.Time      `json:"updated_at"`
    Slots                  []SlotLineItem `json:"slots"`
}

// SlotTotal sums the bid prices of the order's slots.
func (o Order) SlotTotal() int64 {
    var total int64
    for _, s := range o.Slots {
        total += s.BidPrice
    }
    return total
}

// FinalStatus derives the terminal order status from a set of final slot
// statuses.  ok is false while any slot is still undecided.
func FinalStatus(slots []SlotLineItem) (status OrderStatus, ok bool) {
    if len(slots) == 0 {
        return "", false
    }
    won, lost := 0, 0
    for _, s := range slots {
        switch s.Status {
        case SlotStatusWon:
            won++
        case SlotStatusLost:
            lost++
        default:
            return "", false
        }
    }
    switch {
    case lost == 0:
        return OrderStatusWon, true
    case won == 0:
        return OrderStatusLost, true
    default:
        return OrderStatusPartiallyWon, true
    }
}
