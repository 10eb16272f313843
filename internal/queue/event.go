// Package queue defines message payloads exchanged over the message broker.
package queue

// NotificationQueue is the durable queue settlement notifications go to.
const NotificationQueue = "settlement.notifications"

// Notification event kinds.
const (
    EventWon  = "won"
    EventLost = "lost"
    // EventWinning announces slots that lead their auction while other
    // slots of the same order are still open.  Nothing is captured yet.
    EventWinning = "winning"
)

// SlotSummary describes one slot in a notification.
type SlotSummary struct {
    ResourceID uint64 `json:"resource_id"`
    Date       string `json:"date"`
    Hour       int    `json:"hour"`
    Price      int64  `json:"price"`
}

// NotificationEvent is handed to the delivery mechanism when settlement
// decides an order's slots.  Amount is what the buyer pays for the slots
// listed: the captured total for won events, the provisional total for
// winning events, zero for lost events.
type NotificationEvent struct {
    Event     string        `json:"event"`
    Recipient string        `json:"recipient"`
    OrderID   string        `json:"order_id"`
    Amount    int64         `json:"amount"`
    Slots     []SlotSummary `json:"slots"`
    SettledAt string        `json:"settled_at"`
}
