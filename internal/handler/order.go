package handler

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-market/internal/clock"
    "github.com/iliyamo/slot-market/internal/model"
    "github.com/iliyamo/slot-market/internal/repository"
)

// OrderStore is the persistence order intake needs.
type OrderStore interface {
    Create(ctx context.Context, o *model.Order) error
    GetByID(ctx context.Context, id string) (model.Order, error)
}

// BiddingWindow closes bidding on a slot Cutoff before the slot starts.
type BiddingWindow struct {
    Cutoff time.Duration
    Clock  clock.Clock
}

func (w BiddingWindow) now() time.Time {
    if w.Clock == nil {
        return time.Now().UTC()
    }
    return w.Clock.Now()
}

// OrderHandler records orders and serves them back.  Prices arrive already
// quoted; the handler only checks that they are well formed and still open
// for bidding.
type OrderHandler struct {
    Orders OrderStore
    Window BiddingWindow
}

// NewOrderHandler returns an OrderHandler backed by orders.
func NewOrderHandler(orders OrderStore, window BiddingWindow) *OrderHandler {
    if orders == nil {
        panic("nil order store passed to NewOrderHandler")
    }
    return &OrderHandler{Orders: orders, Window: window}
}

type slotRequest struct {
    ResourceID uint64 `json:"resource_id"`
    Date       string `json:"date"`
    Hour       *int   `json:"hour"`
    Price      int64  `json:"price"`
}

type createOrderRequest struct {
    Type         string        `json:"type"`
    BuyerID      string        `json:"buyer_id"`
    BuyerContact string        `json:"buyer_contact"`
    Slots        []slotRequest `json:"slots"`
}

// CreateOrder handles POST /v1/orders.  The order is stored in
// pending_auth and becomes eligible for settlement once the payment
// provider confirms its authorization through the webhook.
func (h *OrderHandler) CreateOrder(c echo.Context) error {
    var body createOrderRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    o, err := buildOrder(body, h.Window.now(), h.Window.Cutoff)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    }
    if err := h.Orders.Create(c.Request().Context(), &o); err != nil {
        if errors.Is(err, repository.ErrDuplicateOrder) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate order"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusCreated, o)
}

// GetOrder handles GET /v1/orders/:id.
func (h *OrderHandler) GetOrder(c echo.Context) error {
    id := c.Param("id")
    if _, err := uuid.Parse(id); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
    }
    o, err := h.Orders.GetByID(c.Request().Context(), id)
    if err != nil {
        if errors.Is(err, repository.ErrOrderNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, o)
}

// buildOrder validates a request into a pending order.  Bid slots must be
// before their bidding deadline at now; buyout slots must not have started.
func buildOrder(body createOrderRequest, now time.Time, cutoff time.Duration) (model.Order, error) {
    typ := model.OrderType(strings.ToLower(strings.TrimSpace(body.Type)))
    if typ == "" {
        typ = model.OrderTypeBid
    }
    if typ != model.OrderTypeBid && typ != model.OrderTypeBuyout {
        return model.Order{}, errors.New("type must be bid or buyout")
    }
    if strings.TrimSpace(body.BuyerID) == "" || strings.TrimSpace(body.BuyerContact) == "" {
        return model.Order{}, errors.New("buyer_id and buyer_contact are required")
    }
    if len(body.Slots) == 0 {
        return model.Order{}, errors.New("slots is required")
    }

    o := model.Order{
        ID:           uuid.NewString(),
        Type:         typ,
        Status:       model.OrderStatusPendingAuth,
        BuyerID:      strings.TrimSpace(body.BuyerID),
        BuyerContact: strings.TrimSpace(body.BuyerContact),
        CreatedAt:    now.UTC(),
        Slots:        make([]model.SlotLineItem, 0, len(body.Slots)),
    }
    seen := make(map[model.ContentionKey]bool, len(body.Slots))
    for _, s := range body.Slots {
        date, err := time.ParseInLocation(model.DateLayout, s.Date, time.UTC)
        if err != nil {
            return model.Order{}, errors.New("slot date must be YYYY-MM-DD")
        }
        if s.Hour == nil {
            return model.Order{}, errors.New("slot hour is required")
        }
        item := model.SlotLineItem{
            ResourceID: s.ResourceID,
            Date:       date,
            HourOfDay:  *s.Hour,
            BidPrice:   s.Price,
            IsBuyout:   typ == model.OrderTypeBuyout,
            Status:     model.SlotStatusNormal,
        }
        if err := item.Validate(); err != nil {
            return model.Order{}, err
        }
        closesAt := cutoff
        if item.IsBuyout {
            closesAt = 0
        }
        if item.BiddingClosed(now, closesAt) {
            return model.Order{}, errors.New("slot " + item.Key().String() + " is closed for bidding")
        }
        if seen[item.Key()] {
            return model.Order{}, errors.New("duplicate slot " + item.Key().String())
        }
        seen[item.Key()] = true
        o.Slots = append(o.Slots, item)
    }
    o.Amount = o.SlotTotal()
    return o, nil
}
