package handler

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-market/internal/model"
    "github.com/iliyamo/slot-market/internal/repository"
    "github.com/iliyamo/slot-market/internal/utils"
)

// AuthorizationStore applies confirmed payment authorizations.
type AuthorizationStore interface {
    ConfirmAuthorization(ctx context.Context, orderID, authID string, now time.Time, cutoff time.Duration) (model.Order, bool, error)
}

// AuthorizationReleaser gives back an authorization that will never be
// captured.
type AuthorizationReleaser interface {
    Release(ctx context.Context, authID string) error
}

// PaymentWebhookHandler receives signed authorization events from the
// payment provider.  Bid orders confirmed after their bidding window closed
// are cancelled and their authorization released through Payments.
type PaymentWebhookHandler struct {
    Orders   AuthorizationStore
    Payments AuthorizationReleaser
    Secret   string
    Window   BiddingWindow
}

// NewPaymentWebhookHandler returns a handler verifying events with secret.
// payments may be nil, in which case cancelled authorizations are left to
// expire at the provider.
func NewPaymentWebhookHandler(orders AuthorizationStore, payments AuthorizationReleaser, secret string, window BiddingWindow) *PaymentWebhookHandler {
    return &PaymentWebhookHandler{Orders: orders, Payments: payments, Secret: secret, Window: window}
}

// Receive handles POST /v1/webhooks/payment.  The body is {"event": "<jwt>"}.
// Redeliveries, unknown orders and other event types are acknowledged with
// 200 and "ignored" so the provider stops retrying them.
func (h *PaymentWebhookHandler) Receive(c echo.Context) error {
    var body struct {
        Event string `json:"event"`
    }
    if err := c.Bind(&body); err != nil || body.Event == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "event is required"})
    }
    ev, err := utils.ParseWebhookEvent(h.Secret, body.Event)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid event signature"})
    }
    if ev.Type != utils.EventAuthorizationConfirmed {
        return c.JSON(http.StatusOK, echo.Map{"result": "ignored", "reason": "unsupported event type"})
    }

    ctx := c.Request().Context()
    o, changed, err := h.Orders.ConfirmAuthorization(ctx, ev.OrderID, ev.AuthorizationID, h.Window.now(), h.Window.Cutoff)
    if err != nil {
        if errors.Is(err, repository.ErrOrderNotFound) {
            return c.JSON(http.StatusOK, echo.Map{"result": "ignored", "reason": "unknown order"})
        }
        slog.Error("webhook: confirm authorization failed",
            slog.String("order_id", ev.OrderID),
            slog.String("error", err.Error()))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    if !changed {
        return c.JSON(http.StatusOK, echo.Map{"result": "ignored", "status": o.Status})
    }
    if o.Status == model.OrderStatusCancelled {
        slog.Warn("webhook: authorization arrived after bidding closed",
            slog.String("order_id", o.ID))
        if h.Payments != nil {
            if err := h.Payments.Release(ctx, ev.AuthorizationID); err != nil {
                slog.Error("webhook: release cancelled authorization failed",
                    slog.String("order_id", o.ID),
                    slog.String("error", err.Error()))
            }
        }
        return c.JSON(http.StatusOK, echo.Map{"result": "cancelled", "status": o.Status})
    }
    slog.Info("webhook: authorization confirmed",
        slog.String("order_id", o.ID),
        slog.String("status", string(o.Status)))
    return c.JSON(http.StatusOK, echo.Map{"result": "confirmed", "status": o.Status})
}
