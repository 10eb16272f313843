package handler

import (
    "context"
    "log/slog"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-market/internal/service"
)

// SettlementHandler lets an operator run a tick on demand.
type SettlementHandler struct {
    Settler service.Ticker
}

// NewSettlementHandler returns a handler driving settler.
func NewSettlementHandler(settler service.Ticker) *SettlementHandler {
    return &SettlementHandler{Settler: settler}
}

// Run handles POST /v1/internal/settlement/run.  The tick runs detached
// from the request so a client disconnect cannot interrupt it.
func (h *SettlementHandler) Run(c echo.Context) error {
    res, err := h.Settler.RunTick(context.WithoutCancel(c.Request().Context()))
    if err != nil {
        slog.Error("manual settlement tick failed", slog.String("error", err.Error()))
        return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": err.Error()})
    }
    return c.JSON(http.StatusOK, TickSummary(res))
}

// TickSummary renders a tick result for operators.
func TickSummary(res service.TickResult) echo.Map {
    outcomes := make(map[service.Outcome]int)
    errs := make(map[string]string)
    for _, r := range res.Results {
        outcomes[r.Outcome]++
        if r.Err != nil {
            errs[r.OrderID] = r.Err.Error()
        }
    }
    return echo.Map{
        "ok":              true,
        "slots_processed": res.SlotsProcessed,
        "orders":          res.OrdersLoaded,
        "outcomes":        outcomes,
        "errors":          errs,
        "started_at":      res.StartedAt,
        "finished_at":     res.FinishedAt,
    }
}
