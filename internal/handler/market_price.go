package handler

import (
    "context"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-market/internal/model"
)

// StatsReader lists aggregate market prices.
type StatsReader interface {
    ListByResource(ctx context.Context, resourceID uint64) ([]model.MarketStat, error)
}

// MarketPriceHandler exposes the settled price statistics.
type MarketPriceHandler struct {
    Stats StatsReader
}

// NewMarketPriceHandler returns a handler over stats.
func NewMarketPriceHandler(stats StatsReader) *MarketPriceHandler {
    return &MarketPriceHandler{Stats: stats}
}

// List handles GET /v1/market-prices?resource_id=.  A missing or zero
// resource_id returns the marketplace-wide records.
func (h *MarketPriceHandler) List(c echo.Context) error {
    var resourceID uint64
    if raw := c.QueryParam("resource_id"); raw != "" {
        id, err := strconv.ParseUint(raw, 10, 64)
        if err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid resource_id"})
        }
        resourceID = id
    }
    stats, err := h.Stats.ListByResource(c.Request().Context(), resourceID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    if stats == nil {
        stats = []model.MarketStat{}
    }
    return c.JSON(http.StatusOK, echo.Map{"resource_id": resourceID, "items": stats})
}
