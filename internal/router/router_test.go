package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-market/internal/config"
	"github.com/iliyamo/slot-market/internal/handler"
	"github.com/iliyamo/slot-market/internal/model"
	"github.com/iliyamo/slot-market/internal/service"
	"github.com/iliyamo/slot-market/internal/utils"
)

type noopOrders struct{}

func (noopOrders) Create(context.Context, *model.Order) error { return nil }
func (noopOrders) GetByID(context.Context, string) (model.Order, error) {
	return model.Order{}, nil
}
func (noopOrders) ConfirmAuthorization(context.Context, string, string, time.Time, time.Duration) (model.Order, bool, error) {
	return model.Order{}, false, nil
}

type noopStats struct{}

func (noopStats) ListByResource(context.Context, uint64) ([]model.MarketStat, error) { return nil, nil }

type noopTicker struct{}

func (noopTicker) RunTick(context.Context) (service.TickResult, error) { return service.TickResult{}, nil }

func newTestServer() *echo.Echo {
	e := echo.New()
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	RegisterRoutes(e, nil, handler.NewOrderHandler(noopOrders{}, handler.BiddingWindow{}), handler.NewPaymentWebhookHandler(noopOrders{}, nil, "hook", handler.BiddingWindow{}), pass)
	RegisterMarket(e, handler.NewMarketPriceHandler(noopStats{}), nil, config.CacheConfig{}, pass)
	RegisterInternal(e, handler.NewSettlementHandler(noopTicker{}), "secret")
	return e
}

func TestRoutes(t *testing.T) {
	e := newTestServer()
	admin, err := utils.NewAccessToken("secret", "ops", utils.RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"market prices", http.MethodGet, "/v1/market-prices", "", http.StatusOK},
		{"settlement needs a token", http.MethodPost, "/v1/internal/settlement/run", "", http.StatusUnauthorized},
		{"settlement with admin token", http.MethodPost, "/v1/internal/settlement/run", admin.Token, http.StatusOK},
		{"unknown route", http.MethodGet, "/v1/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
