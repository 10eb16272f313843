package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-market/internal/handler"
	"github.com/iliyamo/slot-market/internal/middleware"
	"github.com/iliyamo/slot-market/internal/utils"
)

// RegisterInternal registers operator routes under /v1/internal.  Every route
// requires a bearer token with the ADMIN role.
func RegisterInternal(e *echo.Echo, s *handler.SettlementHandler, jwtSecret string) {
	g := e.Group("/v1/internal")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	g.POST("/settlement/run", s.Run)
}
