package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is anything whose liveness can be probed, such as *sql.DB.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// Health answers load balancer probes.  It returns 200 "ok" when the
// database answers a ping within two seconds and 503 otherwise.  A nil
// pinger only reports that the process is up.
func Health(db Pinger) echo.HandlerFunc {
    return func(c echo.Context) error {
        if db != nil {
            ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
            defer cancel()
            if err := db.PingContext(ctx); err != nil {
                return c.String(http.StatusServiceUnavailable, "database unavailable")
            }
        }
        return c.String(http.StatusOK, "ok")
    }
}
