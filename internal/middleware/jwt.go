package middleware // middleware holds the echo middleware shared by the HTTP routes

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-market/internal/utils"
)

// JWTAuth validates a Bearer operator token and stores its subject and role
// in the context under "subject" and "role".  Requests without a valid token
// are answered with 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set("subject", claims.Subject)
            c.Set("role", claims.Role)
            return next(c)
        }
    }
}

// requester identifies the caller for rate limiting: the token subject when
// authenticated, otherwise the client IP.
func requester(c echo.Context) string {
    if s, ok := c.Get("subject").(string); ok && s != "" {
        return "sub:" + s
    }
    if ip := c.RealIP(); ip != "" {
        return "ip:" + ip
    }
    return "ip:unknown"
}
