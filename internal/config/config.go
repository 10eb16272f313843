// Package config loads application configuration from environment variables.
package config

import (
    "log/slog"
    "strings"
    "time"
)

// Config holds the process-wide runtime configuration.  Each field
// corresponds to an environment variable.
type Config struct {
    Env       string        // APP_ENV, e.g. "dev" or "prod"
    Port      string        // APP_PORT, HTTP port to listen on
    DBUser    string        // DB_USER
    DBPass    string        // DB_PASS (optional)
    DBHost    string        // DB_HOST
    DBPort    string        // DB_PORT
    DBName    string        // DB_NAME
    DBTimeout time.Duration // DB_TIMEOUT, bound on every repository call
    JWTSecret string        // JWT_SECRET, verifies admin bearer tokens
    LogLevel  slog.Level    // LOG_LEVEL: debug, info, warn, error
}

// Load reads configuration values from environment variables.  Missing
// required variables terminate the process.
func Load() Config {
    return Config{
        Env:       envStr("APP_ENV", "dev"),
        Port:      envStr("APP_PORT", "8080"),
        DBUser:    must("DB_USER"),
        DBPass:    envStr("DB_PASS", ""),
        DBHost:    must("DB_HOST"),
        DBPort:    envStr("DB_PORT", "3306"),
        DBName:    must("DB_NAME"),
        DBTimeout: envDur("DB_TIMEOUT", 5*time.Second),
        JWTSecret: must("JWT_SECRET"),
        LogLevel:  parseLevel(envStr("LOG_LEVEL", "info")),
    }
}

func parseLevel(s string) slog.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return slog.LevelDebug
    case "warn", "warning":
        return slog.LevelWarn
    case "error":
        return slog.LevelError
    }
    return slog.LevelInfo
}
