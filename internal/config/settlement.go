package config

import "time"

// SettlementConfig tunes the settlement engine.
//
//  Interval      – SETTLEMENT_INTERVAL, in-process tick period; 0 disables the
//                  scheduler and leaves ticks to an external trigger.
//  Cutoff        – SETTLEMENT_CUTOFF, how long before slot start bidding closes.
//  Workers       – SETTLEMENT_WORKERS, orders processed in parallel per tick.
//  MaxAttempts   – SETTLEMENT_MAX_ATTEMPTS, failed payment attempts before an
//                  order is flagged for manual review.
//  WriteRetries  – SETTLEMENT_WRITE_RETRIES, local retries of the finalize
//                  write after money has moved.
//  RetryBackoff  – SETTLEMENT_RETRY_BACKOFF, first backoff step between them.
//  NotifyTimeout – SETTLEMENT_NOTIFY_TIMEOUT, bound on one notification publish.
type SettlementConfig struct {
    Interval      time.Duration
    Cutoff        time.Duration
    Workers       int
    MaxAttempts   int
    WriteRetries  int
    RetryBackoff  time.Duration
    NotifyTimeout time.Duration
}

// LoadSettlementConfig reads settlement tuning with defaults.
func LoadSettlementConfig() SettlementConfig {
    c := SettlementConfig{
        Interval:      envDur("SETTLEMENT_INTERVAL", time.Hour),
        Cutoff:        envDur("SETTLEMENT_CUTOFF", 24*time.Hour),
        Workers:       envInt("SETTLEMENT_WORKERS", 8),
        MaxAttempts:   envInt("SETTLEMENT_MAX_ATTEMPTS", 24),
        WriteRetries:  envInt("SETTLEMENT_WRITE_RETRIES", 3),
        RetryBackoff:  envDur("SETTLEMENT_RETRY_BACKOFF", 200*time.Millisecond),
        NotifyTimeout: envDur("SETTLEMENT_NOTIFY_TIMEOUT", 5*time.Second),
    }
    return c.Normalize()
}

// Normalize returns c with values that would stall the engine clamped.
func (c SettlementConfig) Normalize() SettlementConfig {
    if c.Cutoff < 0 {
        c.Cutoff = 0
    }
    if c.Workers < 1 {
        c.Workers = 1
    }
    if c.MaxAttempts < 1 {
        c.MaxAttempts = 1
    }
    if c.WriteRetries < 1 {
        c.WriteRetries = 1
    }
    if c.NotifyTimeout <= 0 {
        c.NotifyTimeout = 5 * time.Second
    }
    return c
}
