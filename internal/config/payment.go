package config

import "time"

// PaymentConfig describes the payment provider and the webhook it calls back.
type PaymentConfig struct {
    BaseURL       string        // PAYMENT_BASE_URL
    APIKey        string        // PAYMENT_API_KEY
    Timeout       time.Duration // PAYMENT_TIMEOUT, bound on one capture/release
    WebhookSecret string        // PAYMENT_WEBHOOK_SECRET, HS256 key of signed events
    MemoTTL       time.Duration // PAYMENT_MEMO_TTL, lifetime of Redis idempotency records
}

// LoadPaymentConfig reads payment settings.  The base URL and webhook secret
// are required.
func LoadPaymentConfig() PaymentConfig {
    return PaymentConfig{
        BaseURL:       must("PAYMENT_BASE_URL"),
        APIKey:        envStr("PAYMENT_API_KEY", ""),
        Timeout:       envDur("PAYMENT_TIMEOUT", 10*time.Second),
        WebhookSecret: must("PAYMENT_WEBHOOK_SECRET"),
        MemoTTL:       envDur("PAYMENT_MEMO_TTL", 30*24*time.Hour),
    }
}
