package config

// NotifyConfig controls where settlement notifications go.
//
//  Enabled – NOTIFY_ENABLED, publish to RabbitMQ; when false events are only logged.
//  Consume – NOTIFY_CONSUME, run the bundled consumer in the server process.
//  LogPath – NOTIFY_LOG_PATH, file the bundled consumer appends to.
type NotifyConfig struct {
    URL     string
    Enabled bool
    Consume bool
    LogPath string
}

// LoadNotifyConfig reads notification settings.
func LoadNotifyConfig() NotifyConfig {
    return NotifyConfig{
        URL:     AMQPURL(),
        Enabled: envBool("NOTIFY_ENABLED", true),
        Consume: envBool("NOTIFY_CONSUME", true),
        LogPath: envStr("NOTIFY_LOG_PATH", "logs/notifications.log"),
    }
}
