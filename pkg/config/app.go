package config

import "time"

// AppConfig holds process-level settings for the monitor service.
type AppConfig struct {
	Addr            string
	ConfigFile      string
	DatabasePath    string
	MetricsRefresh  time.Duration
	MetricsWindow   time.Duration
	ProbeTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// LoadAppConfig constructs an AppConfig from environment variables.
func LoadAppConfig() AppConfig {
	return AppConfig{
		Addr:            GetString("MONITOR_ADDR", ":8501"),
		ConfigFile:      GetString("MONITOR_CONFIG_FILE", "config.json"),
		DatabasePath:    GetString("MONITOR_DB_PATH", "monitor.db"),
		MetricsRefresh:  GetSeconds("METRICS_REFRESH_SECONDS", 30*time.Second),
		MetricsWindow:   time.Duration(GetInt("METRICS_WINDOW_MINUTES", 30)) * time.Minute,
		ProbeTimeout:    GetSeconds("PROBE_TIMEOUT_SECONDS", 30*time.Second),
		ShutdownTimeout: GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
		LogLevel:        GetString("LOG_LEVEL", "info"),
	}
}
