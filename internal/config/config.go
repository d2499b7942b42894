// Package config centralizes ordkeyd's flag-based configuration, used
// by cmd/ordkeyd.
package config

import "flag"

// Config holds the server's runtime configuration.
type Config struct {
	Port              int
	ObservabilityPort int
	DBPath            string
	LogLevel          string
	LogPretty         bool
}

// Parse parses os.Args (via the standard flag package) into a Config.
func Parse() *Config {
	cfg := &Config{}
	flag.IntVar(&cfg.Port, "port", 8080, "API server port")
	flag.IntVar(&cfg.ObservabilityPort, "metrics-port", 9090, "Metrics/health/pprof port")
	flag.StringVar(&cfg.DBPath, "db", "ordkey.db", "Database file path")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.LogPretty, "log-pretty", false, "Pretty-print logs for development")
	flag.Parse()
	return cfg
}
