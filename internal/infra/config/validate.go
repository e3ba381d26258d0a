package config

import "fmt"

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func Validate(cfg *Config) error {
	if cfg.Orchestrator.MaxRetries < 1 {
		return fmt.Errorf("orchestrator.max_retries must be at least 1, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Orchestrator.MaxTurns < 1 {
		return fmt.Errorf("orchestrator.max_turns must be at least 1, got %d", cfg.Orchestrator.MaxTurns)
	}
	if cfg.Gateway.Enabled && cfg.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required when the gateway is enabled")
	}
	if cfg.Gateway.RateLimit.Enabled && cfg.Gateway.RateLimit.RPS <= 0 {
		return fmt.Errorf("gateway.rate_limit.rps must be positive, got %v", cfg.Gateway.RateLimit.RPS)
	}
	if cfg.Storage.Enabled && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}

	for i, srv := range cfg.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp[%d].name is required", i)
		}
		if srv.Command == "" && srv.URL == "" {
			return fmt.Errorf("mcp server %q needs either a command or a url", srv.Name)
		}
		if srv.Command != "" && srv.URL != "" {
			return fmt.Errorf("mcp server %q cannot have both a command and a url", srv.Name)
		}
	}

	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", cfg.Logger.Level)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("unsupported tracer exporter: %s", cfg.Tracer.Exporter)
	}
	return nil
}
