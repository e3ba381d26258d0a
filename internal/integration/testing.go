package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test settings read from the environment.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	TestTimeout time.Duration
}

// LoadConfig loads integration test settings from the environment.
func LoadConfig() *Config {
	model := os.Getenv("EASYAGENT_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Config{
		APIKey:      os.Getenv("EASYAGENT_LLM_API_KEY"),
		BaseURL:     os.Getenv("EASYAGENT_LLM_BASE_URL"),
		Model:       model,
		TestTimeout: 60 * time.Second,
	}
}

// SkipIfNoAPIKey skips tests that need a live completion endpoint.
func SkipIfNoAPIKey(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.APIKey == "" {
		t.Skip("skipping live oracle test: EASYAGENT_LLM_API_KEY not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
