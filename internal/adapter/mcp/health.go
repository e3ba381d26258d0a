package mcp

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"easyagent/internal/infra/config"
)

// defaultHealthTimeout bounds the connection check; a server that cannot
// complete the handshake and tool listing within it is marked unhealthy.
const defaultHealthTimeout = 10 * time.Second

// checkEnvironment verifies a server's runtime prerequisites before any
// connection is attempted. It returns an empty string when the environment
// is sound, otherwise the deactivation reason.
func checkEnvironment(cfg config.MCPServerConfig) string {
	if cfg.Command != "" {
		if _, err := exec.LookPath(cfg.Command); err != nil {
			return fmt.Sprintf("command %q not found in PATH", cfg.Command)
		}
	} else {
		u, err := url.Parse(cfg.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Sprintf("invalid server URL %q", cfg.URL)
		}
	}

	var missing []string
	for _, key := range cfg.RequiredEnv {
		if _, inline := cfg.Env[key]; inline {
			continue
		}
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("missing required env: %s", strings.Join(missing, ", "))
	}
	return ""
}

// checkConnection performs the handshake and tool listing within the
// server's health timeout. On success it returns the discovered tools;
// otherwise the deactivation reason.
func checkConnection(ctx context.Context, c wireClient, cfg config.MCPServerConfig) ([]mcp.Tool, string) {
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := initialize(ctx, c); err != nil {
		return nil, fmt.Sprintf("handshake failed: %v", err)
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Sprintf("tool listing failed: %v", err)
	}
	if len(result.Tools) == 0 {
		return nil, "server exposes no tools"
	}
	return result.Tools, ""
}
