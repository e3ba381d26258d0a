package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"easyagent/internal/domain"
	"easyagent/internal/infra/config"
)

// callTimeout bounds a single tool invocation.
const callTimeout = 30 * time.Second

// Server exposes one protocol server as a single composite capability. The
// oracle picks the tool by name; the server routes the call to whichever
// tool owns it.
type Server struct {
	name       string
	capName    string
	client     wireClient
	tools      map[string]mcp.Tool
	validators map[string]*jsonschema.Schema
	logger     *slog.Logger
}

// BuildCapabilities connects to every configured server, health-checks it,
// and returns one capability per server. Servers that fail the environment
// or connection check yield inactive capabilities carrying the reason, so
// diagnostics survive in the registry. The returned closer shuts down all
// live connections.
func BuildCapabilities(ctx context.Context, cfgs []config.MCPServerConfig, logger *slog.Logger) ([]*domain.Capability, func()) {
	var caps []*domain.Capability
	var servers []*Server

	for _, cfg := range cfgs {
		capName := capabilityName(cfg.Name)

		if reason := checkEnvironment(cfg); reason != "" {
			logger.Warn("mcp server deactivated", "server", cfg.Name, "reason", reason)
			caps = append(caps, inactiveCapability(capName, cfg.Name, reason))
			continue
		}

		client, err := dial(ctx, cfg.Name, cfg.Command, cfg.Args, cfg.Env, cfg.URL)
		if err != nil {
			reason := fmt.Sprintf("connection failed: %v", err)
			logger.Warn("mcp server deactivated", "server", cfg.Name, "reason", reason)
			caps = append(caps, inactiveCapability(capName, cfg.Name, reason))
			continue
		}

		tools, reason := checkConnection(ctx, client, cfg)
		if reason != "" {
			client.Close()
			logger.Warn("mcp server deactivated", "server", cfg.Name, "reason", reason)
			caps = append(caps, inactiveCapability(capName, cfg.Name, reason))
			continue
		}

		srv := newServer(cfg.Name, capName, client, tools, logger)
		servers = append(servers, srv)
		caps = append(caps, srv.capability())
		logger.Info("mcp server ready", "server", cfg.Name, "capability", capName, "tools", len(tools))
	}

	closer := func() {
		for _, srv := range servers {
			if err := srv.client.Close(); err != nil {
				logger.Warn("mcp server close error", "server", srv.name, "error", err)
			}
		}
	}
	return caps, closer
}

func newServer(name, capName string, client wireClient, tools []mcp.Tool, logger *slog.Logger) *Server {
	srv := &Server{
		name:       name,
		capName:    capName,
		client:     client,
		tools:      make(map[string]mcp.Tool, len(tools)),
		validators: make(map[string]*jsonschema.Schema),
		logger:     logger,
	}
	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		srv.tools[t.Name] = t
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			continue
		}
		schema, err := compiler.Compile(raw)
		if err != nil {
			// A broken schema disables validation for that tool only.
			logger.Warn("tool schema rejected", "server", name, "tool", t.Name, "error", err)
			continue
		}
		srv.validators[t.Name] = schema
	}
	return srv
}

// capability builds the registry entry for this server. The prompt template
// lists each tool with its description so the oracle can pick one.
func (s *Server) capability() *domain.Capability {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var handles []string
	var toolDocs strings.Builder
	for _, name := range names {
		t := s.tools[name]
		handles = append(handles, name)
		fmt.Fprintf(&toolDocs, "- %s: %s\n", name, t.Description)
	}

	tpl := domain.PromptTemplate{
		SystemInstructions: fmt.Sprintf(
			"You operate the %q tool server. Available tools:\n%s", s.name, toolDocs.String()),
		CoreInstructions: "Pick exactly one tool for the current task and put its name in tool_name " +
			"and its arguments in tool_arguments. Arguments must match the tool's schema.",
		DataFields: `"tool_name": "string", "tool_arguments": "object"`,
	}

	return &domain.Capability{
		Name:        s.capName,
		Description: fmt.Sprintf("runs tools exposed by the %q server", s.name),
		Handles:     handles,
		Parameters: map[string]string{
			"tool_name":      "name of the tool to invoke",
			"tool_arguments": "arguments object matching the tool's schema",
		},
		Version:  "1.0.0",
		Active:   true,
		Template: &tpl,
		Run:      s.run,
	}
}

// run executes the tool the oracle selected and folds the result back into
// the envelope. The finished task is popped; remaining tasks loop back to
// this capability, an empty list hands over to the fallback for synthesis.
func (s *Server) run(ctx context.Context, env domain.Envelope) (any, error) {
	toolName, _ := env.Data["tool_name"].(string)
	if toolName == "" {
		// The oracle answered without picking a tool; let the envelope
		// drive routing as-is.
		return env, nil
	}

	tool, ok := s.tools[toolName]
	if !ok {
		return nil, domain.NewDomainError("mcp."+s.name, domain.ErrToolNotFound, toolName)
	}

	args, _ := env.Data["tool_arguments"].(map[string]any)
	if schema, ok := s.validators[tool.Name]; ok {
		result := schema.Validate(args)
		if !result.IsValid() {
			return nil, domain.NewDomainError("mcp."+s.name, domain.ErrInvalidArguments,
				fmt.Sprintf("%s: %v", toolName, result.Error()))
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = tool.Name
	callReq.Params.Arguments = args

	s.logger.Debug("mcp tool call", "server", s.name, "tool", tool.Name)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := s.client.CallTool(callCtx, callReq)
	if err != nil {
		return nil, domain.WrapOp("mcp."+s.name+"."+tool.Name, err)
	}
	content := extractContent(result)
	if result.IsError {
		return nil, domain.WrapOp("mcp."+s.name+"."+tool.Name, fmt.Errorf("tool reported error: %s", content))
	}

	out := env
	out.Status = domain.StatusSuccess
	out.Data = map[string]any{
		"tool_name":   tool.Name,
		"tool_result": content,
	}
	out.Message = fmt.Sprintf("%s finished %s", s.capName, tool.Name)

	if len(env.TaskList) > 1 {
		out.TaskList = env.TaskList[1:]
		out.NextAgent = s.capName
	} else {
		out.TaskList = nil
		out.NextAgent = domain.GeneralAgent
	}
	return out, nil
}

// extractContent converts a tool result's content blocks to a string.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func inactiveCapability(capName, serverName, reason string) *domain.Capability {
	return &domain.Capability{
		Name:           capName,
		Description:    fmt.Sprintf("runs tools exposed by the %q server", serverName),
		Handles:        []string{"unavailable"},
		Version:        "1.0.0",
		Active:         false,
		InactiveReason: reason,
	}
}

// capabilityName derives the registry name for a server.
func capabilityName(serverName string) string {
	var b strings.Builder
	for _, r := range serverName {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "_agent"
}
