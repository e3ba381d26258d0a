package mcp

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// wireClient abstracts the protocol client for testability.
type wireClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Close() error
}

// dial opens a protocol connection for the given server definition. Command
// servers run over stdio; URL servers over streamable HTTP.
func dial(ctx context.Context, name, command string, args []string, env map[string]string, url string) (wireClient, error) {
	if command != "" {
		c, err := mcpclient.NewStdioMCPClient(command, envSlice(env), args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client for %q: %w", name, err)
		}
		return c, nil
	}

	t, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("create http transport for %q: %w", name, err)
	}
	c := mcpclient.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start http client for %q: %w", name, err)
	}
	return c, nil
}

// initialize performs the protocol handshake.
func initialize(ctx context.Context, c wireClient) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "easyagent",
		Version: "1.0.0",
	}
	_, err := c.Initialize(ctx, initReq)
	return err
}

// envSlice converts a map of env vars to KEY=VALUE form.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
