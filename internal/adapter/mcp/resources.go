package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"easyagent/internal/domain"
)

// Resources lists the resources the server exposes.
func (s *Server) Resources(ctx context.Context) ([]mcp.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := s.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, domain.WrapOp("mcp."+s.name+".resources", err)
	}
	return result.Resources, nil
}

// ReadResource fetches one resource by URI and flattens its content blocks
// to text. Binary blocks are passed through base64-encoded, as received.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := s.client.ReadResource(ctx, req)
	if err != nil {
		return "", domain.WrapOp("mcp."+s.name+".read_resource", err)
	}

	var parts []string
	for _, c := range result.Contents {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			parts = append(parts, v.Text)
		case *mcp.TextResourceContents:
			parts = append(parts, v.Text)
		case mcp.BlobResourceContents:
			parts = append(parts, v.Blob)
		case *mcp.BlobResourceContents:
			parts = append(parts, v.Blob)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Prompts lists the prompts and prompt templates the server offers.
func (s *Server) Prompts(ctx context.Context) ([]mcp.Prompt, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := s.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, domain.WrapOp("mcp."+s.name+".prompts", err)
	}
	return result.Prompts, nil
}

// Prompt resolves a named prompt, rendering its template with args.
func (s *Server) Prompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, domain.WrapOp("mcp."+s.name+".prompt."+name, err)
	}
	return result, nil
}
