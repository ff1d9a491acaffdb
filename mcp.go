package sourcier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ChannelSummary is the per-channel record catalog surfaces expose.
type ChannelSummary struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	PageURL  string `json:"page_url"`
	Category string `json:"category"`
	Premium  bool   `json:"premium"`
}

// ChannelLister enumerates the channel catalog for read-only surfaces.
type ChannelLister func(ctx context.Context) ([]ChannelSummary, error)

// RegisterMCP registers the extraction tools on an MCP server. With a nil
// list the catalog tool is omitted.
func (s *Service) RegisterMCP(srv *mcp.Server, list ChannelLister) {
	s.registerExtract(srv)
	s.registerPurge(srv)
	s.registerStats(srv)
	if list != nil {
		registerListChannels(srv, list)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func toolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

func (s *Service) registerExtract(srv *mcp.Server) {
	type req struct {
		Channel string `json:"channel"`
		Force   bool   `json:"force"`
	}

	tool := &mcp.Tool{
		Name:        "sourcier_extract_stream",
		Description: "Extract the playable HLS manifest URL for a live channel",
		InputSchema: inputSchema(map[string]any{
			"channel": map[string]any{"type": "string", "description": "Channel slug"},
			"force":   map[string]any{"type": "boolean", "description": "Bypass the result cache"},
		}, []string{"channel"}),
	}

	srv.AddTool(tool, func(ctx context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		res, err := s.Extract(ctx, p.Channel, p.Force)
		if err != nil {
			return toolError(err)
		}
		return toolResult(res)
	})
}

func (s *Service) registerPurge(srv *mcp.Server) {
	type req struct {
		Channel string `json:"channel"`
	}

	tool := &mcp.Tool{
		Name:        "sourcier_purge_cache",
		Description: "Drop cached extractions, one channel or all",
		InputSchema: inputSchema(map[string]any{
			"channel": map[string]any{"type": "string", "description": "Channel slug; omit to purge everything"},
		}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err))
			}
		}
		n := 0
		if p.Channel == "" {
			n = s.PurgeAll()
		} else if s.Purge(p.Channel) {
			n = 1
		}
		return toolResult(map[string]int{"purged": n})
	})
}

func (s *Service) registerStats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sourcier_stats",
		Description: "Get extraction service counters and breaker state",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResult(s.Stats())
	})
}

func registerListChannels(srv *mcp.Server, list ChannelLister) {
	tool := &mcp.Tool{
		Name:        "sourcier_list_channels",
		Description: "List the channels known to the extraction service",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(ctx context.Context, r *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		channels, err := list(ctx)
		if err != nil {
			return toolError(err)
		}
		return toolResult(channels)
	})
}
