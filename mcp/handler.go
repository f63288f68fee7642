package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/foomo/confluence-mcp/service"
	"github.com/foomo/confluence-mcp/service/vo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const Version = "0.1.0"

type LoadSpaceRequest struct {
	SpaceKey           string `json:"spaceKey"`           // Key of the space to load
	Label              string `json:"label"`              // Optional label filter
	Mode               string `json:"mode"`               // "document" (default) or "text"
	AdditionalMetadata string `json:"additionalMetadata"` // JSON object merged into every document's metadata
	OmitMetadataKeys   string `json:"omitMetadataKeys"`   // Comma-separated default keys to drop, or "*"
}

type LoadSpaceResponse struct {
	Documents []vo.Document `json:"documents,omitempty"`
	Text      string        `json:"text,omitempty"`
}

// NewServer creates a new MCP server with the loadSpace tool
func NewServer(serviceInstance service.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"Confluence Loader MCP",
		Version,
		server.WithToolCapabilities(false),
	)

	loadSpaceTool := mcp.NewTool("loadSpace",
		mcp.WithDescription("Load all pages of a Confluence space as normalized plain-text documents"),
		mcp.WithString("spaceKey",
			mcp.Required(),
			mcp.Description("Key of the Confluence space to load"),
		),
		mcp.WithString("label",
			mcp.Description("Only load pages carrying this label"),
		),
		mcp.WithString("mode",
			mcp.Description("Output mode: 'document' for structured documents (default) or 'text' for newline-joined page contents"),
		),
		mcp.WithString("additionalMetadata",
			mcp.Description("JSON object merged into every document's metadata"),
		),
		mcp.WithString("omitMetadataKeys",
			mcp.Description("Comma-separated list of default metadata keys to omit, or '*' for all"),
		),
	)

	s.AddTool(loadSpaceTool, mcp.NewTypedToolHandler(getLoadSpaceHandler(serviceInstance)))

	return s
}

// getLoadSpaceHandler returns the typed handler backing the loadSpace tool
func getLoadSpaceHandler(serviceInstance service.Service) func(ctx context.Context, request mcp.CallToolRequest, args LoadSpaceRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args LoadSpaceRequest) (*mcp.CallToolResult, error) {
		// Validate inputs
		if args.SpaceKey == "" {
			return mcp.NewToolResultError("spaceKey is required"), nil
		}

		opts, err := loadOptions(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var response LoadSpaceResponse
		switch args.Mode {
		case "", "document":
			response.Documents = serviceInstance.Load(ctx, opts)
		case "text":
			response.Text = string(serviceInstance.LoadText(ctx, opts))
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q, expected 'document' or 'text'", args.Mode)), nil
		}

		responseBytes, err := json.Marshal(response)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}

		return mcp.NewToolResultText(string(responseBytes)), nil
	}
}

func loadOptions(args LoadSpaceRequest) (service.LoadOptions, error) {
	opts := service.LoadOptions{
		SpaceKey:         args.SpaceKey,
		Label:            args.Label,
		OmitMetadataKeys: args.OmitMetadataKeys,
	}
	if args.AdditionalMetadata != "" {
		if err := json.Unmarshal([]byte(args.AdditionalMetadata), &opts.AdditionalMetadata); err != nil {
			return service.LoadOptions{}, fmt.Errorf("additionalMetadata is not a JSON object: %v", err)
		}
	}
	return opts, nil
}
