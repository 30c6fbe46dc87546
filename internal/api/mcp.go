package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/templates"
	"github.com/kalambet/msgforge/internal/versions"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Jobs      *jobs.Manager
	Versions  *versions.Manager
	Templates *templates.Loader
}

// NewMCPServer creates an MCP server exposing generation and version tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"msgforge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("msgforge generates marketing messaging from customer pain points and scores every draft for quality."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_generation",
			mcp.WithDescription("Queue a generation job for a pain point across voice profiles and asset types."),
			mcp.WithString("pain_point_id", mcp.Description("Pain point to write about"), mcp.Required()),
			mcp.WithArray("voice_profile_ids", mcp.Description("Voice profile ids"), mcp.Required()),
			mcp.WithArray("asset_types", mcp.Description("Asset types, e.g. battlecard, one_pager"), mcp.Required()),
		),
		mcpQueueGeneration(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Return the status of a generation job."),
			mcp.WithString("job_id", mcp.Description("Generation job id"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_variants",
			mcp.WithDescription("List the scored variants of a generation job with gate results and the best variant per cell."),
			mcp.WithString("job_id", mcp.Description("Generation job id"), mcp.Required()),
			mcp.WithBoolean("passing_only", mcp.Description("Only return variants that pass the quality gate")),
		),
		mcpListVariants(deps),
	)

	s.AddTool(
		mcp.NewTool("create_version",
			mcp.WithDescription("Save content as the new active version of a session's asset."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("asset_type", mcp.Description("Asset type"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Full content of the new version"), mcp.Required()),
		),
		mcpCreateVersion(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"msgforge://asset-types",
			"Asset Types",
			mcp.WithResourceDescription("Asset types that have a generation template"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAssetTypes(deps),
	)

	return s
}

func mcpQueueGeneration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ppID, err := req.RequireString("pain_point_id")
		if err != nil {
			return mcpError("pain_point_id is required"), nil
		}
		voices := req.GetStringSlice("voice_profile_ids", nil)
		assets := req.GetStringSlice("asset_types", nil)
		if len(voices) == 0 || len(assets) == 0 {
			return mcpError("voice_profile_ids and asset_types must not be empty"), nil
		}

		job, err := deps.Jobs.Enqueue(jobs.Request{PainPointID: ppID, VoiceProfileIDs: voices, AssetTypes: assets})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued generation job %s (%d voices x %d asset types)", job.ID, len(voices), len(assets))), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		job, err := deps.Store.GetGenerationJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		job.ErrorStack = ""
		return mcpJSON(job)
	}
}

func mcpListVariants(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		list, err := buildVariantList(deps.Store, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list variants: %v", err)), nil
		}
		if req.GetBool("passing_only", false) {
			kept := list.Variants[:0]
			for _, v := range list.Variants {
				if v.Passes {
					kept = append(kept, v)
				}
			}
			list.Variants = kept
		}
		return mcpJSON(list)
	}
}

func mcpCreateVersion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		assetType, err := req.RequireString("asset_type")
		if err != nil {
			return mcpError("asset_type is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		v, err := deps.Versions.CreateVersion(ctx, sessionID, assetType, content)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create version: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created version %d of %s/%s (%s)", v.VersionNumber, sessionID, assetType, v.ID)), nil
	}
}

func mcpResourceAssetTypes(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Templates.Available())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal asset types: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
