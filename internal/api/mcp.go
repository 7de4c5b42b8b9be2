package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/storage"
)

// NewMCPServer creates an MCP server exposing job submission and status
// as tools. Inputs are local paths or gs:// references.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pdfdeck",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfdeck converts PDF documents into editable PPTX decks and merges PDFs. Jobs run asynchronously; poll job_status until completed or failed."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("convert_document",
			mcp.WithDescription("Queue conversion of one PDF into a PPTX slide deck. Returns the job id."),
			mcp.WithString("path", mcp.Description("Local path or gs://bucket/object of the PDF"), mcp.Required()),
		),
		mcpConvert(deps),
	)

	s.AddTool(
		mcp.NewTool("merge_documents",
			mcp.WithDescription("Queue a merge of several PDFs into one, in the given order. Unreadable inputs are skipped."),
			mcp.WithArray("paths", mcp.Description("Local paths or gs:// references, at least two"), mcp.Required()),
		),
		mcpMerge(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Report status, progress and output of a job."),
			mcp.WithString("id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("validate_artifact",
			mcp.WithDescription("Inspect a .pptx or .pdf file and report whether it is a usable artifact."),
			mcp.WithString("path", mcp.Description("Local file path"), mcp.Required()),
		),
		mcpValidate(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobs://recent",
			"Recent Jobs",
			mcp.WithResourceDescription("The 10 most recent jobs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpConvert(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := req.RequireString("path")
		if err != nil || p == "" {
			return mcpError("path is required"), nil
		}
		j, err := submitRefs(ctx, deps, job.KindConvert, []string{p})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue conversion: %v", err)), nil
		}
		return mcpJSON(resultFor(j))
	}
}

func mcpMerge(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paths := req.GetStringSlice("paths", nil)
		if len(paths) < 2 {
			return mcpError("paths must list at least 2 inputs"), nil
		}
		if len(paths) > maxBatchFiles {
			return mcpError(fmt.Sprintf("at most %d inputs per merge", maxBatchFiles)), nil
		}
		j, err := submitRefs(ctx, deps, job.KindMerge, paths)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue merge: %v", err)), nil
		}
		return mcpJSON(resultFor(j))
	}
}

// mcpJobView adds the local output path, which MCP clients can read directly.
type mcpJobView struct {
	job.View
	OutputPath string `json:"output_path,omitempty"`
}

func mcpJobStatus(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		j, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		v := mcpJobView{View: job.ViewOf(j, downloadRef(j.ID), time.Now())}
		if j.Status == job.StatusCompleted {
			v.OutputPath = j.OutputRef
		}
		return mcpJSON(v)
	}
}

func mcpValidate(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := req.RequireString("path")
		if err != nil || p == "" {
			return mcpError("path is required"), nil
		}
		if _, err := os.Stat(p); err != nil {
			return mcpError(fmt.Sprintf("cannot read %s: %v", p, err)), nil
		}
		return mcpJSON(deps.Validator.Validate(p))
	}
}

func mcpResourceRecent(deps AppDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Store.ListJobs("", 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		now := time.Now()
		views := make([]job.View, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, job.ViewOf(j, downloadRef(j.ID), now))
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
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
