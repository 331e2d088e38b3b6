package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mfenderov/dossier/internal/jobs"
	"github.com/mfenderov/dossier/pkg/models"
)

// Jobs is the part of the job manager the MCP tools use.
type Jobs interface {
	Submit(q models.ResearchQuery) (string, error)
	Get(jobID string) (models.Job, error)
	Report(ctx context.Context, jobID string) (*models.Report, error)
	Cancel(jobID string) error
	Wait(ctx context.Context, jobID string) (models.Job, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	MaxWait time.Duration // upper bound for get_research wait_seconds
}

// Server exposes research jobs as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	jobs      Jobs
	config    Config
}

// NewServer creates a new MCP server with the research tools.
func NewServer(jobs Jobs, config Config) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Minute
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		jobs:      jobs,
		config:    config,
	}

	startTool := mcp.NewTool("start_research",
		mcp.WithDescription("Start researching a company. Returns a job ID; the report is compiled in the background."),
		mcp.WithString("company",
			mcp.Required(),
			mcp.Description("Company name"),
		),
		mcp.WithString("url",
			mcp.Description("Company website"),
		),
		mcp.WithString("industry",
			mcp.Description("Industry the company operates in"),
		),
		mcp.WithString("hq_location",
			mcp.Description("Headquarters location"),
		),
	)
	mcpServer.AddTool(startTool, s.startHandler)

	getTool := mcp.NewTool("get_research",
		mcp.WithDescription("Get the status of a research job and, once completed, its markdown report"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID returned by start_research"),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("Wait up to this many seconds for the job to finish (default: 0)"),
		),
	)
	mcpServer.AddTool(getTool, s.getHandler)

	cancelTool := mcp.NewTool("cancel_research",
		mcp.WithDescription("Cancel a running research job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID returned by start_research"),
		),
	)
	mcpServer.AddTool(cancelTool, s.cancelHandler)

	return s
}

// startHandler handles the start_research tool call.
func (s *Server) startHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	company, err := req.RequireString("company")
	if err != nil {
		return mcp.NewToolResultError("company parameter is required"), nil
	}

	id, err := s.jobs.Submit(models.ResearchQuery{
		Company:    company,
		URL:        req.GetString("url", ""),
		Industry:   req.GetString("industry", ""),
		HQLocation: req.GetString("hq_location", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start research: %v", err)), nil
	}

	return jsonResult(map[string]any{"job_id": id, "status": models.JobQueued})
}

type researchStatus struct {
	JobID  string          `json:"job_id"`
	Status models.JobState `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// getHandler handles the get_research tool call.
func (s *Server) getHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	if wait := time.Duration(req.GetFloat("wait_seconds", 0) * float64(time.Second)); wait > 0 {
		wait = min(wait, s.config.MaxWait)
		wctx, cancel := context.WithTimeout(ctx, wait)
		_, err := s.jobs.Wait(wctx, id)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jobs.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("wait failed: %v", err)), nil
		}
	}

	j, err := s.jobs.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		// Evicted jobs may still be archived.
		report, rerr := s.jobs.Report(ctx, id)
		if rerr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", id)), nil
		}
		return mcp.NewToolResultText(report.Content), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get research failed: %v", err)), nil
	}

	if j.State == models.JobCompleted && j.Report != nil {
		return mcp.NewToolResultText(j.Report.Content), nil
	}
	return jsonResult(researchStatus{JobID: j.ID, Status: j.State, Error: j.Error})
}

// cancelHandler handles the cancel_research tool call.
func (s *Server) cancelHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	if err := s.jobs.Cancel(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"job_id": id, "status": "cancelling"})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
