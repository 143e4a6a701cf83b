// internal/mcp/server.go
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loopautoma/loopautoma/internal/daemon"
	"github.com/loopautoma/loopautoma/internal/state"
)

// Server exposes monitor control over MCP so an agent can drive the runtime:
// start and stop profiles, panic-stop, and inspect run history.
type Server struct {
	d      *daemon.Daemon
	server *mcp.Server
}

// StartInput is the input schema for the start_monitor tool
type StartInput struct {
	Profile string `json:"profile" jsonschema:"Profile id to start monitoring"`
}

// StartOutput is the output schema for the start_monitor tool
type StartOutput struct {
	Message string `json:"message"`
}

// StopInput is the input schema for the stop_monitor tool
type StopInput struct {
	Profile string `json:"profile" jsonschema:"Profile id to stop"`
}

// StopOutput is the output schema for the stop_monitor tool
type StopOutput struct {
	Message string `json:"message"`
}

// PanicInput is the input schema for the panic_stop tool
type PanicInput struct{}

// PanicOutput is the output schema for the panic_stop tool
type PanicOutput struct {
	Message string `json:"message"`
}

// StatusInput is the input schema for the status tool
type StatusInput struct{}

// StatusOutput is the output schema for the status tool
type StatusOutput struct {
	Status map[string]any `json:"status"`
}

// HistoryInput is the input schema for the history tool
type HistoryInput struct {
	Profile string `json:"profile,omitempty" jsonschema:"Optional profile id filter"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum runs to return (default 20)"`
}

// HistoryOutput is the output schema for the history tool
type HistoryOutput struct {
	Runs  []RunResult `json:"runs"`
	Count int         `json:"count"`
}

// RunResult is one run in history results
type RunResult struct {
	ID         string `json:"id"`
	ProfileID  string `json:"profile_id"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
}

// NewServer creates an MCP server wired to the daemon.
func NewServer(d *daemon.Daemon) *Server {
	s := &Server{d: d}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "loopautoma",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_monitor",
		Description: "Start unattended monitoring for a profile. The monitor watches the profile's screen regions and runs its action sequence when the condition holds. Only one profile monitors at a time.",
	}, s.handleStart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_monitor",
		Description: "Stop the running monitor for a profile. The current action, if any, completes; nothing further runs.",
	}, s.handleStop)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "panic_stop",
		Description: "Immediately halt all automation, bypassing cooldowns and guardrails. Use when synthesized input is doing something unexpected.",
	}, s.handlePanic)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Report the daemon status: loaded profiles, active monitor state, and current run id.",
	}, s.handleStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "history",
		Description: "List recent monitor runs with how each one ended (stopped, panic_stopped, watchdog reason, termination reason).",
	}, s.handleHistory)

	s.server = server
	return s
}

func (s *Server) handleStart(ctx context.Context, req *mcp.CallToolRequest, input StartInput) (*mcp.CallToolResult, StartOutput, error) {
	if input.Profile == "" {
		return nil, StartOutput{}, fmt.Errorf("profile is required")
	}
	if err := s.d.StartProfile(input.Profile); err != nil {
		return nil, StartOutput{}, fmt.Errorf("failed to start monitor: %w", err)
	}
	return nil, StartOutput{
		Message: fmt.Sprintf("Monitoring started for profile %q", input.Profile),
	}, nil
}

func (s *Server) handleStop(ctx context.Context, req *mcp.CallToolRequest, input StopInput) (*mcp.CallToolResult, StopOutput, error) {
	if input.Profile == "" {
		return nil, StopOutput{}, fmt.Errorf("profile is required")
	}
	if err := s.d.StopProfile(input.Profile); err != nil {
		return nil, StopOutput{}, fmt.Errorf("failed to stop monitor: %w", err)
	}
	return nil, StopOutput{
		Message: fmt.Sprintf("Monitoring stopped for profile %q", input.Profile),
	}, nil
}

func (s *Server) handlePanic(ctx context.Context, req *mcp.CallToolRequest, input PanicInput) (*mcp.CallToolResult, PanicOutput, error) {
	s.d.PanicStop()
	return nil, PanicOutput{Message: "Panic stop issued; all automation halted"}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return nil, StatusOutput{Status: s.d.Status()}, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.d.History(input.Profile, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to query history: %w", err)
	}
	return nil, HistoryOutput{
		Runs:  toRunResults(runs),
		Count: len(runs),
	}, nil
}

func toRunResults(runs []state.RunRecord) []RunResult {
	out := make([]RunResult, len(runs))
	for i, r := range runs {
		out[i] = RunResult{
			ID:         r.ID,
			ProfileID:  r.ProfileID,
			State:      r.State,
			Reason:     r.Reason,
			StartedAt:  r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			DurationMs: r.DurationMs,
		}
	}
	return out
}

// Run serves MCP on stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
