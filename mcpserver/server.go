// Package mcpserver exposes the diagram pipeline over the Model Context
// Protocol so editor agents can call the same tools the built-in agent uses.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/agent"
	"github.com/brunobiangulo/brdiagram/logging"
)

// Runner is the part of brdiagram.Pipeline the server needs.
type Runner interface {
	Run(ctx context.Context, in brdiagram.Input) (*brdiagram.Result, error)
	Tools() []agent.Tool
}

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server

	runner Runner
	log    *slog.Logger

	// Runs share one output directory, so they are serialized.
	runMu sync.Mutex
}

// NewServer registers one MCP tool per pipeline tool plus generate_diagrams,
// which runs the whole pipeline.
func NewServer(r Runner, version string) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "brdiagram", Version: version}, nil),
		runner:    r,
		log:       logging.New("mcp"),
	}

	for _, tool := range r.Tools() {
		sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
		}, s.toolHandler(tool))
	}

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "generate_diagrams",
		Description: "Run the full BRD to diagrams pipeline on the given text. Writes dfd, logic and erd files to the output directory and returns their markup.",
	}, s.handleGenerate)

	return s
}

// Run serves over stdin/stdout until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// --- Tool input/output types ---

type toolInput struct {
	Input string `json:"input" jsonschema:"BRD text for ParseBRD, or the extracted facts JSON for the Gen tools"`
}

type toolOutput struct {
	Output string `json:"output"`
}

type generateInput struct {
	Text string `json:"text" jsonschema:"the full BRD text"`
}

type diagramOutput struct {
	Kind   string `json:"kind"`
	Markup string `json:"markup,omitempty"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

type generateOutput struct {
	RunID    string          `json:"run_id"`
	Status   string          `json:"status"`
	Strategy string          `json:"strategy"`
	Summary  string          `json:"summary"`
	Diagrams []diagramOutput `json:"diagrams"`
	Failures []string        `json:"failures,omitempty"`
}

// --- Handlers ---

func (s *Server) toolHandler(tool agent.Tool) func(context.Context, *sdkmcp.CallToolRequest, toolInput) (*sdkmcp.CallToolResult, toolOutput, error) {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, in toolInput) (*sdkmcp.CallToolResult, toolOutput, error) {
		if strings.TrimSpace(in.Input) == "" {
			return nil, toolOutput{}, fmt.Errorf("input is required")
		}
		out, err := tool.Run(ctx, in.Input)
		if err != nil {
			s.log.Warn("tool failed", "tool", tool.Name, "error", err)
			return nil, toolOutput{}, fmt.Errorf("%s: %w", tool.Name, err)
		}
		return nil, toolOutput{Output: out}, nil
	}
}

func (s *Server) handleGenerate(ctx context.Context, _ *sdkmcp.CallToolRequest, in generateInput) (*sdkmcp.CallToolResult, generateOutput, error) {
	res, err := s.run(ctx, brdiagram.Input{Text: in.Text})
	if err != nil {
		return nil, generateOutput{}, fmt.Errorf("generate_diagrams: %w", err)
	}

	out := generateOutput{
		RunID:    res.RunID,
		Status:   string(res.Status),
		Strategy: res.Strategy,
		Summary:  res.Summary,
	}
	for _, a := range res.Artifacts {
		out.Diagrams = append(out.Diagrams, diagramOutput{
			Kind:   string(a.Kind),
			Markup: a.Markup,
			Path:   a.MarkupPath,
			Error:  a.Err,
		})
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.String())
	}
	s.log.Info("generate_diagrams complete", "run", res.RunID, "status", res.Status)
	return nil, out, nil
}

func (s *Server) run(ctx context.Context, in brdiagram.Input) (*brdiagram.Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runner.Run(ctx, in)
}
