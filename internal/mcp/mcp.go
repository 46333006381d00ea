// Package mcp provides the warden MCP server, registering the shell
// execution tools and publishing model instructions.
package mcp

import (
	_ "embed"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/deixis/warden"
	"github.com/deixis/warden/internal/engine"
	"github.com/deixis/warden/internal/policy"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *engine.Engine
	policy *policy.Policy
	log    logrus.FieldLogger
}

// NewServer creates an MCP server with the warden tools registered.
func NewServer(e *engine.Engine, log logrus.FieldLogger) *mcp.Server {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logger
	}
	h := &handler{
		engine: e,
		policy: e.Policy(),
		log:    log,
	}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "warden", Version: warden.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "shell_exec",
		Description: `Execute an allow-listed command inside the base directory.

Directory changes are not supported; set cwd instead of using cd. Output is
captured with a per-stream size cap that preserves the start and the most
recent lines of long output. Use streaming=true for long-running commands
(dev servers, watch tasks) to get a partial result before the process exits.`,
	}, h.execHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "shell_allowed",
		Description: "List the commands the execution policy allows.",
	}, h.allowedHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
