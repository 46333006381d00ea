package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type allowedParams struct{}

func (h *handler) allowedHandler(ctx context.Context, req *mcp.CallToolRequest, _ allowedParams) (*mcp.CallToolResult, any, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Base directory: %s\n", h.policy.BaseDir())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Allowed commands:")
	for _, name := range h.policy.Allowed() {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return textResult(b.String())
}
