// Package mcptools exposes ZendFi session keys, payments, and autonomy as
// MCP tools so LLM agents can drive them over stdio.
package mcptools

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/zendfi/zendfi-go/pkg/zendfi"
)

// NewMCPServer creates a configured MCP server with all ZendFi tools registered.
func NewMCPServer(client *zendfi.Client) *server.MCPServer {
	s := server.NewMCPServer("zendfi", "1.0.0")
	h := NewHandlers(client)

	s.AddTool(ToolCreateSessionKey, h.HandleCreateSessionKey)
	s.AddTool(ToolGetSessionKeyStatus, h.HandleGetSessionKeyStatus)
	s.AddTool(ToolMakePayment, h.HandleMakePayment)
	s.AddTool(ToolEnableAutonomy, h.HandleEnableAutonomy)
	s.AddTool(ToolRevokeAutonomy, h.HandleRevokeAutonomy)
	s.AddTool(ToolVerifyAttestations, h.HandleVerifyAttestations)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolSearchMarketplace, h.HandleSearchMarketplace)

	return s
}
