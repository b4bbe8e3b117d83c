// Package mcp exposes issue search, advice drafting, the pending-advice
// ledger and reindexing as MCP tools over stdio.
//
// Tools are registered with the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and call the service registry directly.
package mcp
