package util

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ErrorGuard turns handler errors and panics into tool error results so a
// misbehaving tool never takes the server down.
func ErrorGuard(handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(arguments map[string]interface{}) (result *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = mcp.NewToolResultError(fmt.Sprintf("Panic: %v", r))
				err = nil
			}
		}()

		result, err = handler(arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
		}
		return result, nil
	}
}
