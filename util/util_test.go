package util

import (
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"padded", "\n  {\"a\": 1}  \n", `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n[1, 2]\n```", `[1, 2]`},
		{"single line fence", "```json {\"a\": 1}```", `{"a": 1}`},
		{"fence without closing", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestErrorGuard(t *testing.T) {
	ok := ErrorGuard(func(map[string]interface{}) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("fine"), nil
	})
	res, err := ok(nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)

	failing := ErrorGuard(func(map[string]interface{}) (*mcp.CallToolResult, error) {
		return nil, errors.New("bad input")
	})
	res, err = failing(nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	panicking := ErrorGuard(func(args map[string]interface{}) (*mcp.CallToolResult, error) {
		_ = args["missing"].(string)
		return nil, nil
	})
	res, err = panicking(map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
