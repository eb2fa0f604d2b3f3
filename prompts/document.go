package prompts

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func RegisterDocumentPrompts(s *server.MCPServer) {
	prompt := mcp.Prompt{
		Name:        "document_review",
		Description: "Review a processed document using its element graph",
		Arguments: []mcp.PromptArgument{
			{Name: "document_id", Description: "ID of the document to review", Required: true},
			{Name: "focus", Description: "What the review should concentrate on"},
		},
	}
	s.AddPrompt(prompt, documentReviewHandler)
}

func documentReviewHandler(arguments map[string]string) (*mcp.GetPromptResult, error) {
	documentID := arguments["document_id"]
	if documentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}
	focus := arguments["focus"]
	if focus == "" {
		focus = "its key findings and how the sections relate"
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review of document %s", documentID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Use get_document to read the summary of document %s, then element_context and search_chunks to check the elements behind it. Review the document with a focus on %s, citing element ids.", documentID, focus),
				},
			},
		},
	}, nil
}
