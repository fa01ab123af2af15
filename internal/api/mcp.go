package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askdoc/internal/conversation"
	"github.com/kalambet/askdoc/internal/source"
)

// FetchFunc resolves a file path or URL to document text.
type FetchFunc func(ctx context.Context, ref string) (source.Text, error)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Conversation Conversation
	Fetch        FetchFunc // optional; if nil, load_document accepts only inline content
	Version      string
}

// NewMCPServer creates an MCP server with the askdoc tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"askdoc",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askdoc answers questions about one loaded document. Load it with load_document, then call ask."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("load_document",
			mcp.WithDescription("Replace the current document. The previous document and chat history are discarded."),
			mcp.WithString("content", mcp.Description("Inline document text")),
			mcp.WithString("source", mcp.Description("File path or http(s) URL to load instead of content")),
			mcp.WithString("title", mcp.Description("Optional document title")),
		),
		mcpLoadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the loaded document. Earlier turns are kept as context."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_chat",
			mcp.WithDescription("Clear the chat history and keep the loaded document."),
		),
		mcpResetChat(deps),
	)

	s.AddTool(
		mcp.NewTool("status",
			mcp.WithDescription("Report whether a document is loaded and ready."),
		),
		mcpStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"askdoc://history",
			"Chat History",
			mcp.WithResourceDescription("Messages exchanged about the current document"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpLoadDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content := req.GetString("content", "")
		ref := strings.TrimSpace(req.GetString("source", ""))
		title := req.GetString("title", "")

		if strings.TrimSpace(content) == "" {
			if ref == "" {
				return mcpError("one of content or source is required"), nil
			}
			if deps.Fetch == nil {
				return mcpError("loading from a source is not available"), nil
			}
			text, err := deps.Fetch(ctx, ref)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to read %s: %v", ref, err)), nil
			}
			content = text.Content
			ref = text.Source
			if title == "" {
				title = text.Title
			}
		}

		st, err := deps.Conversation.LoadDocument(ctx, conversation.Document{
			Version: uuid.NewString(),
			Title:   title,
			Source:  ref,
			Text:    content,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load document: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Document loaded: %d chunks indexed.", st.Chunks)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		answer, err := deps.Conversation.Ask(ctx, query)
		if errors.Is(err, conversation.ErrNotReady) {
			return mcpError("no document is ready; call load_document first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpResetChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Conversation.Reset(ctx)
		return mcpText("Chat history cleared."), nil
	}
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Conversation.Status())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(historyOf(deps.Conversation))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
