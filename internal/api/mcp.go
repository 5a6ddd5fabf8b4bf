package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/personabot/pbot/internal/worker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory ProfileMemory
	Jobs   worker.Enqueuer
	Recent JobLister
	// DefaultChatID is used by send_message when no chat_id is given.
	DefaultChatID string
}

// NewMCPServer creates an MCP server with the pbot tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pbot: persona chat bot. Inspect profile memory, update system prompts and queue Telegram messages."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Queue a Telegram message. It is delivered by the running pbot server."),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("chat_id", mcp.Description("Target chat id (defaults to the configured quote chat)")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile_state",
			mcp.WithDescription("Return a profile's rolling summary, history length, emotional state and prompt presence."),
			mcp.WithString("name", mcp.Description("Profile name (defaults to the active profile)")),
		),
		mcpGetProfileState(deps),
	)

	s.AddTool(
		mcp.NewTool("set_system_prompt",
			mcp.WithDescription("Replace a profile's system prompt template. {{context}}, {{profile}} and {{owner}} are substituted at generation time."),
			mcp.WithString("name", mcp.Description("Profile name"), mcp.Required()),
			mcp.WithString("prompt", mcp.Description("Prompt template"), mcp.Required()),
		),
		mcpSetSystemPrompt(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pbot://jobs/recent",
			"Recent Jobs",
			mcp.WithResourceDescription("Last 20 background jobs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentJobs(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		chatID := req.GetString("chat_id", deps.DefaultChatID)
		if chatID == "" {
			return mcpError("chat_id is required: no default chat is configured"), nil
		}

		id, err := worker.Enqueue(ctx, deps.Jobs, worker.TypeOutboundMessage, worker.OutboundPayload{ChatID: chatID, Text: text})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue message: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued message %s for chat %s", id, chatID)), nil
	}
}

func mcpGetProfileState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := loadProfileState(ctx, deps.Memory, req.GetString("name", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		if st.Name == "" {
			return mcpError("no active profile"), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSystemPrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil || name == "" {
			return mcpError("name is required"), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil || strings.TrimSpace(prompt) == "" {
			return mcpError("prompt is required"), nil
		}

		if err := deps.Memory.SetSystemPrompt(ctx, name, strings.TrimSpace(prompt)); err != nil {
			return mcpError(fmt.Sprintf("failed to store prompt: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated system prompt for %s", name)), nil
	}
}

func mcpResourceRecentJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Recent.RecentJobs(ctx, 20)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		b, err := json.Marshal(jobViews(jobs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
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
