package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/askgopher/askgopher/internal/ingest"
	"github.com/askgopher/askgopher/internal/pipeline"
	"github.com/askgopher/askgopher/internal/storage"
)

// MCPStore is the slice of storage the MCP layer needs.
type MCPStore interface {
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	EnqueueJob(job storage.Job) error
	ListKnowledgeDocs() ([]storage.KnowledgeDoc, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Asker Asker
	Store MCPStore
}

// NewMCPServer creates an MCP server exposing the assistant over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"askgopher",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askgopher — team knowledge assistant with quota-limited Q&A over a curated document base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the knowledge assistant a question. Answers use documentation context and conversation history."),
			mcp.WithString("user_id", mcp.Description("Identifier of the asking user"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("channel_id", mcp.Description("Channel the conversation belongs to")),
			mcp.WithString("thread_id", mcp.Description("Thread within the channel")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Forget the stored conversation history for a user's thread."),
			mcp.WithString("user_id", mcp.Description("Identifier of the user"), mcp.Required()),
			mcp.WithString("channel_id", mcp.Description("Channel the conversation belongs to")),
			mcp.WithString("thread_id", mcp.Description("Thread within the channel")),
		),
		mcpClearHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("remaining_quota",
			mcp.WithDescription("Report how many questions a user may still ask today."),
			mcp.WithString("user_id", mcp.Description("Identifier of the user"), mcp.Required()),
		),
		mcpRemainingQuota(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a document in the knowledge base. Embedding happens asynchronously."),
			mcp.WithString("title", mcp.Description("Document title"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Plain text content"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Where the document came from")),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"knowledge://documents",
			"Knowledge Documents",
			mcp.WithResourceDescription("Stored knowledge base documents (titles and sources)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := deps.Asker.Ask(ctx, pipeline.Request{
			UserID:    userID,
			ChannelID: req.GetString("channel_id", ""),
			ThreadID:  req.GetString("thread_id", ""),
			Question:  question,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpText(res.Answer), nil
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		deps.Asker.ClearConversation(userID, req.GetString("channel_id", ""), req.GetString("thread_id", ""))
		return mcpText("Conversation history cleared."), nil
	}
}

func mcpRemainingQuota(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		used, limit, remaining, unlimited := deps.Asker.QuotaStatus(userID)
		if unlimited {
			return mcpText("No daily limit applies to this user."), nil
		}
		return mcpText(fmt.Sprintf("%d of %d questions used today, %d remaining.", used, limit, remaining)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		doc := storage.KnowledgeDoc{
			ID:        uuid.New().String(),
			Title:     title,
			Content:   content,
			Source:    req.GetString("source", "mcp"),
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveKnowledgeDoc(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		payload, err := json.Marshal(ingest.EmbedPayload{DocID: doc.ID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal embed payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobKnowledgeEmbed,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("saved doc but failed to queue embedding: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored document %s", doc.ID)), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListKnowledgeDocs()
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type docSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Source    string `json:"source,omitempty"`
			CreatedAt string `json:"created_at"`
			Preview   string `json:"preview"`
		}

		summaries := make([]docSummary, len(docs))
		for i, d := range docs {
			preview := d.Content
			if utf8.RuneCountInString(preview) > 200 {
				runes := []rune(preview)
				preview = string(runes[:200]) + "..."
			}
			summaries[i] = docSummary{
				ID:        d.ID,
				Title:     d.Title,
				Source:    d.Source,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
				Preview:   preview,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
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
