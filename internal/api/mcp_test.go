package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/askgopher/askgopher/internal/pipeline"
	"github.com/askgopher/askgopher/internal/storage"
)

type mockMCPStore struct {
	mu      sync.Mutex
	docs    []storage.KnowledgeDoc
	jobs    []storage.Job
	saveErr error
	listErr error
}

func (m *mockMCPStore) SaveKnowledgeDoc(doc storage.KnowledgeDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs = append(m.docs, doc)
	return nil
}

func (m *mockMCPStore) EnqueueJob(job storage.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockMCPStore) ListKnowledgeDocs() ([]storage.KnowledgeDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]storage.KnowledgeDoc(nil), m.docs...), nil
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_Ask(t *testing.T) {
	asker := &mockAsker{askFn: func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		if req.UserID != "u1" || req.ChannelID != "c1" {
			t.Errorf("unexpected request: %+v", req)
		}
		return pipeline.Result{Answer: "use go modules"}, nil
	}}
	handler := mcpAsk(MCPDeps{Asker: asker, Store: &mockMCPStore{}})

	req := makeCallToolRequest("ask", map[string]interface{}{
		"user_id":    "u1",
		"channel_id": "c1",
		"question":   "how do I manage dependencies?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "use go modules" {
		t.Fatalf("answer = %q", got)
	}
}

func TestMCPTool_AskRequiresUserID(t *testing.T) {
	handler := mcpAsk(MCPDeps{Asker: &mockAsker{}, Store: &mockMCPStore{}})

	req := makeCallToolRequest("ask", map[string]interface{}{
		"question": "q",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result without user_id")
	}
}

func TestMCPTool_AskPipelineError(t *testing.T) {
	asker := &mockAsker{askFn: func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		return pipeline.Result{}, pipeline.ErrQuotaExceeded
	}}
	handler := mcpAsk(MCPDeps{Asker: asker, Store: &mockMCPStore{}})

	req := makeCallToolRequest("ask", map[string]interface{}{
		"user_id":  "u1",
		"question": "q",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when pipeline fails")
	}
}

func TestMCPTool_ClearHistory(t *testing.T) {
	asker := &mockAsker{}
	handler := mcpClearHistory(MCPDeps{Asker: asker, Store: &mockMCPStore{}})

	req := makeCallToolRequest("clear_history", map[string]interface{}{
		"user_id":    "u1",
		"channel_id": "c1",
		"thread_id":  "t1",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if len(asker.cleared) != 1 || asker.cleared[0] != "u1/c1/t1" {
		t.Fatalf("cleared = %v", asker.cleared)
	}
}

func TestMCPTool_RemainingQuota(t *testing.T) {
	handler := mcpRemainingQuota(MCPDeps{Asker: &mockAsker{}, Store: &mockMCPStore{}})

	req := makeCallToolRequest("remaining_quota", map[string]interface{}{
		"user_id": "u1",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := toolText(t, result)
	if text != "2 of 5 questions used today, 3 remaining." {
		t.Fatalf("unexpected text: %s", text)
	}
}

func TestMCPTool_AddDocument(t *testing.T) {
	store := &mockMCPStore{}
	handler := mcpAddDocument(MCPDeps{Asker: &mockAsker{}, Store: store})

	req := makeCallToolRequest("add_document", map[string]interface{}{
		"title":   "Runbook",
		"content": "Restart via systemctl.",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	if len(store.docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(store.docs))
	}
	if store.docs[0].Source != "mcp" {
		t.Fatalf("expected source 'mcp', got %s", store.docs[0].Source)
	}
	if len(store.jobs) != 1 || store.jobs[0].Type != "knowledge_embed" {
		t.Fatalf("jobs = %+v", store.jobs)
	}
}

func TestMCPTool_AddDocumentSaveError(t *testing.T) {
	store := &mockMCPStore{saveErr: errors.New("disk full")}
	handler := mcpAddDocument(MCPDeps{Asker: &mockAsker{}, Store: store})

	req := makeCallToolRequest("add_document", map[string]interface{}{
		"title":   "x",
		"content": "y",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result on save failure")
	}
}

func TestMCPResource_Documents(t *testing.T) {
	store := &mockMCPStore{docs: []storage.KnowledgeDoc{
		{ID: "d1", Title: "Guide", Source: "wiki", Content: "short", CreatedAt: time.Now().UTC()},
	}}
	handler := mcpResourceDocuments(MCPDeps{Asker: &mockAsker{}, Store: store})

	contents, err := handler(context.Background(), makeReadResourceRequest("knowledge://documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["title"] != "Guide" {
		t.Fatalf("summaries = %v", summaries)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	store := &mockMCPStore{}
	deps := MCPDeps{Asker: &mockAsker{}, Store: store}
	addHandler := mcpAddDocument(deps)
	askHandler := mcpAsk(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("add_document", map[string]interface{}{
				"title":   "t",
				"content": "concurrent content",
			})
			if _, err := addHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("ask", map[string]interface{}{
				"user_id":  "u1",
				"question": "q",
			})
			if _, err := askHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
