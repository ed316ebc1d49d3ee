package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askgopher/askgopher/internal/pipeline"
	"github.com/askgopher/askgopher/internal/storage"
)

type mockAsker struct {
	askFn   func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	cleared []string
}

func (m *mockAsker) Ask(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	if m.askFn != nil {
		return m.askFn(ctx, req)
	}
	return pipeline.Result{Answer: "hello", Parts: []string{"hello"}}, nil
}

func (m *mockAsker) ClearConversation(userID, channelID, threadID string) {
	m.cleared = append(m.cleared, userID+"/"+channelID+"/"+threadID)
}

func (m *mockAsker) QuotaStatus(userID string) (int, int, int, bool) {
	return 2, 5, 3, false
}

type mockStore struct {
	rateFn  func(id string, rating int, notes string) error
	getFn   func(id string) (storage.Feedback, error)
	docs    []storage.KnowledgeDoc
	jobs    []storage.Job
	deleted []string
	saveErr error
}

func (m *mockStore) RateFeedback(id string, rating int, notes string) error {
	if m.rateFn != nil {
		return m.rateFn(id, rating, notes)
	}
	return nil
}

func (m *mockStore) GetFeedback(id string) (storage.Feedback, error) {
	if m.getFn != nil {
		return m.getFn(id)
	}
	return storage.Feedback{ID: id}, nil
}

func (m *mockStore) DeleteKnowledgeDoc(id string) error {
	for _, d := range m.docs {
		if d.ID == id {
			m.deleted = append(m.deleted, id)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockStore) SaveKnowledgeDoc(doc storage.KnowledgeDoc) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs = append(m.docs, doc)
	return nil
}

func (m *mockStore) EnqueueJob(job storage.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

type mockRefresher struct {
	refreshFn func(ctx context.Context) error
	calls     int
	reloads   int
}

func (m *mockRefresher) RefreshAll(ctx context.Context) error {
	m.calls++
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

func (m *mockRefresher) Reload() error {
	m.reloads++
	return nil
}

func testHandler(asker *mockAsker, store *mockStore, refresher *mockRefresher, token string) http.Handler {
	return NewHandler(Deps{
		Asker:     asker,
		Store:     store,
		Refresher: refresher,
		Token:     token,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "secret")

	w := postJSON(t, h, "/v1/questions", QuestionRequest{UserID: "u1", Question: "hi"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	var body map[string]map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"]["type"] != "authentication_error" {
		t.Errorf("error type = %q", body["error"]["type"])
	}
}

func TestBearerAuthAcceptsToken(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "secret")

	b, _ := json.Marshal(QuestionRequest{UserID: "u1", Question: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/questions", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestQuestionSuccess(t *testing.T) {
	asker := &mockAsker{askFn: func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
		if req.UserID != "u1" || req.Question != "how do I deploy?" {
			t.Errorf("unexpected request: %+v", req)
		}
		return pipeline.Result{
			FeedbackID: "fb-1",
			Answer:     "like this",
			Parts:      []string{"like this"},
			Remaining:  4,
		}, nil
	}}
	h := testHandler(asker, &mockStore{}, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/questions", QuestionRequest{
		UserID:    "u1",
		ChannelID: "c1",
		Question:  "how do I deploy?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var res QuestionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Answer != "like this" || res.FeedbackID != "fb-1" || res.Remaining != 4 {
		t.Errorf("response = %+v", res)
	}
}

func TestQuestionErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"malformed", pipeline.ErrMalformedInput, http.StatusBadRequest, "invalid_request_error"},
		{"quota", pipeline.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
		{"upstream", pipeline.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			asker := &mockAsker{askFn: func(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
				return pipeline.Result{}, tc.err
			}}
			h := testHandler(asker, &mockStore{}, &mockRefresher{}, "")

			w := postJSON(t, h, "/v1/questions", QuestionRequest{UserID: "u1", Question: "q"})
			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tc.wantCode)
			}
			var body map[string]map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"]["type"] != tc.wantType {
				t.Errorf("error type = %q, want %q", body["error"]["type"], tc.wantType)
			}
		})
	}
}

func TestQuestionRequiresUserID(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/questions", QuestionRequest{Question: "q"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFeedbackRating(t *testing.T) {
	var gotID string
	var gotRating int
	store := &mockStore{rateFn: func(id string, rating int, notes string) error {
		gotID, gotRating = id, rating
		return nil
	}}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/feedback/fb-1", FeedbackRequest{Rating: 4, Notes: "good"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gotID != "fb-1" || gotRating != 4 {
		t.Errorf("rated %s/%d, want fb-1/4", gotID, gotRating)
	}
}

func TestFeedbackNotFound(t *testing.T) {
	store := &mockStore{rateFn: func(id string, rating int, notes string) error {
		return storage.ErrNotFound
	}}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/feedback/missing", FeedbackRequest{Rating: 3})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestFeedbackRejectsOutOfRangeRating(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	for _, rating := range []int{0, 6, -1} {
		w := postJSON(t, h, "/v1/feedback/fb-1", FeedbackRequest{Rating: rating})
		if w.Code != http.StatusBadRequest {
			t.Errorf("rating %d: status = %d, want 400", rating, w.Code)
		}
	}
}

func TestClearConversation(t *testing.T) {
	asker := &mockAsker{}
	h := testHandler(asker, &mockStore{}, &mockRefresher{}, "")

	b, _ := json.Marshal(ClearRequest{UserID: "u1", ChannelID: "c1", ThreadID: "t1"})
	req := httptest.NewRequest(http.MethodDelete, "/v1/conversations", bytes.NewReader(b))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(asker.cleared) != 1 || asker.cleared[0] != "u1/c1/t1" {
		t.Errorf("cleared = %v", asker.cleared)
	}
}

func TestQuotaStatus(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/quota?user_id=u1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res QuotaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Used != 2 || res.Limit != 5 || res.Remaining != 3 || res.Unlimited {
		t.Errorf("response = %+v", res)
	}
}

func TestQuotaRequiresUserID(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/quota", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	refresher := &mockRefresher{}
	h := testHandler(&mockAsker{}, &mockStore{}, refresher, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/refresh", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if refresher.calls != 1 {
		t.Errorf("RefreshAll called %d times, want 1", refresher.calls)
	}
}

func TestAddDocumentEnqueuesEmbedJob(t *testing.T) {
	store := &mockStore{}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/documents", DocumentRequest{
		Title:   "Deploy guide",
		Source:  "wiki",
		Content: "Run the deploy script from the release branch.",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if len(store.docs) != 1 {
		t.Fatalf("saved %d docs, want 1", len(store.docs))
	}
	if store.docs[0].Title != "Deploy guide" || store.docs[0].Source != "wiki" {
		t.Errorf("doc = %+v", store.docs[0])
	}
	if len(store.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(store.jobs))
	}
	if store.jobs[0].Type != "knowledge_embed" {
		t.Errorf("job type = %q", store.jobs[0].Type)
	}
	if !strings.Contains(store.jobs[0].PayloadJSON, store.docs[0].ID) {
		t.Errorf("payload %q missing doc id %q", store.jobs[0].PayloadJSON, store.docs[0].ID)
	}
}

func TestAddDocumentExtractsHTML(t *testing.T) {
	store := &mockStore{}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/documents", DocumentRequest{
		Title:   "FAQ",
		Content: "<html><body><p>Restart the daemon.</p><script>ignored()</script></body></html>",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(store.docs) != 1 {
		t.Fatalf("saved %d docs, want 1", len(store.docs))
	}
	content := store.docs[0].Content
	if !strings.Contains(content, "Restart the daemon.") {
		t.Errorf("content = %q, want extracted text", content)
	}
	if strings.Contains(content, "ignored()") {
		t.Errorf("content %q includes script body", content)
	}
}

func TestAddDocumentRejectsBadBase64(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/documents", DocumentRequest{
		Title:    "bad",
		Content:  "not-base64!!!",
		Encoding: "base64",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAddDocumentRequiresTitleAndContent(t *testing.T) {
	h := testHandler(&mockAsker{}, &mockStore{}, &mockRefresher{}, "")

	w := postJSON(t, h, "/v1/documents", DocumentRequest{Title: "only title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetFeedback(t *testing.T) {
	store := &mockStore{getFn: func(id string) (storage.Feedback, error) {
		return storage.Feedback{ID: id, Question: "q", Answer: "a", Rating: 5}, nil
	}}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/feedback/fb-1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var fb storage.Feedback
	if err := json.Unmarshal(w.Body.Bytes(), &fb); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if fb.ID != "fb-1" || fb.Rating != 5 {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestGetFeedbackNotFound(t *testing.T) {
	store := &mockStore{getFn: func(id string) (storage.Feedback, error) {
		return storage.Feedback{}, storage.ErrNotFound
	}}
	h := testHandler(&mockAsker{}, store, &mockRefresher{}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/feedback/missing", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteDocumentReloadsIndex(t *testing.T) {
	store := &mockStore{docs: []storage.KnowledgeDoc{{ID: "d1"}}}
	refresher := &mockRefresher{}
	h := testHandler(&mockAsker{}, store, refresher, "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/d1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "d1" {
		t.Errorf("deleted = %v", store.deleted)
	}
	if refresher.reloads != 1 {
		t.Errorf("Reload called %d times, want 1", refresher.reloads)
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	refresher := &mockRefresher{}
	h := testHandler(&mockAsker{}, &mockStore{}, refresher, "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/missing", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if refresher.reloads != 0 {
		t.Errorf("Reload called on failed delete")
	}
}
