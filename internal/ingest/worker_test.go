package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/askgopher/askgopher/internal/retrieval"
	"github.com/askgopher/askgopher/internal/storage"
)

type mockJobStore struct {
	*fakeDocStore
	jobs      []*storage.Job
	completed []string
	failed    map[string]string
	feedback  []storage.Feedback
	saveErr   error
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		fakeDocStore: newFakeDocStore(),
		failed:       make(map[string]string),
	}
}

func (m *mockJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	if len(m.jobs) == 0 {
		return nil, nil
	}
	j := m.jobs[0]
	m.jobs = m.jobs[1:]
	j.Status = "running"
	return j, nil
}

func (m *mockJobStore) CompleteJob(id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockJobStore) FailJob(id, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

func (m *mockJobStore) SaveFeedback(f storage.Feedback) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.feedback = append(m.feedback, f)
	return nil
}

func (m *mockJobStore) GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error) {
	if d, ok := m.docs[id]; ok {
		return d, nil
	}
	return storage.KnowledgeDoc{}, storage.ErrNotFound
}

func testWorker(store *mockJobStore, embedder BatchEmbedder) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	refresher := NewRefresher(store.fakeDocStore, embedder, retrieval.NewIndex(), 100, logger)
	return NewWorker(store, refresher, time.Millisecond, logger)
}

func feedbackJob(t *testing.T, id string) *storage.Job {
	t.Helper()
	payload, err := json.Marshal(FeedbackPayload{
		ID: id, UserID: "u1", Question: "q", Answer: "a", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &storage.Job{ID: "job-" + id, Type: JobFeedbackPersist, PayloadJSON: string(payload), Status: "pending"}
}

func TestRunOnceIdleQueue(t *testing.T) {
	w := testWorker(newMockJobStore(), &fakeBatchEmbedder{})
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce reported work on an empty queue")
	}
}

func TestRunOncePersistsFeedback(t *testing.T) {
	store := newMockJobStore()
	store.jobs = append(store.jobs, feedbackJob(t, "fb-1"))
	w := testWorker(store, &fakeBatchEmbedder{})

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no work")
	}
	if len(store.feedback) != 1 || store.feedback[0].ID != "fb-1" {
		t.Errorf("feedback = %+v", store.feedback)
	}
	if len(store.completed) != 1 {
		t.Errorf("completed = %v, want one job", store.completed)
	}
}

func TestRunOnceFailsJobOnPersistError(t *testing.T) {
	store := newMockJobStore()
	store.saveErr = errors.New("disk full")
	store.jobs = append(store.jobs, feedbackJob(t, "fb-1"))
	w := testWorker(store, &fakeBatchEmbedder{})

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce found no work")
	}
	if len(store.completed) != 0 {
		t.Error("failing job marked completed")
	}
	if msg := store.failed["job-fb-1"]; msg == "" {
		t.Error("job not marked failed")
	}
}

func TestRunOnceEmbedsDocument(t *testing.T) {
	store := newMockJobStore()
	store.docs["d1"] = storage.KnowledgeDoc{ID: "d1", Title: "guide", Content: "some document text"}
	payload, _ := json.Marshal(EmbedPayload{DocID: "d1"})
	store.jobs = append(store.jobs, &storage.Job{
		ID: "job-1", Type: JobKnowledgeEmbed, PayloadJSON: string(payload), Status: "pending",
	})
	w := testWorker(store, &fakeBatchEmbedder{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.chunks["d1"]) == 0 {
		t.Error("document not chunked and embedded")
	}
	if len(store.completed) != 1 {
		t.Errorf("completed = %v", store.completed)
	}
}

func TestRunOnceUnknownJobType(t *testing.T) {
	store := newMockJobStore()
	store.jobs = append(store.jobs, &storage.Job{ID: "job-1", Type: "mystery", PayloadJSON: "{}"})
	w := testWorker(store, &fakeBatchEmbedder{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.failed["job-1"] == "" {
		t.Error("unknown job type not failed")
	}
}
