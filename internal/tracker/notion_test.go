package tracker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/tracker"
)

type notionAPIMock struct {
	server   *httptest.Server
	requests []map[string]any
	headers  []http.Header
	status   int
	response map[string]any
}

func newNotionAPIMock() *notionAPIMock {
	return &notionAPIMock{
		status: http.StatusOK,
		response: map[string]any{
			"id":           "page-1",
			"url":          "https://notion.so/page-1",
			"created_time": "2026-02-01T10:00:00Z",
		},
	}
}

func (m *notionAPIMock) start() {
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		m.requests = append(m.requests, body)
		m.headers = append(m.headers, r.Header.Clone())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.status)
		json.NewEncoder(w).Encode(m.response)
	}))
}

func (m *notionAPIMock) close() {
	m.server.Close()
}

func outputConfig(cfg tracker.NotionOutputConfig) json.RawMessage {
	data, _ := json.Marshal(cfg)
	return data
}

var _ = Describe("Notion", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("creates a page and returns id and url", func() {
		mock := newNotionAPIMock()
		mock.start()
		defer mock.close()

		n := tracker.NewNotion("secret-token", tracker.WithBaseURL(mock.server.URL))

		created, err := n.CreateTask(ctx, tracker.Request{
			Task:   analyzer.Task{Title: "Fix login 500", Description: "Session middleware bug", Priority: "high", Domain: "backend"},
			Config: outputConfig(tracker.NotionOutputConfig{DatabaseID: "db-1"}),
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).To(Equal("page-1"))
		Expect(created.URL).To(Equal("https://notion.so/page-1"))
		Expect(mock.requests).To(HaveLen(1))

		Expect(mock.headers[0].Get("Authorization")).To(Equal("Bearer secret-token"))
		Expect(mock.headers[0].Get("Notion-Version")).NotTo(BeEmpty())

		parent := mock.requests[0]["parent"].(map[string]any)
		Expect(parent["database_id"]).To(Equal("db-1"))
	})

	It("maps configured property names", func() {
		mock := newNotionAPIMock()
		mock.start()
		defer mock.close()

		n := tracker.NewNotion("t", tracker.WithBaseURL(mock.server.URL))

		_, err := n.CreateTask(ctx, tracker.Request{
			Task: analyzer.Task{
				Title:     "Fix login 500",
				Priority:  "high",
				Domain:    "backend",
				Assignees: []string{"Jane Doe", "Nobody Known"},
			},
			SourceURL:   "https://chat.example.com/t/1",
			IdentityMap: map[string]string{"Jane Doe": "notion-user-1"},
			Config: outputConfig(tracker.NotionOutputConfig{
				DatabaseID:       "db-1",
				TitleProperty:    "Task",
				StatusProperty:   "Status",
				PriorityProperty: "Priority",
				DomainProperty:   "Area",
				AssigneeProperty: "Owner",
				SourceProperty:   "Thread",
			}),
		})

		Expect(err).NotTo(HaveOccurred())
		props := mock.requests[0]["properties"].(map[string]any)
		Expect(props).To(HaveKey("Task"))
		Expect(props).To(HaveKey("Status"))
		Expect(props).To(HaveKey("Priority"))
		Expect(props).To(HaveKey("Area"))
		Expect(props).To(HaveKey("Owner"))
		Expect(props).To(HaveKey("Thread"))

		owner := props["Owner"].(map[string]any)
		people := owner["people"].([]any)
		Expect(people).To(HaveLen(1))
		Expect(people[0].(map[string]any)["id"]).To(Equal("notion-user-1"))
	})

	It("includes summary and source link in the page body", func() {
		mock := newNotionAPIMock()
		mock.start()
		defer mock.close()

		n := tracker.NewNotion("t", tracker.WithBaseURL(mock.server.URL))

		_, err := n.CreateTask(ctx, tracker.Request{
			Task:      analyzer.Task{Title: "Fix login 500", Description: "details"},
			Summary:   "What the thread decided.",
			SourceURL: "https://chat.example.com/t/1",
			Config:    outputConfig(tracker.NotionOutputConfig{DatabaseID: "db-1"}),
		})

		Expect(err).NotTo(HaveOccurred())
		children := mock.requests[0]["children"].([]any)
		Expect(len(children)).To(BeNumerically(">=", 3))
	})

	It("surfaces the API error message", func() {
		mock := newNotionAPIMock()
		mock.status = http.StatusBadRequest
		mock.response = map[string]any{
			"status":  400,
			"code":    "validation_error",
			"message": "Priority is not a property that exists",
		}
		mock.start()
		defer mock.close()

		n := tracker.NewNotion("t", tracker.WithBaseURL(mock.server.URL))

		_, err := n.CreateTask(ctx, tracker.Request{
			Task:   analyzer.Task{Title: "x"},
			Config: outputConfig(tracker.NotionOutputConfig{DatabaseID: "db-1"}),
		})

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("validation_error"))
		Expect(err.Error()).To(ContainSubstring("Priority is not a property that exists"))
	})

	It("rejects a config without a database id", func() {
		n := tracker.NewNotion("t")

		_, err := n.CreateTask(ctx, tracker.Request{
			Task:   analyzer.Task{Title: "x"},
			Config: outputConfig(tracker.NotionOutputConfig{}),
		})

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("database_id"))
	})
})
