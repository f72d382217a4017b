package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/processor/common/id"
	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/mention"
	"threadline.app/processor/internal/model"
	"threadline.app/processor/internal/processor"
	"threadline.app/processor/internal/service"
	"threadline.app/processor/internal/source"
	"threadline.app/processor/internal/tracker"
)

var initOnce sync.Once

var _ = BeforeSuite(func() {
	initOnce.Do(func() {
		Expect(id.Init(99)).To(Succeed())
	})
})

func outputCfg(databaseID string) json.RawMessage {
	return json.RawMessage(`{"database_id":"` + databaseID + `"}`)
}

var _ = Describe("Processor", func() {
	var (
		ctx         context.Context
		discussions *fakeDiscussionStore
		jobs        *fakeJobStore
		tasks       *fakeTaskStore
		mappings    *fakeUserMappingStore
		resolver    *fakeConfigResolver
		adapter     *fakeAdapter
		analysis    *fakeAnalyzer
		creator     *fakeCreator
		proc        *processor.Processor
		parsed      *domain.ParsedDiscussion
		thread      *domain.Thread
	)

	BeforeEach(func() {
		ctx = context.Background()
		discussions = newFakeDiscussionStore()
		jobs = newFakeJobStore()
		tasks = &fakeTaskStore{}
		mappings = &fakeUserMappingStore{}

		resolver = &fakeConfigResolver{cfg: &service.ResolvedConfig{
			Flow: &model.Flow{
				ID:               10,
				TeamID:           7,
				Active:           true,
				AIEnabled:        true,
				AvailableDomains: []string{"backend", "frontend"},
			},
			Outputs: []model.FlowOutput{
				{ID: 100, FlowID: 10, Config: outputCfg("db-1")},
			},
			TeamID:       7,
			TrackerToken: "notion-secret",
		}}

		thread = &domain.Thread{
			ID:          "C1:100.1",
			RootMessage: domain.Message{Content: "The deploy failed again", AuthorHandle: "jane", AuthorID: "U1"},
			Replies: []domain.Message{
				{Content: "I can fix it", AuthorHandle: "bob", AuthorID: "U2"},
			},
			Participants: []string{"U1", "U2"},
		}
		adapter = &fakeAdapter{sourceType: domain.SourceSlack, thread: thread}

		analysis = &fakeAnalyzer{analysis: &analyzer.Analysis{
			Summary: analyzer.Summary{
				Summary:   "Deploy is broken; Bob will fix it.",
				KeyPoints: []string{"deploy broken", "bob owns fix"},
			},
			TaskDetection: analyzer.TaskDetection{
				Tasks: []analyzer.Task{
					{Title: "Fix the deploy", Description: "details", Domain: "backend", Priority: "high"},
				},
			},
		}}

		creator = &fakeCreator{}

		proc = processor.New(processor.Config{
			TxRunner:     &fakeTxRunner{provider: &fakeStoreProvider{discussions: discussions, jobs: jobs, tasks: tasks, mappings: mappings}},
			Discussions:  discussions,
			Jobs:         jobs,
			Tasks:        tasks,
			UserMappings: mappings,
			Resolver:     resolver,
			Sources:      source.NewRegistry(adapter),
			Analyzer:     analysis,
			Trackers: func(token string) tracker.Creator {
				creator.token = token
				return creator
			},
			Bot: mention.BotIdentity{ID: "bot-1", Handle: "threadline"},
		})

		parsed = &domain.ParsedDiscussion{
			SourceType:     domain.SourceSlack,
			SourceThreadID: "C1:100.1",
			SourceURL:      "https://chat.example.com/C1/100.1",
			TeamID:         "W-42",
			AuthorHandle:   "jane",
			Title:          "Deploy failed",
			Content:        "The deploy failed again",
		}
	})

	It("processes a discussion end to end", func() {
		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cached).To(BeFalse())
		Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
		Expect(result.CreatedTaskIDs).To(Equal([]string{"page-1"}))
		Expect(result.TaskIDs).To(HaveLen(1))

		Expect(discussions.discussions).To(HaveLen(1))
		d, err := discussions.GetByID(ctx, result.DiscussionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(model.DiscussionStatusCompleted))
		Expect(d.TeamID).To(Equal(int64(7)))
		Expect(*d.Summary).To(ContainSubstring("Bob will fix"))
		Expect(d.NotionTaskIDs).To(Equal([]string{"page-1"}))
		Expect(d.ThreadData).NotTo(BeEmpty())

		j, err := jobs.GetByID(ctx, result.JobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Status).To(Equal(model.JobStatusCompleted))
		Expect(j.TaskIDs).To(Equal(result.TaskIDs))

		Expect(creator.token).To(Equal("notion-secret"))
		Expect(adapter.statusUpdates).To(Equal([]string{source.StatusProcessing, source.StatusCompleted}))
		Expect(adapter.replies).To(HaveLen(1))
		Expect(adapter.replies[0]).To(ContainSubstring("1 task created"))

		Expect(tasks.tasks).To(HaveLen(1))
		Expect(tasks.tasks[0].ExternalID).To(Equal("page-1"))
		Expect(tasks.tasks[0].SyncJobID).To(Equal(result.JobID))
	})

	It("returns a cached result for a duplicate delivery without creating tasks", func() {
		first, err := proc.Process(ctx, parsed, processor.Options{})
		Expect(err).NotTo(HaveOccurred())

		second, err := proc.Process(ctx, parsed, processor.Options{})
		Expect(err).NotTo(HaveOccurred())

		Expect(second.Cached).To(BeTrue())
		Expect(second.DiscussionID).To(Equal(first.DiscussionID))
		Expect(second.CreatedTaskIDs).To(Equal([]string{"page-1"}))
		Expect(discussions.discussions).To(HaveLen(1))
		Expect(creator.requests).To(HaveLen(1))
		Expect(analysis.callCount).To(Equal(1))
	})

	It("deletes a failed discussion and reprocesses fresh", func() {
		stale := &model.Discussion{
			ID:             1,
			TeamID:         7,
			SourceType:     "slack",
			SourceThreadID: parsed.SourceThreadID,
			Status:         model.DiscussionStatusFailed,
		}
		Expect(discussions.Create(ctx, stale)).To(Succeed())

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cached).To(BeFalse())
		Expect(result.DiscussionID).NotTo(Equal(int64(1)))
		Expect(discussions.deleted).To(Equal([]int64{1}))
		Expect(discussions.discussions).To(HaveLen(1))
	})

	It("fails validation before persisting anything", func() {
		parsed.Title = ""

		_, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).To(HaveOccurred())
		var pe *processor.ProcessingError
		Expect(errors.As(err, &pe)).To(BeTrue())
		Expect(pe.Stage).To(Equal(processor.StageValidation))
		Expect(pe.Retryable).To(BeFalse())
		Expect(discussions.discussions).To(BeEmpty())
		Expect(jobs.jobs).To(BeEmpty())
	})

	It("fails with a non-retryable flow_loading error when no configuration matches", func() {
		resolver.cfg = nil
		resolver.err = service.ErrNoConfig

		_, err := proc.Process(ctx, parsed, processor.Options{})

		var pe *processor.ProcessingError
		Expect(errors.As(err, &pe)).To(BeTrue())
		Expect(pe.Stage).To(Equal(processor.StageFlowLoading))
		Expect(pe.Retryable).To(BeFalse())
		Expect(discussions.discussions).To(BeEmpty())
	})

	It("skips analysis when the flow has AI disabled", func() {
		resolver.cfg.Flow.AIEnabled = false

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(analysis.callCount).To(Equal(0))
		Expect(creator.requests).To(HaveLen(1))
		Expect(creator.requests[0].Task.Title).To(Equal("Deploy failed"))
		Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
	})

	It("continues past a single output failure and completes with the rest", func() {
		resolver.cfg.Outputs = []model.FlowOutput{
			{ID: 100, Config: outputCfg("db-1")},
			{ID: 101, Config: outputCfg("db-2")},
			{ID: 102, Config: outputCfg("db-3")},
		}
		creator.failOn = map[int]error{2: errors.New("destination down")}

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
		Expect(creator.requests).To(HaveLen(3))
		Expect(result.CreatedTaskIDs).To(HaveLen(2))
		Expect(tasks.tasks).To(HaveLen(2))

		d, _ := discussions.GetByID(ctx, result.DiscussionID)
		Expect(d.Status).To(Equal(model.DiscussionStatusCompleted))
		Expect(d.NotionTaskIDs).To(HaveLen(2))
	})

	It("treats a task matching no outputs as a valid silent outcome", func() {
		resolver.cfg.Outputs = []model.FlowOutput{
			{ID: 100, DomainFilter: []string{"design"}, Config: outputCfg("db-1")},
		}

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
		Expect(creator.requests).To(BeEmpty())
		Expect(result.CreatedTaskIDs).To(BeEmpty())
	})

	It("marks discussion and job failed when analysis fails", func() {
		analysis.err = errors.New("provider down")
		analysis.analysis = nil

		_, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).To(HaveOccurred())
		var pe *processor.ProcessingError
		Expect(errors.As(err, &pe)).To(BeTrue())
		Expect(pe.Retryable).To(BeTrue())

		Expect(discussions.discussions).To(HaveLen(1))
		for _, d := range discussions.discussions {
			Expect(d.Status).To(Equal(model.DiscussionStatusFailed))
			Expect(d.Metadata["error"]).To(ContainSubstring("provider down"))
		}
		for _, j := range jobs.jobs {
			Expect(j.Status).To(Equal(model.JobStatusFailed))
			Expect(*j.Error).To(ContainSubstring("provider down"))
			Expect(j.ErrorStack).NotTo(BeNil())
		}
	})

	It("resolves mentions in the stored thread using active mappings", func() {
		mappings.mappings = []*model.UserMapping{{
			ID: 1, TeamID: 7, SourceType: "slack",
			SourceUserID: "bob", SourceUserName: "Bob Smith", Active: true,
		}}
		thread.Replies[0].Content = "ask @bob to review"

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		d, _ := discussions.GetByID(ctx, result.DiscussionID)

		var stored domain.Thread
		Expect(json.Unmarshal(d.ThreadData, &stored)).To(Succeed())
		Expect(stored.Replies[0].Content).To(Equal("ask @Bob Smith to review"))
	})

	Describe("bootstrap short-circuit", func() {
		BeforeEach(func() {
			parsed.Content = "User Sync: @alice @bob"
			thread.RootMessage.Content = "User Sync: @alice @bob"
		})

		It("harvests participants and creates no tasks", func() {
			result, err := proc.Process(ctx, parsed, processor.Options{})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Bootstrap).To(BeTrue())
			Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
			Expect(result.CreatedTaskIDs).To(BeEmpty())
			Expect(creator.requests).To(BeEmpty())
			Expect(analysis.callCount).To(Equal(0))

			// Handle-only platform: thread participants become discovered rows.
			Expect(mappings.mappings).To(HaveLen(2))
			for _, m := range mappings.mappings {
				Expect(m.MappingType).To(Equal(model.MappingTypeDiscovered))
				Expect(m.Active).To(BeFalse())
				Expect(m.NotionUserID).To(BeNil())
			}

			Expect(adapter.replies).To(HaveLen(1))
			Expect(adapter.replies[0]).To(ContainSubstring("sync complete"))
		})

		It("skips users already mapped for the workspace", func() {
			mappings.mappings = []*model.UserMapping{{
				ID: 1, TeamID: 7, SourceType: "slack", SourceUserID: "U1",
				SourceUserName: "Jane", Active: true,
			}}

			_, err := proc.Process(ctx, parsed, processor.Options{})

			Expect(err).NotTo(HaveOccurred())
			Expect(mappings.mappings).To(HaveLen(2)) // existing U1 + discovered U2
		})

		It("reprocesses a sync comment even when a completed row exists", func() {
			existing := &model.Discussion{
				ID:             5,
				SourceThreadID: parsed.SourceThreadID,
				Status:         model.DiscussionStatusCompleted,
			}
			Expect(discussions.Create(ctx, existing)).To(Succeed())

			result, err := proc.Process(ctx, parsed, processor.Options{})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Cached).To(BeFalse())
			Expect(result.Bootstrap).To(BeTrue())
			Expect(discussions.deleted).To(Equal([]int64{5}))
		})
	})

	It("fetches the thread from the adapter when none is injected", func() {
		adapter.thread = thread

		result, err := proc.Process(ctx, parsed, processor.Options{})

		Expect(err).NotTo(HaveOccurred())
		d, _ := discussions.GetByID(ctx, result.DiscussionID)
		Expect(d.Participants).To(Equal([]string{"U1", "U2"}))
	})

	It("accepts an injected thread without touching the adapter", func() {
		adapter.fetchErr = errors.New("must not be called")

		injected := &domain.Thread{
			ID:          parsed.SourceThreadID,
			RootMessage: domain.Message{Content: "injected", AuthorHandle: "jane"},
		}

		_, err := proc.Process(ctx, parsed, processor.Options{Thread: injected})

		Expect(err).NotTo(HaveOccurred())
	})

	Describe("RetryFailedDiscussion", func() {
		seedFailed := func(id int64) {
			Expect(discussions.Create(ctx, &model.Discussion{
				ID:             id,
				TeamID:         7,
				SourceType:     "slack",
				SourceThreadID: parsed.SourceThreadID,
				SourceURL:      parsed.SourceURL,
				Title:          parsed.Title,
				Content:        parsed.Content,
				AuthorHandle:   parsed.AuthorHandle,
				Status:         model.DiscussionStatusFailed,
				Metadata:       map[string]string{"workspace_id": "W-42"},
			})).To(Succeed())
		}

		It("replaces the failed row and reprocesses from scratch", func() {
			seedFailed(555)

			result, err := proc.RetryFailedDiscussion(ctx, 555)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(model.DiscussionStatusCompleted))
			Expect(result.Cached).To(BeFalse())
			Expect(discussions.deleted).To(Equal([]int64{555}))
			Expect(result.DiscussionID).NotTo(Equal(int64(555)))
			Expect(creator.requests).To(HaveLen(1))
		})

		It("refuses to retry a discussion that is not failed", func() {
			Expect(discussions.Create(ctx, &model.Discussion{
				ID:             556,
				SourceThreadID: parsed.SourceThreadID,
				Status:         model.DiscussionStatusCompleted,
			})).To(Succeed())

			_, err := proc.RetryFailedDiscussion(ctx, 556)

			Expect(err).To(HaveOccurred())
			Expect(processor.IsRetryable(err)).To(BeFalse())
			Expect(discussions.deleted).To(BeEmpty())
		})

		It("surfaces a missing discussion as an error", func() {
			_, err := proc.RetryFailedDiscussion(ctx, 404)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("loading discussion"))
		})
	})
})
