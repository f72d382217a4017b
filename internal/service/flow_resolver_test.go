package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/processor/common/crypto"
	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/model"
	"threadline.app/processor/internal/service"
	"threadline.app/processor/internal/store"
)

// mockFlowStore implements store.FlowStore for testing.
type mockFlowStore struct {
	getByIDFn         func(ctx context.Context, id int64) (*model.Flow, error)
	listInputsFn      func(ctx context.Context, sourceType string) ([]model.FlowInput, error)
	listOutputsFn     func(ctx context.Context, flowID int64) ([]model.FlowOutput, error)
	listOutputsCalled int
	listInputsCalled  int
}

func (m *mockFlowStore) GetByID(ctx context.Context, id int64) (*model.Flow, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockFlowStore) ListActiveInputsBySourceType(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
	m.listInputsCalled++
	if m.listInputsFn != nil {
		return m.listInputsFn(ctx, sourceType)
	}
	return nil, nil
}

func (m *mockFlowStore) ListOutputsByFlow(ctx context.Context, flowID int64) ([]model.FlowOutput, error) {
	m.listOutputsCalled++
	if m.listOutputsFn != nil {
		return m.listOutputsFn(ctx, flowID)
	}
	return nil, nil
}

// mockLegacyConfigStore implements store.LegacyConfigStore for testing.
type mockLegacyConfigStore struct {
	getActiveFn func(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error)
	called      int
}

func (m *mockLegacyConfigStore) GetActiveBySource(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error) {
	m.called++
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx, sourceType, workspaceID)
	}
	return nil, store.ErrNotFound
}

func strPtr(s string) *string {
	return &s
}

var _ = Describe("ConfigResolver", func() {
	var (
		ctx        context.Context
		flowStore  *mockFlowStore
		legacy     *mockLegacyConfigStore
		cipher     *crypto.Cipher
		resolver   service.ConfigResolver
		discussion *domain.ParsedDiscussion
	)

	BeforeEach(func() {
		ctx = context.Background()
		flowStore = &mockFlowStore{}
		legacy = &mockLegacyConfigStore{}

		var err error
		cipher, err = crypto.NewCipher("test-passphrase")
		Expect(err).NotTo(HaveOccurred())

		resolver = service.NewConfigResolver(flowStore, legacy, cipher)

		discussion = &domain.ParsedDiscussion{
			SourceType:     domain.SourceSlack,
			SourceThreadID: "C1:100.1",
			TeamID:         "W-42",
			AuthorHandle:   "jane",
			Title:          "Deploy failed",
			Content:        "The deploy failed again",
		}
	})

	It("resolves a flow by matching the workspace on an active input", func() {
		encrypted, err := cipher.Encrypt("notion-secret")
		Expect(err).NotTo(HaveOccurred())

		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			Expect(sourceType).To(Equal("slack"))
			return []model.FlowInput{
				{ID: 1, FlowID: 10, WorkspaceID: strPtr("W-other")},
				{ID: 2, FlowID: 20, WorkspaceID: strPtr("W-42")},
			}, nil
		}
		flowStore.getByIDFn = func(ctx context.Context, id int64) (*model.Flow, error) {
			Expect(id).To(Equal(int64(20)))
			return &model.Flow{ID: 20, TeamID: 7, Active: true, AIEnabled: true, APIKeyEncrypted: encrypted}, nil
		}
		flowStore.listOutputsFn = func(ctx context.Context, flowID int64) ([]model.FlowOutput, error) {
			return []model.FlowOutput{{ID: 100, FlowID: 20}}, nil
		}

		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Flow.ID).To(Equal(int64(20)))
		Expect(cfg.MatchedInput.ID).To(Equal(int64(2)))
		Expect(cfg.Outputs).To(HaveLen(1))
		Expect(cfg.TeamID).To(Equal(int64(7)))
		Expect(cfg.TrackerToken).To(Equal("notion-secret"))
		Expect(legacy.called).To(Equal(0))
	})

	It("skips an orphaned input and falls back to legacy config", func() {
		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			return []model.FlowInput{{ID: 1, FlowID: 99, WorkspaceID: strPtr("W-42")}}, nil
		}
		flowStore.getByIDFn = func(ctx context.Context, id int64) (*model.Flow, error) {
			return nil, store.ErrNotFound
		}
		legacy.getActiveFn = func(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error) {
			Expect(workspaceID).To(Equal("W-42"))
			return &model.LegacyConfig{
				ID:               5,
				TeamID:           7,
				NotionDatabaseID: "db-legacy",
				Config:           []byte(`{"notion_token":"legacy-secret"}`),
			}, nil
		}

		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Flow).To(BeNil())
		Expect(cfg.Legacy.ID).To(Equal(int64(5)))
		Expect(cfg.Outputs).To(HaveLen(1))
		Expect(cfg.Outputs[0].IsDefault).To(BeTrue())
		Expect(cfg.Outputs[0].DomainFilter).To(BeEmpty())
		Expect(string(cfg.Outputs[0].Config)).To(ContainSubstring("db-legacy"))
		Expect(cfg.TrackerToken).To(Equal("legacy-secret"))
	})

	It("returns ErrNoConfig when neither strategy matches", func() {
		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(cfg).To(BeNil())
		Expect(errors.Is(err, service.ErrNoConfig)).To(BeTrue())
		Expect(flowStore.listInputsCalled).To(Equal(1))
		Expect(legacy.called).To(Equal(1))
	})

	It("fails hard on store errors instead of silently falling back", func() {
		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			return nil, errors.New("connection reset")
		}

		_, err := resolver.Resolve(ctx, discussion)

		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, service.ErrNoConfig)).To(BeFalse())
		Expect(legacy.called).To(Equal(0))
	})

	It("treats an inactive flow as no configuration", func() {
		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			return []model.FlowInput{{ID: 1, FlowID: 20, WorkspaceID: strPtr("W-42")}}, nil
		}
		flowStore.getByIDFn = func(ctx context.Context, id int64) (*model.Flow, error) {
			return &model.Flow{ID: 20, TeamID: 7, Active: false}, nil
		}

		_, err := resolver.Resolve(ctx, discussion)

		Expect(errors.Is(err, service.ErrNoConfig)).To(BeTrue())
	})

	It("scans past an orphaned input to the next matching candidate", func() {
		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			return []model.FlowInput{
				{ID: 1, FlowID: 99, WorkspaceID: strPtr("W-42")},
				{ID: 2, FlowID: 20, WorkspaceID: strPtr("W-42")},
			}, nil
		}
		flowStore.getByIDFn = func(ctx context.Context, id int64) (*model.Flow, error) {
			if id == 99 {
				return nil, store.ErrNotFound
			}
			return &model.Flow{ID: 20, TeamID: 7, Active: true, AIEnabled: true}, nil
		}

		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Flow.ID).To(Equal(int64(20)))
		Expect(cfg.MatchedInput.ID).To(Equal(int64(2)))
		Expect(legacy.called).To(Equal(0))
	})

	It("accepts a page-comment input with no stored identifier", func() {
		discussion.SourceType = domain.SourceNotionPage
		discussion.TeamID = ""

		flowStore.listInputsFn = func(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
			Expect(sourceType).To(Equal("notion_page"))
			return []model.FlowInput{{ID: 3, FlowID: 30}}, nil
		}
		flowStore.getByIDFn = func(ctx context.Context, id int64) (*model.Flow, error) {
			return &model.Flow{ID: 30, TeamID: 9, Active: true, AIEnabled: true}, nil
		}

		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Flow.ID).To(Equal(int64(30)))
		Expect(cfg.MatchedInput.ID).To(Equal(int64(3)))
	})

	It("defaults AI settings on the legacy path", func() {
		legacy.getActiveFn = func(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error) {
			return &model.LegacyConfig{ID: 5, TeamID: 7, NotionDatabaseID: "db"}, nil
		}

		cfg, err := resolver.Resolve(ctx, discussion)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.AIEnabled()).To(BeTrue())
		Expect(cfg.SummaryPrompt()).To(BeNil())
		Expect(cfg.AvailableDomains()).To(BeEmpty())
	})
})
