package processor_test

import (
	"context"
	"encoding/json"
	"fmt"

	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/model"
	"threadline.app/processor/internal/service"
	"threadline.app/processor/internal/store"
	"threadline.app/processor/internal/tracker"
)

// fakeDiscussionStore is an in-memory store.DiscussionStore.
type fakeDiscussionStore struct {
	discussions map[int64]*model.Discussion
	deleted     []int64
	createErr   error
}

func newFakeDiscussionStore() *fakeDiscussionStore {
	return &fakeDiscussionStore{discussions: make(map[int64]*model.Discussion)}
}

func (f *fakeDiscussionStore) GetByID(ctx context.Context, id int64) (*model.Discussion, error) {
	d, ok := f.discussions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDiscussionStore) GetBySourceThreadID(ctx context.Context, sourceThreadID string) (*model.Discussion, error) {
	for _, d := range f.discussions {
		if d.SourceThreadID == sourceThreadID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeDiscussionStore) Create(ctx context.Context, d *model.Discussion) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *d
	f.discussions[d.ID] = &copied
	return nil
}

func (f *fakeDiscussionStore) UpdateStatus(ctx context.Context, id int64, status model.DiscussionStatus) error {
	d, ok := f.discussions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeDiscussionStore) UpdateThread(ctx context.Context, id int64, authorHandle string, participants []string, threadData json.RawMessage) error {
	d, ok := f.discussions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.AuthorHandle = authorHandle
	d.Participants = participants
	d.ThreadData = threadData
	return nil
}

func (f *fakeDiscussionStore) UpdateResults(ctx context.Context, id int64, params store.DiscussionResults) error {
	d, ok := f.discussions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Summary = params.Summary
	d.KeyPoints = params.KeyPoints
	d.TaskDetection = params.TaskDetection
	d.NotionTaskIDs = params.NotionTaskIDs
	d.Status = params.Status
	return nil
}

func (f *fakeDiscussionStore) SetFailed(ctx context.Context, id int64, errMsg string) error {
	d, ok := f.discussions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = model.DiscussionStatusFailed
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata["error"] = errMsg
	return nil
}

func (f *fakeDiscussionStore) Delete(ctx context.Context, id int64) error {
	if _, ok := f.discussions[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.discussions, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeJobStore is an in-memory store.JobStore.
type fakeJobStore struct {
	jobs map[int64]*model.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[int64]*model.Job)}
}

func (f *fakeJobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (f *fakeJobStore) Create(ctx context.Context, job *model.Job) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobStore) UpdateStage(ctx context.Context, id int64, stage model.JobStage) error {
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Stage = stage
	return nil
}

func (f *fakeJobStore) Finalize(ctx context.Context, id int64, params store.JobFinalization) error {
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = params.Status
	j.Error = params.Error
	j.ErrorStack = params.ErrorStack
	j.TaskIDs = params.TaskIDs
	j.DurationMs = &params.DurationMs
	return nil
}

func (f *fakeJobStore) ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Job, error) {
	var jobs []model.Job
	for _, j := range f.jobs {
		if j.DiscussionID == discussionID {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

// fakeTaskStore is an in-memory store.TaskStore.
type fakeTaskStore struct {
	tasks     []*model.Task
	createErr error
}

func (f *fakeTaskStore) Create(ctx context.Context, task *model.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *task
	f.tasks = append(f.tasks, &copied)
	return nil
}

func (f *fakeTaskStore) ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Task, error) {
	var tasks []model.Task
	for _, t := range f.tasks {
		if t.DiscussionID == discussionID {
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

// fakeUserMappingStore is an in-memory store.UserMappingStore.
type fakeUserMappingStore struct {
	mappings []*model.UserMapping
}

func (f *fakeUserMappingStore) ListActive(ctx context.Context, teamID int64, sourceType, workspaceID string) ([]model.UserMapping, error) {
	var active []model.UserMapping
	for _, m := range f.mappings {
		if m.Active && m.TeamID == teamID && m.SourceType == sourceType {
			active = append(active, *m)
		}
	}
	return active, nil
}

func (f *fakeUserMappingStore) ExistsForSourceUser(ctx context.Context, teamID int64, sourceType, workspaceID, sourceUserID string) (bool, error) {
	for _, m := range f.mappings {
		if m.TeamID == teamID && m.SourceType == sourceType && m.SourceUserID == sourceUserID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserMappingStore) Create(ctx context.Context, mapping *model.UserMapping) error {
	copied := *mapping
	f.mappings = append(f.mappings, &copied)
	return nil
}

// fakeStoreProvider backs the fake transaction runner with the same stores
// the processor holds directly.
type fakeStoreProvider struct {
	discussions *fakeDiscussionStore
	jobs        *fakeJobStore
	tasks       *fakeTaskStore
	mappings    *fakeUserMappingStore
}

func (f *fakeStoreProvider) Discussions() store.DiscussionStore   { return f.discussions }
func (f *fakeStoreProvider) Jobs() store.JobStore                 { return f.jobs }
func (f *fakeStoreProvider) Tasks() store.TaskStore               { return f.tasks }
func (f *fakeStoreProvider) UserMappings() store.UserMappingStore { return f.mappings }

type fakeTxRunner struct {
	provider *fakeStoreProvider
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	return fn(f.provider)
}

// fakeConfigResolver implements service.ConfigResolver.
type fakeConfigResolver struct {
	cfg *service.ResolvedConfig
	err error
}

func (f *fakeConfigResolver) Resolve(ctx context.Context, disc *domain.ParsedDiscussion) (*service.ResolvedConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

// fakeAdapter implements source.Adapter with call recording.
type fakeAdapter struct {
	sourceType    domain.SourceType
	thread        *domain.Thread
	fetchErr      error
	replies       []string
	statusUpdates []string
}

func (f *fakeAdapter) SourceType() domain.SourceType {
	return f.sourceType
}

func (f *fakeAdapter) FetchThread(ctx context.Context, threadID string, creds json.RawMessage) (*domain.Thread, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.thread == nil {
		return nil, fmt.Errorf("no thread configured for %s", threadID)
	}
	return f.thread, nil
}

func (f *fakeAdapter) PostReply(ctx context.Context, threadID, message string, creds json.RawMessage) error {
	f.replies = append(f.replies, message)
	return nil
}

func (f *fakeAdapter) UpdateStatus(ctx context.Context, threadID, status string, creds json.RawMessage) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

// fakeAnalyzer implements processor.Analyzing.
type fakeAnalyzer struct {
	analysis  *analyzer.Analysis
	err       error
	callCount int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, thread *domain.Thread, opts analyzer.Options) (*analyzer.Analysis, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

// fakeCreator implements tracker.Creator with per-call failure injection.
type fakeCreator struct {
	requests []tracker.Request
	failOn   map[int]error // 1-based call index
	token    string
}

func (f *fakeCreator) CreateTask(ctx context.Context, req tracker.Request) (*tracker.CreatedTask, error) {
	f.requests = append(f.requests, req)
	call := len(f.requests)
	if err, ok := f.failOn[call]; ok {
		return nil, err
	}
	return &tracker.CreatedTask{
		ID:  fmt.Sprintf("page-%d", call),
		URL: fmt.Sprintf("https://notion.so/page-%d", call),
	}, nil
}
