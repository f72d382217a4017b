package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"threadline.app/processor/common/id"
	"threadline.app/processor/common/logger"
	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/bootstrap"
	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/mention"
	"threadline.app/processor/internal/model"
	"threadline.app/processor/internal/routing"
	"threadline.app/processor/internal/service"
	"threadline.app/processor/internal/source"
	"threadline.app/processor/internal/store"
	"threadline.app/processor/internal/tracker"
)

// Analyzing is the slice of the analyzer the pipeline needs.
type Analyzing interface {
	Analyze(ctx context.Context, thread *domain.Thread, opts analyzer.Options) (*analyzer.Analysis, error)
}

// Options tweaks one processing run.
type Options struct {
	// SkipAI forces the default single-task path even when the flow has AI
	// enabled.
	SkipAI bool
	// Thread bypasses the source adapter fetch when the caller already holds
	// the reconstructed thread.
	Thread *domain.Thread
}

// Result is the outcome of one processing run.
type Result struct {
	DiscussionID   int64
	JobID          int64
	Status         model.DiscussionStatus
	Cached         bool
	Bootstrap      bool
	Summary        string
	TaskIDs        []int64  // internal task record ids
	CreatedTaskIDs []string // destination-side ids
}

// Config wires the pipeline's collaborators.
type Config struct {
	TxRunner     service.TxRunner
	Discussions  store.DiscussionStore
	Jobs         store.JobStore
	Tasks        store.TaskStore
	UserMappings store.UserMappingStore
	Resolver     service.ConfigResolver
	Sources      *source.Registry
	Analyzer     Analyzing
	Trackers     tracker.Factory
	Detector     *bootstrap.Detector
	Bot          mention.BotIdentity
}

// Processor orchestrates the six-stage pipeline for one discussion at a time.
// All state is per-call; the processor itself is safe for concurrent use.
type Processor struct {
	cfg      Config
	resolver *mention.Resolver
}

func New(cfg Config) *Processor {
	if cfg.Detector == nil {
		cfg.Detector = bootstrap.NewDetector()
	}
	return &Processor{cfg: cfg, resolver: mention.NewResolver()}
}

// Process runs the pipeline for one parsed discussion. Validation and
// configuration failures abort before any persistence write; once the
// discussion and job exist, any failure marks both before surfacing.
func (p *Processor) Process(ctx context.Context, parsed *domain.ParsedDiscussion, opts Options) (*Result, error) {
	start := time.Now()

	if err := validate(parsed); err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SourceType: logger.Ptr(string(parsed.SourceType)),
		Component:  "processor.pipeline",
	})

	cached, err := p.deduplicate(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	cfg, adapter, err := p.loadConfig(ctx, parsed)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{TeamID: logger.Ptr(cfg.TeamID)})
	if cfg.Flow != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{FlowID: logger.Ptr(cfg.Flow.ID)})
	}

	// Reflect "processing" on the origin thread. Best effort: the origin
	// surface is decoration, not state.
	p.updateSourceStatus(ctx, adapter, parsed.SourceThreadID, source.StatusProcessing, cfg)

	mappings := p.loadMappings(ctx, cfg.TeamID, parsed)

	discussion, job, err := p.createRecords(ctx, parsed, cfg)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DiscussionID: logger.Ptr(discussion.ID),
		JobID:        logger.Ptr(job.ID),
	})

	result, err := p.run(ctx, parsed, opts, cfg, adapter, mappings, discussion, job, start)
	if err != nil {
		return nil, p.fail(ctx, discussion, job, start, err)
	}
	return result, nil
}

// run executes the stages that happen after the discussion and job records
// exist; its errors flow through the shared failure path.
func (p *Processor) run(
	ctx context.Context,
	parsed *domain.ParsedDiscussion,
	opts Options,
	cfg *service.ResolvedConfig,
	adapter source.Adapter,
	mappings []model.UserMapping,
	discussion *model.Discussion,
	job *model.Job,
	start time.Time,
) (*Result, error) {
	thread, err := p.buildThread(ctx, parsed, opts, cfg, adapter, mappings, discussion, job)
	if err != nil {
		return nil, err
	}

	sync := p.cfg.Detector.Detect(thread, parsed.SourceType, parsed.Content)
	if sync.IsBootstrap {
		return p.finishBootstrap(ctx, parsed, cfg, adapter, sync, discussion, job, start)
	}

	analysis, err := p.analyze(ctx, thread, opts, cfg, parsed, job)
	if err != nil {
		return nil, err
	}

	taskIDs, createdIDs := p.createTasks(ctx, parsed, cfg, analysis, thread, mappings, discussion, job)

	return p.finalize(ctx, parsed, cfg, adapter, analysis, discussion, job, taskIDs, createdIDs, start)
}

func validate(parsed *domain.ParsedDiscussion) error {
	missing := ""
	switch {
	case parsed.SourceType == "":
		missing = "source_type"
	case parsed.SourceThreadID == "":
		missing = "source_thread_id"
	case parsed.SourceURL == "":
		missing = "source_url"
	case parsed.TeamID == "":
		missing = "team_id"
	case parsed.AuthorHandle == "":
		missing = "author_handle"
	case parsed.Title == "":
		missing = "title"
	case parsed.Content == "":
		missing = "content"
	}
	if missing != "" {
		return newError(StageValidation, false, "missing required field "+missing).
			WithContext("field", missing)
	}
	return nil
}

// deduplicate returns a cached result for a live duplicate delivery, deletes
// stale failed or sync rows, and lets everything else proceed fresh.
func (p *Processor) deduplicate(ctx context.Context, parsed *domain.ParsedDiscussion) (*Result, error) {
	existing, err := p.cfg.Discussions.GetBySourceThreadID(ctx, parsed.SourceThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(StageSaveDiscussion, true, "looking up discussion", err)
	}

	likelySync := bootstrap.IsTrigger(parsed.Content)
	if existing.Status != model.DiscussionStatusFailed && !likelySync {
		slog.InfoContext(ctx, "duplicate delivery, returning cached discussion",
			"discussion_id", existing.ID,
			"status", existing.Status)
		return &Result{
			DiscussionID:   existing.ID,
			Status:         existing.Status,
			Cached:         true,
			CreatedTaskIDs: existing.NotionTaskIDs,
		}, nil
	}

	// A failed row is superseded by this fresh attempt; a sync comment must
	// always run even when an earlier row exists for the thread.
	slog.InfoContext(ctx, "deleting stale discussion for reprocessing",
		"discussion_id", existing.ID,
		"status", existing.Status,
		"sync", likelySync)
	if err := p.cfg.Discussions.Delete(ctx, existing.ID); err != nil {
		return nil, wrapError(StageSaveDiscussion, true, "deleting stale discussion", err)
	}
	return nil, nil
}

func (p *Processor) loadConfig(ctx context.Context, parsed *domain.ParsedDiscussion) (*service.ResolvedConfig, source.Adapter, error) {
	cfg, err := p.cfg.Resolver.Resolve(ctx, parsed)
	if err != nil {
		if errors.Is(err, service.ErrNoConfig) {
			return nil, nil, wrapError(StageFlowLoading, false, "no configuration for source", err).
				WithContext("source_type", string(parsed.SourceType)).
				WithContext("workspace_id", parsed.WorkspaceID())
		}
		return nil, nil, wrapError(StageFlowLoading, true, "resolving configuration", err)
	}

	adapter, err := p.cfg.Sources.For(parsed.SourceType)
	if err != nil {
		return nil, nil, wrapError(StageFlowLoading, false, "selecting source adapter", err)
	}
	return cfg, adapter, nil
}

// loadMappings fetches the team's active identity mappings. A lookup failure
// degrades mention resolution instead of failing the discussion.
func (p *Processor) loadMappings(ctx context.Context, teamID int64, parsed *domain.ParsedDiscussion) []model.UserMapping {
	mappings, err := p.cfg.UserMappings.ListActive(ctx, teamID, string(parsed.SourceType), parsed.WorkspaceID())
	if err != nil {
		slog.WarnContext(ctx, "loading user mappings failed, continuing unresolved", "error", err)
		return nil
	}
	return mappings
}

func (p *Processor) createRecords(ctx context.Context, parsed *domain.ParsedDiscussion, cfg *service.ResolvedConfig) (*model.Discussion, *model.Job, error) {
	discussion := &model.Discussion{
		ID:             id.New(),
		TeamID:         cfg.TeamID,
		SourceType:     string(parsed.SourceType),
		SourceThreadID: parsed.SourceThreadID,
		SourceURL:      parsed.SourceURL,
		Title:          parsed.Title,
		Content:        parsed.Content,
		AuthorHandle:   parsed.AuthorHandle,
		Participants:   parsed.Participants,
		Status:         model.DiscussionStatusProcessing,
		Metadata:       parsed.Metadata,
	}
	job := &model.Job{
		ID:           id.New(),
		DiscussionID: discussion.ID,
		TeamID:       cfg.TeamID,
		Stage:        model.JobStageIngestion,
		Status:       model.JobStatusRunning,
		Attempts:     1,
		StartedAt:    time.Now(),
	}

	// One transaction: a discussion without its job is not a valid state.
	err := p.cfg.TxRunner.WithTx(ctx, func(stores service.StoreProvider) error {
		if err := stores.Discussions().Create(ctx, discussion); err != nil {
			return fmt.Errorf("creating discussion: %w", err)
		}
		if err := stores.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, wrapError(StageSaveDiscussion, true, "saving discussion", err)
	}

	slog.InfoContext(ctx, "discussion accepted",
		"discussion_id", discussion.ID,
		"job_id", job.ID,
		"source_thread_id", parsed.SourceThreadID)
	return discussion, job, nil
}

func (p *Processor) buildThread(
	ctx context.Context,
	parsed *domain.ParsedDiscussion,
	opts Options,
	cfg *service.ResolvedConfig,
	adapter source.Adapter,
	mappings []model.UserMapping,
	discussion *model.Discussion,
	job *model.Job,
) (*domain.Thread, error) {
	p.advance(ctx, job, model.JobStageThreadBuilding)

	thread := opts.Thread
	if thread == nil {
		fetched, err := adapter.FetchThread(ctx, parsed.SourceThreadID, cfg.SourceCredentials())
		if err != nil {
			return nil, wrapError(StageUpdateMetadata, true, "fetching thread", err)
		}
		thread = fetched
	}

	identityMap := identityNames(mappings)
	thread.RootMessage.Content = p.resolver.Resolve(thread.RootMessage.Content, parsed.SourceType, identityMap, p.cfg.Bot)
	for i := range thread.Replies {
		thread.Replies[i].Content = p.resolver.Resolve(thread.Replies[i].Content, parsed.SourceType, identityMap, p.cfg.Bot)
	}

	// The initial save may carry placeholder identifiers; the fetched thread
	// is authoritative.
	authorHandle := thread.RootMessage.AuthorHandle
	if authorHandle == "" {
		authorHandle = parsed.AuthorHandle
	}
	threadData, err := json.Marshal(thread)
	if err != nil {
		return nil, wrapError(StageUpdateMetadata, false, "encoding thread", err)
	}
	if err := p.cfg.Discussions.UpdateThread(ctx, discussion.ID, authorHandle, thread.Participants, threadData); err != nil {
		return nil, wrapError(StageUpdateMetadata, true, "updating discussion thread", err)
	}
	return thread, nil
}

func (p *Processor) analyze(
	ctx context.Context,
	thread *domain.Thread,
	opts Options,
	cfg *service.ResolvedConfig,
	parsed *domain.ParsedDiscussion,
	job *model.Job,
) (*analyzer.Analysis, error) {
	p.advance(ctx, job, model.JobStageAIAnalysis)

	if opts.SkipAI || !cfg.AIEnabled() || p.cfg.Analyzer == nil {
		slog.InfoContext(ctx, "analysis skipped, using default task",
			"skip_requested", opts.SkipAI,
			"ai_enabled", cfg.AIEnabled(),
			"analyzer_configured", p.cfg.Analyzer != nil)
		return analyzer.Default(parsed.Title, parsed.Content), nil
	}

	analysis, err := p.cfg.Analyzer.Analyze(ctx, thread, analyzer.Options{
		SourceType:          parsed.SourceType,
		CustomSummaryPrompt: cfg.SummaryPrompt(),
		CustomTaskPrompt:    cfg.TaskPrompt(),
		ReplyPersonality:    cfg.ReplyPersonality(),
		AvailableDomains:    cfg.AvailableDomains(),
	})
	if err != nil {
		return nil, wrapError(StageUnknown, true, "analyzing discussion", err)
	}
	return analysis, nil
}

// finishBootstrap harvests identities instead of creating tasks.
func (p *Processor) finishBootstrap(
	ctx context.Context,
	parsed *domain.ParsedDiscussion,
	cfg *service.ResolvedConfig,
	adapter source.Adapter,
	sync bootstrap.Result,
	discussion *model.Discussion,
	job *model.Job,
	start time.Time,
) (*Result, error) {
	p.advance(ctx, job, model.JobStageTaskCreation)

	workspace := parsed.WorkspaceID()
	discovered := 0
	for _, user := range sync.Users {
		exists, err := p.cfg.UserMappings.ExistsForSourceUser(ctx, cfg.TeamID, string(parsed.SourceType), workspace, user.SourceUserID)
		if err != nil {
			slog.WarnContext(ctx, "checking existing mapping failed",
				"source_user_id", user.SourceUserID,
				"error", err)
			continue
		}
		if exists {
			continue
		}

		mapping := &model.UserMapping{
			ID:                id.New(),
			TeamID:            cfg.TeamID,
			SourceType:        string(parsed.SourceType),
			SourceWorkspaceID: &workspace,
			SourceUserID:      user.SourceUserID,
			SourceUserName:    user.SourceUserName,
			Active:            false,
			Confidence:        0.5,
			MappingType:       model.MappingTypeDiscovered,
		}
		if err := p.cfg.UserMappings.Create(ctx, mapping); err != nil {
			slog.WarnContext(ctx, "persisting discovered mapping failed",
				"source_user_id", user.SourceUserID,
				"error", err)
			continue
		}
		discovered++
	}

	if err := p.cfg.Discussions.UpdateStatus(ctx, discussion.ID, model.DiscussionStatusCompleted); err != nil {
		return nil, wrapError(StageUpdateStatus, true, "completing sync discussion", err)
	}

	message := fmt.Sprintf("Identity sync complete: %d new user(s) discovered.", discovered)
	p.postReply(ctx, adapter, parsed.SourceThreadID, message, cfg)
	p.updateSourceStatus(ctx, adapter, parsed.SourceThreadID, source.StatusCompleted, cfg)

	p.finalizeJob(ctx, job, store.JobFinalization{
		Status:     model.JobStatusCompleted,
		DurationMs: time.Since(start).Milliseconds(),
	})

	slog.InfoContext(ctx, "sync discussion completed",
		"harvested", len(sync.Users),
		"discovered", discovered,
		"reason", sync.Reason)

	return &Result{
		DiscussionID: discussion.ID,
		JobID:        job.ID,
		Status:       model.DiscussionStatusCompleted,
		Bootstrap:    true,
	}, nil
}

// createTasks routes every detected task and creates one destination task per
// matched output. Destination and record failures are caught per call so one
// output cannot block another.
func (p *Processor) createTasks(
	ctx context.Context,
	parsed *domain.ParsedDiscussion,
	cfg *service.ResolvedConfig,
	analysis *analyzer.Analysis,
	thread *domain.Thread,
	mappings []model.UserMapping,
	discussion *model.Discussion,
	job *model.Job,
) (taskIDs []int64, createdIDs []string) {
	p.advance(ctx, job, model.JobStageTaskCreation)

	creator := p.cfg.Trackers(cfg.TrackerToken)
	people := notionIdentities(mappings)
	multi := len(analysis.TaskDetection.Tasks) > 1

	for i, task := range analysis.TaskDetection.Tasks {
		outputs := routing.Route(task, cfg.Outputs)
		if len(outputs) == 0 {
			slog.InfoContext(ctx, "task matched no outputs",
				"task_title", task.Title,
				"task_domain", task.Domain)
			continue
		}

		for _, output := range outputs {
			created, err := creator.CreateTask(ctx, tracker.Request{
				Task:        task,
				Thread:      thread,
				Summary:     analysis.Summary.Summary,
				SourceURL:   parsed.SourceURL,
				Config:      output.Config,
				IdentityMap: people,
			})
			if err != nil {
				slog.ErrorContext(ctx, "destination task creation failed",
					"output_id", output.ID,
					"task_title", task.Title,
					"error", err)
				continue
			}
			createdIDs = append(createdIDs, created.ID)

			record := &model.Task{
				ID:               id.New(),
				DiscussionID:     discussion.ID,
				TeamID:           cfg.TeamID,
				SyncJobID:        job.ID,
				OutputID:         output.ID,
				Title:            task.Title,
				Description:      task.Description,
				Priority:         task.Priority,
				Domain:           task.Domain,
				ExternalID:       created.ID,
				ExternalURL:      created.URL,
				IsMultiTaskChild: multi,
				TaskIndex:        int32(i),
			}
			if err := p.cfg.Tasks.Create(ctx, record); err != nil {
				// The destination artifact exists; losing the local record is
				// recoverable, so log and keep going.
				slog.ErrorContext(ctx, "persisting task record failed",
					"external_id", created.ID,
					"error", err)
				continue
			}
			taskIDs = append(taskIDs, record.ID)
		}
	}
	return taskIDs, createdIDs
}

func (p *Processor) finalize(
	ctx context.Context,
	parsed *domain.ParsedDiscussion,
	cfg *service.ResolvedConfig,
	adapter source.Adapter,
	analysis *analyzer.Analysis,
	discussion *model.Discussion,
	job *model.Job,
	taskIDs []int64,
	createdIDs []string,
	start time.Time,
) (*Result, error) {
	p.advance(ctx, job, model.JobStageNotification)

	detection, err := json.Marshal(analysis.TaskDetection)
	if err != nil {
		return nil, wrapError(StageUpdateResults, false, "encoding task detection", err)
	}

	summary := analysis.Summary.Summary
	if err := p.cfg.Discussions.UpdateResults(ctx, discussion.ID, store.DiscussionResults{
		Summary:       &summary,
		KeyPoints:     analysis.Summary.KeyPoints,
		TaskDetection: detection,
		NotionTaskIDs: createdIDs,
		Status:        model.DiscussionStatusCompleted,
	}); err != nil {
		return nil, wrapError(StageUpdateResults, true, "persisting results", err)
	}

	p.postReply(ctx, adapter, parsed.SourceThreadID, replyMessage(analysis, len(createdIDs)), cfg)
	p.updateSourceStatus(ctx, adapter, parsed.SourceThreadID, source.StatusCompleted, cfg)

	p.finalizeJob(ctx, job, store.JobFinalization{
		Status:     model.JobStatusCompleted,
		TaskIDs:    taskIDs,
		DurationMs: time.Since(start).Milliseconds(),
	})

	slog.InfoContext(ctx, "discussion completed",
		"tasks_created", len(createdIDs),
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{
		DiscussionID:   discussion.ID,
		JobID:          job.ID,
		Status:         model.DiscussionStatusCompleted,
		Summary:        summary,
		TaskIDs:        taskIDs,
		CreatedTaskIDs: createdIDs,
	}, nil
}

// fail marks the discussion and job before surfacing the error. Bookkeeping
// failures here are logged, never masked over the original error.
func (p *Processor) fail(ctx context.Context, discussion *model.Discussion, job *model.Job, start time.Time, cause error) error {
	pe := wrapError(StageUnknown, true, "processing discussion", cause)

	if err := p.cfg.Discussions.SetFailed(ctx, discussion.ID, pe.Error()); err != nil {
		slog.ErrorContext(ctx, "marking discussion failed", "error", err)
	}

	stack := string(debug.Stack())
	msg := pe.Error()
	p.finalizeJob(ctx, job, store.JobFinalization{
		Status:     model.JobStatusFailed,
		Error:      &msg,
		ErrorStack: &stack,
		DurationMs: time.Since(start).Milliseconds(),
	})

	slog.ErrorContext(ctx, "discussion failed",
		"stage", string(pe.Stage),
		"retryable", pe.Retryable,
		"error", pe)
	return pe
}

// advance records the job's current stage. Best effort: stage bookkeeping
// never aborts processing.
func (p *Processor) advance(ctx context.Context, job *model.Job, stage model.JobStage) {
	job.Stage = stage
	if err := p.cfg.Jobs.UpdateStage(ctx, job.ID, stage); err != nil {
		slog.WarnContext(ctx, "updating job stage failed",
			"stage", string(stage),
			"error", err)
	}
}

func (p *Processor) finalizeJob(ctx context.Context, job *model.Job, params store.JobFinalization) {
	if err := p.cfg.Jobs.Finalize(ctx, job.ID, params); err != nil {
		slog.WarnContext(ctx, "finalizing job failed", "error", err)
	}
}

func (p *Processor) postReply(ctx context.Context, adapter source.Adapter, threadID, message string, cfg *service.ResolvedConfig) {
	if err := adapter.PostReply(ctx, threadID, message, cfg.SourceCredentials()); err != nil {
		slog.WarnContext(ctx, "posting reply failed", "error", err)
	}
}

func (p *Processor) updateSourceStatus(ctx context.Context, adapter source.Adapter, threadID, status string, cfg *service.ResolvedConfig) {
	if err := adapter.UpdateStatus(ctx, threadID, status, cfg.SourceCredentials()); err != nil {
		slog.WarnContext(ctx, "updating source status failed",
			"status", status,
			"error", err)
	}
}

// identityNames maps platform identifiers to display names for mention
// resolution.
func identityNames(mappings []model.UserMapping) map[string]string {
	names := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.SourceUserName != "" {
			names[m.SourceUserID] = m.SourceUserName
		}
	}
	return names
}

// notionIdentities maps display names to destination user ids for people
// properties.
func notionIdentities(mappings []model.UserMapping) map[string]string {
	people := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.NotionUserID != nil && *m.NotionUserID != "" {
			people[m.SourceUserName] = *m.NotionUserID
		}
	}
	return people
}

func replyMessage(analysis *analyzer.Analysis, created int) string {
	var msg string
	switch created {
	case 0:
		msg = "Discussion summarized; no tasks matched a configured destination."
	case 1:
		msg = "Discussion summarized and 1 task created."
	default:
		msg = fmt.Sprintf("Discussion summarized and %d tasks created.", created)
	}
	if analysis.Summary.Summary != "" {
		msg += "\n\n" + logger.Truncate(analysis.Summary.Summary, 500)
	}
	return msg
}
