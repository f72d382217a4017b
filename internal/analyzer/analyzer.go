package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"threadline.app/processor/common/llm"
	"threadline.app/processor/internal/domain"
)

type Summary struct {
	Summary   string   `json:"summary" jsonschema_description:"2-4 sentence summary of the discussion"`
	KeyPoints []string `json:"keyPoints" jsonschema_description:"Main decisions, blockers and open questions, one short phrase each"`
}

type Task struct {
	Title       string   `json:"title" jsonschema_description:"Short imperative task title"`
	Description string   `json:"description" jsonschema_description:"What needs to be done and why, with enough context to act without rereading the thread"`
	Domain      string   `json:"domain" jsonschema_description:"One of the available domain tags, or empty when none applies"`
	Priority    string   `json:"priority" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent" jsonschema_description:"Urgency implied by the discussion"`
	Assignees   []string `json:"assignees" jsonschema_description:"Display names of participants the thread assigns this task to"`
}

type TaskDetection struct {
	IsMultiTask bool   `json:"isMultiTask" jsonschema_description:"True when the discussion contains more than one actionable task"`
	Tasks       []Task `json:"tasks" jsonschema_description:"Actionable tasks found in the discussion, empty when there are none"`
}

type analysisResponse struct {
	Summary       Summary       `json:"summary"`
	TaskDetection TaskDetection `json:"taskDetection"`
}

// Analysis is the full result of one discussion analysis.
type Analysis struct {
	Summary       Summary
	TaskDetection TaskDetection
	Cached        bool
}

// Options carries per-discussion analysis configuration resolved from the
// owning flow.
type Options struct {
	SourceType          domain.SourceType
	CustomSummaryPrompt *string
	CustomTaskPrompt    *string
	ReplyPersonality    *string
	AvailableDomains    []string
}

var analysisSchema = llm.GenerateSchema[analysisResponse]()

const maxAnalysisAttempts = 3

type Analyzer struct {
	llm llm.Client
}

func New(client llm.Client) *Analyzer {
	return &Analyzer{llm: client}
}

// Analyze summarizes the thread and extracts actionable tasks in a single
// structured-output call. Transient provider errors are retried with
// exponential backoff; anything else fails the analysis.
func (a *Analyzer) Analyze(ctx context.Context, thread *domain.Thread, opts Options) (*Analysis, error) {
	start := time.Now()

	var response analysisResponse
	var err error
	for attempt := 0; attempt < maxAnalysisAttempts; attempt++ {
		_, err = a.llm.Chat(ctx, llm.Request{
			SystemPrompt: a.systemPrompt(opts),
			UserPrompt:   a.userPrompt(thread, opts),
			SchemaName:   "discussion_analysis",
			Schema:       analysisSchema,
			Temperature:  llm.Temp(0.2),
		}, &response)

		if err == nil {
			break
		}
		if !llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("discussion analysis: %w", err)
		}
		slog.WarnContext(ctx, "discussion analysis retry",
			"thread_id", thread.ID,
			"attempt", attempt+1,
			"error", err)
		time.Sleep(backoff(attempt))
	}
	if err != nil {
		return nil, fmt.Errorf("discussion analysis after %d attempts: %w", maxAnalysisAttempts, err)
	}

	slog.InfoContext(ctx, "discussion analyzed",
		"thread_id", thread.ID,
		"model", a.llm.Model(),
		"tasks", len(response.TaskDetection.Tasks),
		"multi_task", response.TaskDetection.IsMultiTask,
		"duration_ms", time.Since(start).Milliseconds())

	normalize(&response.TaskDetection)

	return &Analysis{
		Summary:       response.Summary,
		TaskDetection: response.TaskDetection,
	}, nil
}

// Default builds the analysis used when AI is disabled for the flow or the
// caller asked to skip it: one task straight from the webhook title and
// content, no summary.
func Default(title, content string) *Analysis {
	if title == "" {
		title = firstLine(content)
	}
	return &Analysis{
		Summary: Summary{Summary: content},
		TaskDetection: TaskDetection{
			Tasks: []Task{{Title: title, Description: content, Priority: "medium"}},
		},
	}
}

func (a *Analyzer) systemPrompt(opts Options) string {
	var sb strings.Builder
	sb.WriteString("You analyze team discussions and extract actionable work.\n\n")

	if opts.CustomSummaryPrompt != nil && *opts.CustomSummaryPrompt != "" {
		sb.WriteString("Summary instructions: " + *opts.CustomSummaryPrompt + "\n")
	} else {
		sb.WriteString("Summarize what was discussed, what was decided, and what remains open.\n")
	}

	if opts.CustomTaskPrompt != nil && *opts.CustomTaskPrompt != "" {
		sb.WriteString("Task extraction instructions: " + *opts.CustomTaskPrompt + "\n")
	} else {
		sb.WriteString("Extract only tasks a participant committed to or explicitly requested. Do not invent work.\n")
	}

	if opts.ReplyPersonality != nil && *opts.ReplyPersonality != "" {
		sb.WriteString("Write the summary in this voice: " + *opts.ReplyPersonality + "\n")
	}

	if len(opts.AvailableDomains) > 0 {
		sb.WriteString("Tag each task with exactly one of these domains, or leave the domain empty if none fits: ")
		sb.WriteString(strings.Join(opts.AvailableDomains, ", "))
		sb.WriteString(".\n")
	}

	return sb.String()
}

func (a *Analyzer) userPrompt(thread *domain.Thread, opts Options) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Discussion from %s:\n\n", opts.SourceType)

	for _, msg := range thread.AllMessages() {
		author := msg.AuthorName
		if author == "" {
			author = msg.AuthorHandle
		}
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(&sb, "%s: %s\n", author, msg.Content)
	}

	return sb.String()
}

// normalize drops tasks the model returned without a title and clamps the
// multi-task flag to what the list actually contains.
func normalize(td *TaskDetection) {
	tasks := td.Tasks[:0]
	for _, t := range td.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	td.Tasks = tasks
	td.IsMultiTask = len(tasks) > 1
}

func backoff(attempt int) time.Duration {
	d := 2 * time.Second << attempt
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "Follow up on discussion"
	}
	return s
}
