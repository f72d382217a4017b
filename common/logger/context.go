package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (discussion_id, job_id, etc.) is automatically included in all log statements.
type LogFields struct {
	DiscussionID *int64  // Persisted discussion record ID
	JobID        *int64  // Processing job ID
	FlowID       *int64  // Resolved flow ID
	TeamID       *int64  // Internal team ID
	MessageID    *string // Redis stream message ID
	SourceType   *string // Origin surface (e.g. "slack", "figma", "notion_page")
	Component    string  // Component name (e.g. "processor.pipeline")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, updated LogFields) LogFields {
	result := existing

	if updated.DiscussionID != nil {
		result.DiscussionID = updated.DiscussionID
	}
	if updated.JobID != nil {
		result.JobID = updated.JobID
	}
	if updated.FlowID != nil {
		result.FlowID = updated.FlowID
	}
	if updated.TeamID != nil {
		result.TeamID = updated.TeamID
	}
	if updated.MessageID != nil {
		result.MessageID = updated.MessageID
	}
	if updated.SourceType != nil {
		result.SourceType = updated.SourceType
	}
	if updated.Component != "" {
		result.Component = updated.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like thread contents or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
