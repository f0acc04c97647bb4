package logging

import "context"

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	storyIDKey contextKey = "story_id"
	attemptKey contextKey = "attempt"
)

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithStoryID adds a story ID to the context.
func WithStoryID(ctx context.Context, storyID string) context.Context {
	return context.WithValue(ctx, storyIDKey, storyID)
}

// WithAttempt adds an attempt number to the context.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// GetRunID retrieves the run ID from the context.
// Returns empty string if not present.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// GetStoryID retrieves the story ID from the context.
// Returns empty string if not present.
func GetStoryID(ctx context.Context) string {
	if id, ok := ctx.Value(storyIDKey).(string); ok {
		return id
	}
	return ""
}

// GetAttempt retrieves the attempt number from the context.
// Returns 0 if not present.
func GetAttempt(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey).(int); ok {
		return n
	}
	return 0
}
