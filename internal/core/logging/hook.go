package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts run_id, story_id and attempt from context and adds
// them to log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if runID := GetRunID(ctx); runID != "" {
		e.Str("run_id", runID)
	}

	if storyID := GetStoryID(ctx); storyID != "" {
		e.Str("story_id", storyID)
	}

	if attempt := GetAttempt(ctx); attempt > 0 {
		e.Int("attempt", attempt)
	}
}
