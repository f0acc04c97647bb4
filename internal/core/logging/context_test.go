package logging

import (
	"context"
	"testing"
)

func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")

	if got := GetRunID(ctx); got != "run-123" {
		t.Errorf("GetRunID() = %q, want %q", got, "run-123")
	}
}

func TestWithStoryID(t *testing.T) {
	ctx := WithStoryID(context.Background(), "STORY-001")

	if got := GetStoryID(ctx); got != "STORY-001" {
		t.Errorf("GetStoryID() = %q, want %q", got, "STORY-001")
	}
}

func TestWithAttempt(t *testing.T) {
	ctx := WithAttempt(context.Background(), 3)

	if got := GetAttempt(ctx); got != 3 {
		t.Errorf("GetAttempt() = %d, want %d", got, 3)
	}
}

func TestGetters_NotPresent(t *testing.T) {
	ctx := context.Background()

	if got := GetRunID(ctx); got != "" {
		t.Errorf("GetRunID() = %q, want empty string", got)
	}
	if got := GetStoryID(ctx); got != "" {
		t.Errorf("GetStoryID() = %q, want empty string", got)
	}
	if got := GetAttempt(ctx); got != 0 {
		t.Errorf("GetAttempt() = %d, want 0", got)
	}
}
