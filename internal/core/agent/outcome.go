// Package agent launches coding-agent processes and interprets what they
// report.
package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the classified result of an attempt.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindRetryNeeded Kind = "retry_needed"
	KindHardFailure Kind = "hard_failure"
)

// DefaultRetryNote is used when the agent emits a retry marker with no text.
const DefaultRetryNote = "No summary provided by agent."

const (
	successPrefix = "STORY_COMPLETE:"
	retryPrefix   = "STORY_RETRY_NEEDED:"
)

// SuccessMarker is the line an agent prints when the story is done.
func SuccessMarker(id string) string { return successPrefix + " " + id }

// RetryMarker is the line an agent prints when it made partial progress.
func RetryMarker(id string) string { return retryPrefix + " " + id }

// Outcome is the classification of one attempt.
type Outcome struct {
	Kind Kind
	// Note is the agent's summary for a retry.
	Note string
	// Reason explains a hard failure.
	Reason string
}

// markerPattern matches prefix followed by exactly id; "STORY-1" does not
// match "STORY-10". The first group captures everything after the marker.
func markerPattern(prefix, id string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(prefix) + `[ \t]*` + regexp.QuoteMeta(id) + `((?:[^A-Za-z0-9_-].*)?)$`)
}

// Classify turns an exit status and output text into an Outcome. A nonzero
// exit always wins over markers, and clean exits without a marker are
// failures.
func Classify(id string, exitCode int, output string) Outcome {
	if exitCode != 0 {
		return Outcome{Kind: KindHardFailure, Reason: fmt.Sprintf("exit status %d", exitCode)}
	}

	if markerPattern(successPrefix, id).MatchString(output) {
		return Outcome{Kind: KindSuccess}
	}

	if m := markerPattern(retryPrefix, id).FindStringSubmatch(output); m != nil {
		note := strings.TrimSpace(m[1])
		if note == "" {
			note = DefaultRetryNote
		}
		return Outcome{Kind: KindRetryNeeded, Note: note}
	}

	return Outcome{Kind: KindHardFailure, Reason: "exited cleanly without an outcome marker"}
}
