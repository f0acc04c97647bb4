package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		output   string
		want     Outcome
	}{
		{
			name:   "success marker",
			output: "implemented\nSTORY_COMPLETE: STORY-1\n",
			want:   Outcome{Kind: KindSuccess},
		},
		{
			name:   "success marker at end of text",
			output: "STORY_COMPLETE: STORY-1",
			want:   Outcome{Kind: KindSuccess},
		},
		{
			name:     "nonzero exit dominates success marker",
			exitCode: 1,
			output:   "STORY_COMPLETE: STORY-1",
			want:     Outcome{Kind: KindHardFailure, Reason: "exit status 1"},
		},
		{
			name:   "retry marker carries note",
			output: "STORY_RETRY_NEEDED: STORY-1\nParser done, tests for edge cases remain.\n",
			want:   Outcome{Kind: KindRetryNeeded, Note: "Parser done, tests for edge cases remain."},
		},
		{
			name:   "retry marker with inline note",
			output: "STORY_RETRY_NEEDED: STORY-1 - halfway there",
			want:   Outcome{Kind: KindRetryNeeded, Note: "- halfway there"},
		},
		{
			name:   "retry marker without note",
			output: "STORY_RETRY_NEEDED: STORY-1\n",
			want:   Outcome{Kind: KindRetryNeeded, Note: DefaultRetryNote},
		},
		{
			name:   "success wins over retry",
			output: "STORY_RETRY_NEEDED: STORY-1 maybe\nSTORY_COMPLETE: STORY-1",
			want:   Outcome{Kind: KindSuccess},
		},
		{
			name:   "no marker is a hard failure",
			output: "all done!",
			want:   Outcome{Kind: KindHardFailure, Reason: "exited cleanly without an outcome marker"},
		},
		{
			name:   "marker for another story is ignored",
			output: "STORY_COMPLETE: STORY-2",
			want:   Outcome{Kind: KindHardFailure, Reason: "exited cleanly without an outcome marker"},
		},
		{
			name:   "id prefix does not match longer id",
			output: "STORY_COMPLETE: STORY-10\nSTORY_RETRY_NEEDED: STORY-12 note",
			want:   Outcome{Kind: KindHardFailure, Reason: "exited cleanly without an outcome marker"},
		},
		{
			name:   "later exact marker still matches",
			output: "STORY_COMPLETE: STORY-10\nSTORY_COMPLETE: STORY-1\n",
			want:   Outcome{Kind: KindSuccess},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify("STORY-1", tt.exitCode, tt.output))
		})
	}
}

func TestMarkers(t *testing.T) {
	assert.Equal(t, "STORY_COMPLETE: BT-3", SuccessMarker("BT-3"))
	assert.Equal(t, "STORY_RETRY_NEEDED: BT-3", RetryMarker("BT-3"))
}
