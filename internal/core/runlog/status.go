package runlog

import (
	"math"
	"time"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/pkg/iojson"
)

// Status is the document written to status.json.
type Status struct {
	UpdatedAt      time.Time              `json:"updated_at"`
	ElapsedSeconds int64                  `json:"elapsed_seconds"`
	TotalCostUSD   float64                `json:"total_cost_usd"`
	Summary        map[story.Status]int   `json:"summary"`
	Stories        map[string]StoryStatus `json:"stories"`
}

// StoryStatus is one story's row in status.json.
type StoryStatus struct {
	Title    string       `json:"title"`
	Status   story.Status `json:"status"`
	Attempts int          `json:"attempts"`
	CostUSD  float64      `json:"cost_usd"`
	Model    string       `json:"model,omitempty"`
	Branch   string       `json:"branch,omitempty"`
	LogFiles []string     `json:"log_files"`
}

// StatusWriter renders snapshots into status.json.
type StatusWriter struct {
	dir   *Dir
	start time.Time
}

// NewStatusWriter returns a writer measuring elapsed time from start.
func NewStatusWriter(dir *Dir, start time.Time) *StatusWriter {
	return &StatusWriter{dir: dir, start: start}
}

// Build converts a snapshot into a Status document.
func (w *StatusWriter) Build(snap story.Snapshot) Status {
	st := Status{
		UpdatedAt:      snap.UpdatedAt,
		ElapsedSeconds: int64(snap.UpdatedAt.Sub(w.start).Round(time.Second).Seconds()),
		Summary:        make(map[story.Status]int, len(story.Statuses)),
		Stories:        make(map[string]StoryStatus, len(snap.Stories)),
	}
	for _, s := range story.Statuses {
		st.Summary[s] = 0
	}

	var total float64
	for _, it := range snap.Items() {
		logs, _ := w.dir.AttemptLogs(it.ID)
		if logs == nil {
			logs = []string{}
		}
		st.Summary[it.Status]++
		total += it.Cost.CostUSD
		st.Stories[it.ID] = StoryStatus{
			Title:    it.Title,
			Status:   it.Status,
			Attempts: it.Attempts,
			CostUSD:  round4(it.Cost.CostUSD),
			Model:    it.Cost.Model,
			Branch:   it.Branch,
			LogFiles: logs,
		}
	}
	st.TotalCostUSD = round4(total)
	return st
}

// Write renders snap and replaces status.json atomically.
func (w *StatusWriter) Write(snap story.Snapshot) error {
	return iojson.WriteFileAtomic(w.dir.StatusPath(), w.Build(snap))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
