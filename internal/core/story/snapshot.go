package story

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// ErrNoSnapshot is returned by a Store that has nothing persisted yet.
var ErrNoSnapshot = errors.New("no snapshot")

// ItemState is the persisted form of one story.
type ItemState struct {
	Position   int      `json:"position"`
	Title      string   `json:"title"`
	DependsOn  []string `json:"depends_on"`
	Status     Status   `json:"status"`
	Attempts   int      `json:"attempts"`
	RetryNotes []string `json:"retry_notes"`
	Branch     string   `json:"branch,omitempty"`
	Cost       Usage    `json:"cost"`
}

// Snapshot is the durable run state, keyed by story id.
type Snapshot struct {
	Stories   map[string]ItemState `json:"stories"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Items returns the persisted stories ordered by plan position.
func (s Snapshot) Items() []Item {
	items := make([]Item, 0, len(s.Stories))
	for id, st := range s.Stories {
		items = append(items, Item{
			ID:         id,
			Title:      st.Title,
			DependsOn:  st.DependsOn,
			Status:     st.Status,
			Attempts:   st.Attempts,
			RetryNotes: st.RetryNotes,
			Branch:     st.Branch,
			Cost:       st.Cost,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := s.Stories[items[i].ID].Position, s.Stories[items[j].ID].Position
		if pi != pj {
			return pi < pj
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Store persists snapshots.
type Store interface {
	// Load returns the last saved snapshot or ErrNoSnapshot.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snap Snapshot) error
}

// Snapshot captures the current graph state.
func (g *Graph) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Stories:   make(map[string]ItemState, len(g.items)),
		UpdatedAt: now,
	}
	for i, it := range g.items {
		c := it.clone()
		snap.Stories[it.ID] = ItemState{
			Position:   i,
			Title:      c.Title,
			DependsOn:  c.DependsOn,
			Status:     c.Status,
			Attempts:   c.Attempts,
			RetryNotes: c.RetryNotes,
			Branch:     c.Branch,
			Cost:       c.Cost,
		}
	}
	return snap
}

// ReconcileReport describes what Reconcile carried over.
type ReconcileReport struct {
	// Restored ids had persisted state applied.
	Restored []string
	// Added ids are new in the plan and start PENDING.
	Added []string
	// Dropped ids were persisted but are no longer in the plan.
	Dropped []string
	// Requeued ids were persisted as RUNNING (an interrupted attempt) and
	// are restored as PENDING with their attempt count unchanged.
	Requeued []string
}

// Reconcile applies persisted state onto a freshly parsed graph. Titles and
// dependencies always come from the plan; status, attempts, notes, branch
// and cost come from the snapshot. The graph is unchanged if the snapshot
// holds an invalid status.
func (g *Graph) Reconcile(snap Snapshot) (ReconcileReport, error) {
	return g.apply(snap, true)
}

// Restore applies persisted state like Reconcile but keeps RUNNING stories
// running. It is for observers of a run that may still be live; Requeued
// is always empty.
func (g *Graph) Restore(snap Snapshot) (ReconcileReport, error) {
	return g.apply(snap, false)
}

func (g *Graph) apply(snap Snapshot, requeue bool) (ReconcileReport, error) {
	var report ReconcileReport

	for id, st := range snap.Stories {
		if _, ok := g.index[id]; ok && !st.Status.IsValid() {
			return ReconcileReport{}, fmt.Errorf("snapshot story %s: invalid status %q", id, st.Status)
		}
	}

	for _, it := range g.items {
		st, ok := snap.Stories[it.ID]
		if !ok {
			report.Added = append(report.Added, it.ID)
			continue
		}

		it.Status = st.Status
		if requeue && it.Status == StatusRunning {
			it.Status = StatusPending
			report.Requeued = append(report.Requeued, it.ID)
		}
		it.Attempts = st.Attempts
		it.RetryNotes = slices.Clone(st.RetryNotes)
		it.Branch = st.Branch
		it.Cost = st.Cost
		report.Restored = append(report.Restored, it.ID)
	}

	for id := range snap.Stories {
		if _, ok := g.index[id]; !ok {
			report.Dropped = append(report.Dropped, id)
		}
	}
	sort.Strings(report.Dropped)

	return report, nil
}
