package story

import (
	"fmt"
	"slices"

	"github.com/colonyops/wiggums/internal/core/plan"
)

// Graph is the dependency graph of stories. Items live in an arena in plan
// order; edges are identifiers resolved through the index.
//
// Graph is not safe for concurrent use. The supervisor loop owns it and
// hands out copies.
type Graph struct {
	items []*Item
	index map[string]int
}

// New builds a graph from items. Ids must be unique and every dependency
// must name an item in the set. Items with an empty status start PENDING.
func New(items []Item) (*Graph, error) {
	g := &Graph{
		items: make([]*Item, 0, len(items)),
		index: make(map[string]int, len(items)),
	}

	for _, it := range items {
		if _, ok := g.index[it.ID]; ok {
			return nil, fmt.Errorf("%w: %s", plan.ErrDuplicateID, it.ID)
		}
		c := it.clone()
		if c.Status == "" {
			c.Status = StatusPending
		}
		if !c.Status.IsValid() {
			return nil, fmt.Errorf("story %s: invalid status %q", c.ID, c.Status)
		}
		g.index[c.ID] = len(g.items)
		g.items = append(g.items, &c)
	}

	for _, it := range g.items {
		for _, dep := range it.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", plan.ErrUnknownDependency, it.ID, dep)
			}
		}
	}

	return g, nil
}

// FromPlan builds a fresh all-PENDING graph from a parsed plan.
func FromPlan(doc *plan.Document) (*Graph, error) {
	items := make([]Item, len(doc.Stories))
	for i, s := range doc.Stories {
		items[i] = Item{
			ID:        s.ID,
			Title:     s.Title,
			DependsOn: s.DependsOn,
			Status:    StatusPending,
		}
	}
	return New(items)
}

// Len returns the number of stories.
func (g *Graph) Len() int { return len(g.items) }

// Get returns a copy of the story with id.
func (g *Graph) Get(id string) (Item, bool) {
	i, ok := g.index[id]
	if !ok {
		return Item{}, false
	}
	return g.items[i].clone(), true
}

// Items returns copies of all stories in plan order.
func (g *Graph) Items() []Item {
	out := make([]Item, len(g.items))
	for i, it := range g.items {
		out[i] = it.clone()
	}
	return out
}

// ReadySet returns every PENDING story whose dependencies are all
// COMPLETED, in plan order.
func (g *Graph) ReadySet() []Item {
	var ready []Item
	for _, it := range g.items {
		if it.Status == StatusPending && g.depsCompleted(it) {
			ready = append(ready, it.clone())
		}
	}
	return ready
}

func (g *Graph) depsCompleted(it *Item) bool {
	for _, dep := range it.DependsOn {
		if g.items[g.index[dep]].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// IsDone reports whether every story is in a terminal status.
func (g *Graph) IsDone() bool {
	for _, it := range g.items {
		if !it.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Running returns the number of RUNNING stories.
func (g *Graph) Running() int {
	return g.Counts()[StatusRunning]
}

// Counts returns the number of stories per status.
func (g *Graph) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, it := range g.items {
		counts[it.Status]++
	}
	return counts
}

// TotalCost sums usage across every story.
func (g *Graph) TotalCost() Usage {
	var total Usage
	for _, it := range g.items {
		total.InputTokens += it.Cost.InputTokens
		total.OutputTokens += it.Cost.OutputTokens
		total.CostUSD += it.Cost.CostUSD
	}
	return total
}

// BlockedBy returns the dependencies of id that are not yet COMPLETED.
func (g *Graph) BlockedBy(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var blocked []string
	for _, dep := range g.items[i].DependsOn {
		if g.items[g.index[dep]].Status != StatusCompleted {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

// FindCycle returns one dependency cycle as a path that starts and ends with
// the same id (A -> B -> A is [A B A]), or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)

	color := make([]int, len(g.items))
	parent := make([]int, len(g.items))

	var cycle []string
	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		for _, dep := range g.items[i].DependsOn {
			j := g.index[dep]
			switch color[j] {
			case grey:
				cycle = []string{g.items[j].ID}
				for k := i; k != j; k = parent[k] {
					cycle = append(cycle, g.items[k].ID)
				}
				cycle = append(cycle, g.items[j].ID)
				slices.Reverse(cycle)
				return true
			case white:
				parent[j] = i
				if visit(j) {
					return true
				}
			}
		}
		color[i] = black
		return false
	}

	for i := range g.items {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

// Waves groups the stories that are not yet COMPLETED into launch waves,
// assuming every attempt succeeds: wave 0 is ready now, wave n depends only
// on completed stories and earlier waves. Stories that can never launch
// (behind a cycle or a FAILED/MERGE_CONFLICT dependency) are returned
// separately in plan order.
func (g *Graph) Waves() (waves [][]string, unschedulable []string) {
	placed := make(map[string]bool, len(g.items))
	for _, it := range g.items {
		if it.Status == StatusCompleted {
			placed[it.ID] = true
		}
	}

	for {
		var wave []string
		for _, it := range g.items {
			if placed[it.ID] || it.Status.IsTerminal() {
				continue
			}
			ok := true
			for _, dep := range it.DependsOn {
				if !placed[dep] {
					ok = false
					break
				}
			}
			if ok {
				wave = append(wave, it.ID)
			}
		}
		if len(wave) == 0 {
			break
		}
		for _, id := range wave {
			placed[id] = true
		}
		waves = append(waves, wave)
	}

	for _, it := range g.items {
		if !placed[it.ID] && !it.Status.IsTerminal() {
			unschedulable = append(unschedulable, it.ID)
		}
	}
	return waves, unschedulable
}

// Apply is the only mutation path. It validates ev against the story's
// current status and returns a copy of the updated story. Rejected events
// leave the graph unchanged and return a *TransitionError.
func (g *Graph) Apply(id string, ev Event) (Item, error) {
	i, ok := g.index[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownStory, id)
	}
	it := g.items[i]

	reject := func(reason string) (Item, error) {
		return Item{}, &TransitionError{ID: id, From: it.Status, Event: ev.Kind, Reason: reason}
	}

	switch ev.Kind {
	case EventStart:
		if it.Status != StatusPending {
			return reject("")
		}
		if blocked := g.BlockedBy(id); len(blocked) > 0 {
			return reject(fmt.Sprintf("dependencies not completed: %v", blocked))
		}
		if ev.Branch == "" {
			return reject("missing branch")
		}
		it.Branch = ev.Branch
	case EventComplete, EventConflict, EventRetry, EventFail:
		if it.Status != StatusRunning {
			return reject("")
		}
	case EventExhaust:
		if it.Status != StatusPending {
			return reject("")
		}
	case EventReset:
		if it.Status != StatusRunning && it.Status != StatusFailed && it.Status != StatusMergeConflict {
			return reject("")
		}
	default:
		return reject("unknown event")
	}

	if ev.finishing() {
		it.Attempts++
		it.Cost.Add(ev.Usage)
	}
	if ev.Note != "" && (ev.Kind == EventRetry || ev.Kind == EventFail || ev.Kind == EventExhaust) {
		it.RetryNotes = append(it.RetryNotes, ev.Note)
	}
	it.Status = ev.target()

	return it.clone(), nil
}
