// Package wiggums runs a plan: it schedules ready stories onto agent
// processes, merges their branches and persists progress after every
// transition.
package wiggums

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/wiggums/internal/core/agent"
	"github.com/colonyops/wiggums/internal/core/escalation"
	"github.com/colonyops/wiggums/internal/core/eventbus"
	"github.com/colonyops/wiggums/internal/core/logging"
	"github.com/colonyops/wiggums/internal/core/plan"
	"github.com/colonyops/wiggums/internal/core/story"
)

// ErrStalled is wrapped by *StallError.
var ErrStalled = errors.New("run stalled")

// StallError reports a run that stopped with stories that can never start:
// they sit behind a cycle or behind a FAILED or MERGE_CONFLICT dependency.
type StallError struct {
	// Blocked maps each stuck story to its unfinished dependencies.
	Blocked map[string][]string
	// Cycle is one dependency cycle, if any ([A B A]).
	Cycle []string
}

func (e *StallError) Error() string {
	ids := slices.Sorted(maps.Keys(e.Blocked))
	msg := fmt.Sprintf("%s: %s cannot start", ErrStalled, strings.Join(ids, ", "))
	if len(e.Cycle) > 0 {
		msg += "; dependency cycle " + strings.Join(e.Cycle, " -> ")
	}
	return msg
}

func (e *StallError) Unwrap() error { return ErrStalled }

// StopReason says why Run returned.
type StopReason string

const (
	StopDone      StopReason = "done"
	StopCancelled StopReason = "cancelled"
	StopBudget    StopReason = "budget"
	StopDeferred  StopReason = "deferred"
	StopStalled   StopReason = "stalled"
	StopError     StopReason = "error"
)

// Launcher runs one attempt to completion. agent.Runner implements it.
type Launcher interface {
	Launch(ctx context.Context, req agent.Request) agent.Result
}

// Deps are the collaborators of a Supervisor. Ledger, Gate and Bus are
// optional.
type Deps struct {
	Graph      *story.Graph
	Plan       *plan.Document
	Store      story.Store
	Ledger     story.Ledger
	Launcher   Launcher
	Workspaces Workspaces
	Prompts    *agent.PromptBuilder
	Gate       Gate
	Bus        *eventbus.EventBus
	Logger     zerolog.Logger
}

// Options tune a run.
type Options struct {
	RunID         string
	MaxConcurrent int
	Schedule      escalation.Schedule
	// BudgetPerAttempt is passed to the agent as a spend ceiling; zero
	// means none.
	BudgetPerAttempt float64
	// MaxTotalCost stops new launches once this run has spent it; zero
	// means unlimited.
	MaxTotalCost float64
}

// Summary is the outcome of a run.
type Summary struct {
	RunID  string
	Items  []story.Item
	Counts map[story.Status]int
	// Total is the accumulated usage across all stories, including spend
	// from earlier runs.
	Total story.Usage
	// Spent is what this run spent.
	Spent    float64
	Stop     StopReason
	Deferred []string
	Duration time.Duration
}

type completion struct {
	item    story.Item
	attempt int
	tier    string
	ws      Workspace
	result  agent.Result
}

// Supervisor owns the graph for the duration of a run. All graph
// mutations, persistence and merges happen on the goroutine calling Run;
// only agent processes run concurrently.
type Supervisor struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	inflight int
	spent    float64
	deferred map[string]bool

	// halt is set once no further launches may happen.
	halt StopReason
	err  error
}

// New returns a Supervisor.
func New(deps Deps, opts Options) *Supervisor {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Supervisor{
		deps:     deps,
		opts:     opts,
		log:      logging.With(deps.Logger, "supervisor"),
		now:      time.Now,
		deferred: make(map[string]bool),
	}
}

// Run schedules stories until the graph is done or nothing more can start.
// Cancelling ctx stops new launches; attempts already running finish and
// are merged before Run returns. The returned error is a *StallError when
// stories remain that can never start, or an internal error (invalid
// transition, persistence or merge failure).
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	start := s.now()
	ctx = logging.WithRunID(ctx, s.opts.RunID)
	done := make(chan completion, s.opts.MaxConcurrent)

	s.log.Info().Ctx(ctx).
		Int("stories", s.deps.Graph.Len()).
		Int("max_concurrent", s.opts.MaxConcurrent).
		Str("schedule", s.opts.Schedule.String()).
		Msg("run started")

	for {
		if s.halt == "" {
			s.fill(ctx, done)
		}
		if s.inflight == 0 {
			break
		}

		c := <-done
		s.inflight--
		if err := s.finish(ctx, c); err != nil {
			s.fail(ctx, err)
		}
	}

	sum := s.summary(start)
	err := s.err
	if err == nil && sum.Stop == StopStalled {
		err = s.stallError()
	}

	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Error().Err(err)
	} else {
		ev = s.log.Info()
	}
	ev.Ctx(ctx).
		Str("stop", string(sum.Stop)).
		Float64("cost_usd", sum.Total.CostUSD).
		Dur("duration", sum.Duration).
		Msg("run finished")

	if s.deps.Bus != nil {
		s.deps.Bus.PublishRunFinished(eventbus.RunFinishedPayload{
			RunID:    s.opts.RunID,
			Stop:     string(sum.Stop),
			Counts:   sum.Counts,
			Total:    sum.Total,
			Duration: sum.Duration,
		})
	}

	return sum, err
}

// fill launches ready stories, in plan order, until the concurrency limit
// is reached.
func (s *Supervisor) fill(ctx context.Context, done chan<- completion) {
	if ctx.Err() != nil {
		s.stop(StopCancelled)
		return
	}

	for _, it := range s.deps.Graph.ReadySet() {
		if s.inflight >= s.opts.MaxConcurrent {
			return
		}
		if ctx.Err() != nil {
			s.stop(StopCancelled)
			return
		}
		if s.opts.MaxTotalCost > 0 && s.spent >= s.opts.MaxTotalCost {
			s.log.Warn().Ctx(ctx).Float64("spent", s.spent).Float64("limit", s.opts.MaxTotalCost).Msg("run budget reached")
			s.stop(StopBudget)
			return
		}
		if s.deferred[it.ID] {
			continue
		}

		if err := s.launch(ctx, it, done); err != nil {
			s.fail(ctx, err)
			return
		}
		if s.halt != "" {
			return
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, it story.Item, done chan<- completion) error {
	attempt := it.NextAttempt()
	actx := logging.WithAttempt(logging.WithStoryID(ctx, it.ID), attempt)

	tier, ok := s.opts.Schedule.TierFor(attempt)
	if !ok {
		note := fmt.Sprintf("no attempts left: %d used, schedule %s allows %d", it.Attempts, s.opts.Schedule, s.opts.Schedule.MaxAttempts())
		_, err := s.apply(actx, it.ID, story.Exhaust(note))
		return err
	}

	if s.deps.Gate != nil {
		launch, err := s.deps.Gate.Confirm(ctx, GateRequest{
			StoryID:    it.ID,
			Title:      it.Title,
			Attempt:    attempt,
			Tier:       tier,
			RetryNotes: it.RetryNotes,
		})
		switch {
		case err != nil && ctx.Err() != nil:
			s.stop(StopCancelled)
			return nil
		case errors.Is(err, ErrGateClosed):
			s.log.Info().Ctx(actx).Msg("operator stopped the run")
			s.stop(StopCancelled)
			return nil
		case err != nil:
			return err
		case !launch:
			s.log.Info().Ctx(actx).Msg("launch declined, deferring story")
			s.deferred[it.ID] = true
			return nil
		}
	}

	var text string
	if s.deps.Plan != nil {
		if ps, ok := s.deps.Plan.Story(it.ID); ok {
			text = ps.Body
		}
	}

	branch := story.BranchName(it.ID, attempt)
	prompt, err := s.deps.Prompts.Build(agent.PromptData{
		StoryID:    it.ID,
		Title:      it.Title,
		StoryText:  text,
		Branch:     branch,
		Attempt:    attempt,
		RetryNotes: it.RetryNotes,
	})
	if err != nil {
		return fmt.Errorf("build prompt for %s: %w", it.ID, err)
	}

	it, err = s.apply(actx, it.ID, story.Start(branch))
	if err != nil {
		return err
	}

	ws, err := s.deps.Workspaces.Prepare(context.WithoutCancel(actx), it, attempt)
	if err != nil {
		s.log.Error().Ctx(actx).Err(err).Msg("prepare workspace")
		reason := "workspace: " + err.Error()
		after, aerr := s.apply(actx, it.ID, story.Fail(reason, story.Usage{}))
		if aerr != nil {
			return aerr
		}
		now := s.now()
		s.record(actx, story.AttemptRecord{
			RunID:      s.opts.RunID,
			StoryID:    it.ID,
			Attempt:    attempt,
			Tier:       tier,
			Branch:     branch,
			Outcome:    string(agent.KindHardFailure),
			ExitCode:   -1,
			Note:       reason,
			StartedAt:  now,
			FinishedAt: now,
		})
		c := completion{item: it, attempt: attempt, tier: tier, result: agent.Result{ExitCode: -1}}
		s.publishFinished(c, agent.Outcome{Kind: agent.KindHardFailure, Reason: reason}, after.Status, nil)
		return nil
	}

	req := agent.Request{
		StoryID: it.ID,
		Title:   it.Title,
		Attempt: attempt,
		Tier:    tier,
		Prompt:  prompt,
		Branch:  ws.Branch,
		Workdir: ws.Path,
		Budget:  s.opts.BudgetPerAttempt,
	}

	s.log.Info().Ctx(actx).Str("tier", tier).Str("branch", ws.Branch).Str("base", ws.Base).Msg("launching attempt")
	if s.deps.Bus != nil {
		s.deps.Bus.PublishAttemptStarted(eventbus.AttemptStartedPayload{
			RunID:    s.opts.RunID,
			StoryID:  it.ID,
			Title:    it.Title,
			Attempt:  attempt,
			Tier:     tier,
			Branch:   ws.Branch,
			Worktree: ws.Path,
		})
	}

	s.inflight++
	lctx := context.WithoutCancel(actx)
	go func() {
		res := s.deps.Launcher.Launch(lctx, req)
		done <- completion{item: it, attempt: attempt, tier: tier, ws: ws, result: res}
	}()

	return nil
}

// finish handles one completed attempt: checkpoint, release, then merge,
// retry or fail.
func (s *Supervisor) finish(ctx context.Context, c completion) error {
	id := c.item.ID
	actx := logging.WithAttempt(logging.WithStoryID(ctx, id), c.attempt)
	gctx := context.WithoutCancel(actx)
	res := c.result
	out := res.Outcome
	usage := res.Usage
	if usage.Model == "" {
		usage.Model = c.tier
	}

	s.log.Debug().Ctx(actx).
		Str("outcome", string(out.Kind)).
		Int("exit_code", res.ExitCode).
		Str("reason", out.Reason).
		Float64("cost_usd", usage.CostUSD).
		Dur("duration", res.Duration).
		Msg("attempt finished")

	if err := s.deps.Workspaces.Checkpoint(gctx, c.ws, fmt.Sprintf("wiggums: %s attempt %d", id, c.attempt)); err != nil {
		s.log.Warn().Ctx(actx).Err(err).Msg("checkpoint workspace")
		if out.Kind == agent.KindSuccess {
			out = agent.Outcome{Kind: agent.KindHardFailure, Reason: "checkpoint failed: " + err.Error()}
		}
	}
	if err := s.deps.Workspaces.Release(gctx, c.ws); err != nil {
		s.log.Warn().Ctx(actx).Err(err).Str("path", c.ws.Path).Msg("release workspace")
	}

	s.spent += usage.CostUSD

	var (
		ev        story.Event
		conflicts []string
		detail    string
	)
	switch out.Kind {
	case agent.KindSuccess:
		mo, err := s.deps.Workspaces.Merge(gctx, c.ws)
		if err != nil {
			return fmt.Errorf("merge %s: %w", c.ws.Branch, err)
		}
		if mo.Conflict {
			ev = story.Conflict(usage)
			conflicts = mo.Files
			detail = "merge conflict"
		} else {
			ev = story.Complete(usage)
		}
	case agent.KindRetryNeeded:
		detail = out.Note
		if _, ok := s.opts.Schedule.TierFor(c.attempt + 1); ok {
			ev = story.Retry(out.Note, usage)
		} else {
			ev = story.Fail(out.Note, usage)
			detail = fmt.Sprintf("retry limit reached after %d attempts: %s", c.attempt, out.Note)
		}
	default:
		detail = out.Reason
		ev = story.Fail(out.Reason, usage)
	}

	it, err := s.apply(actx, id, ev)
	if err != nil {
		return err
	}

	note := out.Reason
	if out.Kind == agent.KindRetryNeeded {
		note = out.Note
	}
	s.record(actx, story.AttemptRecord{
		RunID:      s.opts.RunID,
		StoryID:    id,
		Attempt:    c.attempt,
		Tier:       c.tier,
		Branch:     c.ws.Branch,
		Outcome:    string(out.Kind),
		ExitCode:   res.ExitCode,
		Note:       note,
		Usage:      usage,
		LogPath:    res.LogPath,
		StartedAt:  res.Started,
		FinishedAt: res.Started.Add(res.Duration),
	})

	out.Reason = detail
	c.result.Usage = usage
	s.publishFinished(c, out, it.Status, conflicts)
	return nil
}

// apply is the only place the supervisor mutates the graph. Every accepted
// transition is persisted before it is announced.
func (s *Supervisor) apply(ctx context.Context, id string, ev story.Event) (story.Item, error) {
	before, _ := s.deps.Graph.Get(id)

	it, err := s.deps.Graph.Apply(id, ev)
	if err != nil {
		return story.Item{}, err
	}

	snap := s.deps.Graph.Snapshot(s.now())
	if err := s.deps.Store.Save(context.WithoutCancel(ctx), snap); err != nil {
		return story.Item{}, fmt.Errorf("persist snapshot: %w", err)
	}

	s.log.Info().Ctx(ctx).
		Str("from", string(before.Status)).
		Str("to", string(it.Status)).
		Str("event", string(ev.Kind)).
		Msg("story transitioned")

	if s.deps.Bus != nil {
		s.deps.Bus.PublishStoryTransitioned(eventbus.StoryTransitionedPayload{
			RunID:    s.opts.RunID,
			Item:     it,
			From:     before.Status,
			Kind:     ev.Kind,
			Snapshot: snap,
		})
	}

	return it, nil
}

func (s *Supervisor) record(ctx context.Context, rec story.AttemptRecord) {
	if s.deps.Ledger == nil {
		return
	}
	if err := s.deps.Ledger.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warn().Ctx(ctx).Err(err).Msg("record attempt")
	}
}

func (s *Supervisor) publishFinished(c completion, out agent.Outcome, status story.Status, conflicts []string) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.PublishAttemptFinished(eventbus.AttemptFinishedPayload{
		RunID:         s.opts.RunID,
		StoryID:       c.item.ID,
		Attempt:       c.attempt,
		Tier:          c.tier,
		Outcome:       string(out.Kind),
		Detail:        out.Reason,
		ExitCode:      c.result.ExitCode,
		Usage:         c.result.Usage,
		Duration:      c.result.Duration,
		LogPath:       c.result.LogPath,
		Status:        status,
		ConflictFiles: conflicts,
	})
}

// stop prevents further launches. The first reason wins.
func (s *Supervisor) stop(reason StopReason) {
	if s.halt == "" {
		s.halt = reason
	}
}

// fail records an internal error and stops launching. In-flight attempts
// still drain.
func (s *Supervisor) fail(ctx context.Context, err error) {
	s.log.Error().Ctx(ctx).Err(err).Int("in_flight", s.inflight).Msg("internal error, draining")
	if s.err == nil {
		s.err = err
	}
	s.halt = StopError
}

func (s *Supervisor) summary(start time.Time) Summary {
	g := s.deps.Graph
	sum := Summary{
		RunID:    s.opts.RunID,
		Items:    g.Items(),
		Counts:   g.Counts(),
		Total:    g.TotalCost(),
		Spent:    s.spent,
		Duration: s.now().Sub(start),
	}
	for _, it := range sum.Items {
		if s.deferred[it.ID] && it.Status == story.StatusPending {
			sum.Deferred = append(sum.Deferred, it.ID)
		}
	}

	switch {
	case s.err != nil:
		sum.Stop = StopError
	case g.IsDone():
		sum.Stop = StopDone
	case s.halt != "":
		sum.Stop = s.halt
	case s.onlyDeferredRemain():
		sum.Stop = StopDeferred
	default:
		sum.Stop = StopStalled
	}
	return sum
}

// onlyDeferredRemain reports whether every unfinished story was deferred
// or waits, directly or transitively, on one that was.
func (s *Supervisor) onlyDeferredRemain() bool {
	if len(s.deferred) == 0 {
		return false
	}

	g := s.deps.Graph
	memo := make(map[string]bool)
	var waiting func(id string, seen map[string]bool) bool
	waiting = func(id string, seen map[string]bool) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if s.deferred[id] {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		for _, dep := range g.BlockedBy(id) {
			if waiting(dep, seen) {
				memo[id] = true
				return true
			}
		}
		memo[id] = false
		return false
	}

	for _, it := range g.Items() {
		if it.Status.IsTerminal() {
			continue
		}
		if !waiting(it.ID, make(map[string]bool)) {
			return false
		}
	}
	return true
}

func (s *Supervisor) stallError() *StallError {
	g := s.deps.Graph
	e := &StallError{
		Blocked: make(map[string][]string),
		Cycle:   g.FindCycle(),
	}
	for _, it := range g.Items() {
		if !it.Status.IsTerminal() {
			e.Blocked[it.ID] = g.BlockedBy(it.ID)
		}
	}
	return e
}
