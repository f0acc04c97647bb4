package agent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/wiggums/internal/core/logging"
	"github.com/colonyops/wiggums/internal/core/runlog"
	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/pkg/executil"
	"github.com/colonyops/wiggums/pkg/tmpl"
)

// Request describes one attempt to run.
type Request struct {
	StoryID string
	Title   string
	Attempt int
	Tier    string
	Prompt  string
	Branch  string
	Workdir string
	// Budget is the per-attempt spend ceiling in USD; zero means none.
	Budget float64
}

// Result is what an attempt produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Text is the output that was classified.
	Text     string
	Usage    story.Usage
	Outcome  Outcome
	LogPath  string
	Started  time.Time
	Duration time.Duration
}

// RunnerConfig configures the agent command line.
type RunnerConfig struct {
	Command string
	// Args are templates rendered per attempt with ArgData.
	Args []string
	// BudgetArgs are appended when the request carries a budget.
	BudgetArgs []string
	Env        map[string]string
	// OutputLimit caps captured output per stream; zero means
	// executil.DefaultOutputLimit. Stdout keeps its tail.
	OutputLimit int64
}

// ArgData is the data available to argument templates.
type ArgData struct {
	StoryID string
	Attempt int
	Tier    string
	Branch  string
	Workdir string
	Budget  string
}

// Runner launches agent processes.
type Runner struct {
	exec executil.Executor
	cfg  RunnerConfig
	logs *runlog.Dir
	log  zerolog.Logger
	now  func() time.Time
}

// NewRunner returns a Runner. logs may be nil to skip attempt log files.
func NewRunner(exec executil.Executor, cfg RunnerConfig, logs *runlog.Dir, log zerolog.Logger) *Runner {
	return &Runner{
		exec: exec,
		cfg:  cfg,
		logs: logs,
		log:  logging.With(log, "agent"),
		now:  time.Now,
	}
}

// CommandLine renders the argument vector for req.
func (r *Runner) CommandLine(req Request) ([]string, error) {
	data := ArgData{
		StoryID: req.StoryID,
		Attempt: req.Attempt,
		Tier:    req.Tier,
		Branch:  req.Branch,
		Workdir: req.Workdir,
	}

	templates := r.cfg.Args
	if req.Budget > 0 {
		data.Budget = strconv.FormatFloat(req.Budget, 'f', -1, 64)
		templates = append(slices.Clone(templates), r.cfg.BudgetArgs...)
	}

	args := make([]string, 0, len(templates))
	for _, t := range templates {
		arg, err := tmpl.Render(t, data)
		if err != nil {
			return nil, fmt.Errorf("render arg %q: %w", t, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

func (r *Runner) env(req Request) []string {
	env := []string{
		"WIGGUMS_STORY_ID=" + req.StoryID,
		"WIGGUMS_ATTEMPT=" + strconv.Itoa(req.Attempt),
		"WIGGUMS_BRANCH=" + req.Branch,
		"WIGGUMS_WORKTREE=" + req.Workdir,
		"WIGGUMS_TIER=" + req.Tier,
	}
	for _, k := range slices.Sorted(maps.Keys(r.cfg.Env)) {
		env = append(env, k+"="+r.cfg.Env[k])
	}
	return env
}

// Launch runs one attempt to completion and classifies it. Failures to
// start the process are reported as a hard failure with exit status -1,
// never as an error.
func (r *Runner) Launch(ctx context.Context, req Request) Result {
	log := r.log.With().
		Str("story_id", req.StoryID).
		Int("attempt", req.Attempt).
		Str("tier", req.Tier).
		Logger()

	res := Result{Started: r.now()}

	args, err := r.CommandLine(req)
	if err != nil {
		res.ExitCode = -1
		res.Usage = story.Usage{Model: req.Tier}
		res.Outcome = Outcome{Kind: KindHardFailure, Reason: err.Error()}
		return res
	}

	log.Debug().Strs("args", args).Str("workdir", req.Workdir).Msg("launching agent")

	proc, err := r.exec.RunProcess(ctx, executil.Process{
		Dir:   req.Workdir,
		Cmd:   r.cfg.Command,
		Args:  args,
		Env:   r.env(req),
		Stdin: strings.NewReader(req.Prompt),

		OutputLimit: r.cfg.OutputLimit,
	})
	res.Duration = r.now().Sub(res.Started)
	res.Stdout = proc.Stdout
	res.Stderr = proc.Stderr
	res.ExitCode = proc.ExitCode
	if proc.StdoutDropped > 0 {
		log.Warn().Int64("dropped_bytes", proc.StdoutDropped).Msg("agent stdout truncated, kept the tail")
	}

	res.Text, res.Usage = ParseOutput(string(proc.Stdout), req.Tier)
	if err != nil {
		res.ExitCode = -1
		res.Outcome = Outcome{Kind: KindHardFailure, Reason: err.Error()}
	} else {
		res.Outcome = Classify(req.StoryID, res.ExitCode, res.Text)
	}

	log.Debug().
		Int("exit_code", res.ExitCode).
		Str("outcome", string(res.Outcome.Kind)).
		Str("reason", res.Outcome.Reason).
		Float64("cost_usd", res.Usage.CostUSD).
		Dur("duration", res.Duration).
		Msg("agent exited")

	if r.logs != nil {
		path, werr := r.logs.WriteAttempt(runlog.AttemptLog{
			StoryID:   req.StoryID,
			Attempt:   req.Attempt,
			Tier:      req.Tier,
			Branch:    req.Branch,
			Command:   append([]string{r.cfg.Command}, args...),
			Stdout:    proc.Stdout,
			Stderr:    proc.Stderr,
			ExitCode:  res.ExitCode,
			StartedAt: res.Started,
			Duration:  res.Duration,
		})
		if werr != nil {
			log.Warn().Err(werr).Msg("failed to write attempt log")
		}
		res.LogPath = path
	}

	return res
}
