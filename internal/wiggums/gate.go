package wiggums

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrGateClosed is returned by a Gate whose operator asked to stop the run.
var ErrGateClosed = errors.New("gate closed by operator")

// GateRequest describes the attempt awaiting confirmation.
type GateRequest struct {
	StoryID    string
	Title      string
	Attempt    int
	Tier       string
	RetryNotes []string
}

// Gate confirms each launch. Returning false skips the story for the rest
// of the run without failing it.
type Gate interface {
	Confirm(ctx context.Context, req GateRequest) (bool, error)
}

// HuhGate prompts on the terminal before each launch.
type HuhGate struct{}

// Confirm shows a yes/no prompt. Aborting the prompt (ctrl+c) returns
// ErrGateClosed.
func (HuhGate) Confirm(ctx context.Context, req GateRequest) (bool, error) {
	launch := true

	desc := req.Title
	if n := len(req.RetryNotes); n > 0 {
		desc += "\nLast attempt: " + firstLine(req.RetryNotes[n-1])
	}

	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Launch %s attempt %d on %s?", req.StoryID, req.Attempt, req.Tier)).
			Description(desc).
			Affirmative("Launch").
			Negative("Skip").
			Value(&launch),
	)).RunWithContext(ctx)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrGateClosed
		}
		return false, fmt.Errorf("confirm launch: %w", err)
	}

	return launch, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
