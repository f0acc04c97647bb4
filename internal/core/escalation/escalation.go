// Package escalation maps attempt numbers to capability tiers.
//
// A schedule is written "sonnet:3,opus:2": up to three attempts on sonnet,
// then up to two more on opus. Attempt six has no tier and the story is out
// of retries.
package escalation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrMalformedSchedule is returned for schedules that cannot be parsed.
var ErrMalformedSchedule = errors.New("malformed escalation schedule")

// Tier is one (capability tier, attempt budget) pair.
type Tier struct {
	Name     string
	Attempts int
}

// Schedule is an ordered, immutable list of tiers.
type Schedule struct {
	tiers []Tier
}

// Parse parses a schedule. When known is non-empty every tier name must be
// in it.
func Parse(spec string, known []string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("%w: empty", ErrMalformedSchedule)
	}

	var tiers []Tier
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		name, count, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok {
			return Schedule{}, fmt.Errorf("%w: %q has no attempt count (want tier:n)", ErrMalformedSchedule, part)
		}
		if name == "" {
			return Schedule{}, fmt.Errorf("%w: %q has no tier name", ErrMalformedSchedule, part)
		}

		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %q: attempt count is not a number", ErrMalformedSchedule, part)
		}
		if n <= 0 {
			return Schedule{}, fmt.Errorf("%w: %q: attempt count must be positive", ErrMalformedSchedule, part)
		}

		if len(known) > 0 && !slices.Contains(known, name) {
			return Schedule{}, fmt.Errorf("%w: unknown tier %q (known: %s)", ErrMalformedSchedule, name, strings.Join(known, ", "))
		}

		tiers = append(tiers, Tier{Name: name, Attempts: n})
	}

	return Schedule{tiers: tiers}, nil
}

// MustParse is Parse for literals in tests and defaults. It panics on error.
func MustParse(spec string) Schedule {
	s, err := Parse(spec, nil)
	if err != nil {
		panic(err)
	}
	return s
}

// TierFor returns the tier for a 1-based attempt number, walking the
// schedule's cumulative budgets. It returns false when the attempt is
// beyond the total budget.
func (s Schedule) TierFor(attempt int) (string, bool) {
	if attempt < 1 {
		return "", false
	}
	cumulative := 0
	for _, t := range s.tiers {
		cumulative += t.Attempts
		if attempt <= cumulative {
			return t.Name, true
		}
	}
	return "", false
}

// MaxAttempts is the total attempt budget across tiers.
func (s Schedule) MaxAttempts() int {
	total := 0
	for _, t := range s.tiers {
		total += t.Attempts
	}
	return total
}

// Tiers returns a copy of the tiers.
func (s Schedule) Tiers() []Tier {
	return slices.Clone(s.tiers)
}

// IsZero reports whether the schedule was never parsed.
func (s Schedule) IsZero() bool { return len(s.tiers) == 0 }

func (s Schedule) String() string {
	parts := make([]string, len(s.tiers))
	for i, t := range s.tiers {
		parts[i] = t.Name + ":" + strconv.Itoa(t.Attempts)
	}
	return strings.Join(parts, ",")
}
