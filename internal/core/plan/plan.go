// Package plan parses plan documents into story definitions.
//
// A plan is markdown with one block per story:
//
//	## STORY-001 — Add the parser
//
//	### Dependencies
//	- None
//
//	### Task
//	...
//
// The block runs from its header to the line before the next story header
// and is handed verbatim to the agent as the task text.
package plan

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoStories is returned when a plan contains no story headers.
	ErrNoStories = errors.New("plan contains no stories")
	// ErrDuplicateID is returned when two blocks share an identifier.
	ErrDuplicateID = errors.New("duplicate story id")
	// ErrUnknownDependency is returned when a story depends on an id that
	// is not defined in the plan.
	ErrUnknownDependency = errors.New("unknown dependency")
)

var (
	idPattern     = regexp.MustCompile(`\b[A-Z][A-Z0-9]*-\d+\b`)
	headerPattern = regexp.MustCompile(`^##\s+([A-Z][A-Z0-9]*-\d+)\s*(?:—|--|-|:)\s*(.+?)\s*$`)
	depsPattern   = regexp.MustCompile(`(?i)^###\s+dependencies\s*$`)
)

// Story is one parsed plan block.
type Story struct {
	ID        string
	Title     string
	DependsOn []string
	// Body is the full block including its header, trimmed.
	Body string
	// Line is the 1-based line of the header in the source document.
	Line int
}

// Document is a parsed plan.
type Document struct {
	Preamble string
	Stories  []Story
}

// IDs returns story identifiers in plan order.
func (d *Document) IDs() []string {
	ids := make([]string, len(d.Stories))
	for i, s := range d.Stories {
		ids[i] = s.ID
	}
	return ids
}

// Story looks up a story by id.
func (d *Document) Story(id string) (Story, bool) {
	for _, s := range d.Stories {
		if s.ID == id {
			return s, true
		}
	}
	return Story{}, false
}

// Parse parses plan text. Structural problems (duplicate ids, dependencies on
// undefined ids, an empty plan) are returned together as a joined error so a
// caller can report all of them at once.
func Parse(text string) (*Document, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	type block struct {
		start int
		id    string
		title string
	}

	var blocks []block
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			blocks = append(blocks, block{start: i, id: m[1], title: m[2]})
		}
	}

	if len(blocks) == 0 {
		return nil, ErrNoStories
	}

	doc := &Document{
		Preamble: strings.TrimSpace(strings.Join(lines[:blocks[0].start], "\n")),
		Stories:  make([]Story, 0, len(blocks)),
	}

	var errs []error
	seen := make(map[string]int, len(blocks))
	for i, b := range blocks {
		end := len(lines)
		if i+1 < len(blocks) {
			end = blocks[i+1].start
		}
		body := lines[b.start:end]

		if first, ok := seen[b.id]; ok {
			errs = append(errs, fmt.Errorf("%w: %s (lines %d and %d)", ErrDuplicateID, b.id, first, b.start+1))
			continue
		}
		seen[b.id] = b.start + 1

		doc.Stories = append(doc.Stories, Story{
			ID:        b.id,
			Title:     b.title,
			DependsOn: parseDependencies(body[1:]),
			Body:      strings.TrimSpace(strings.Join(body, "\n")),
			Line:      b.start + 1,
		})
	}

	for _, s := range doc.Stories {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s depends on %s (line %d)", ErrUnknownDependency, s.ID, dep, s.Line))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return doc, nil
}

// parseDependencies reads the "### Dependencies" section of a block. Every
// bullet line contributes the ids it mentions; a "None" line or a missing
// section yields no dependencies.
func parseDependencies(lines []string) []string {
	start := -1
	for i, line := range lines {
		if depsPattern.MatchString(strings.TrimSpace(line)) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	var deps []string
	seen := map[string]bool{}
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "###") || strings.HasPrefix(trimmed, "---") {
			break
		}
		if !isBullet(trimmed) {
			continue
		}
		for _, id := range idPattern.FindAllString(trimmed, -1) {
			if !seen[id] {
				seen[id] = true
				deps = append(deps, id)
			}
		}
	}
	return deps
}

func isBullet(s string) bool {
	return strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") || strings.HasPrefix(s, "+ ")
}
