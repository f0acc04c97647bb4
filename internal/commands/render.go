package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/colonyops/wiggums/internal/core/styles"
	"github.com/colonyops/wiggums/internal/core/story"
)

// storyTable renders one row per story.
func storyTable(items []story.Item) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			it.Title,
			string(it.Status),
			strconv.Itoa(it.Attempts),
			fmt.Sprintf("$%.4f", it.Cost.CostUSD),
			it.Cost.Model,
			it.Branch,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.TableBorderStyle).
		Headers("ID", "TITLE", "STATUS", "ATTEMPTS", "COST", "MODEL", "BRANCH").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styles.TableHeaderStyle
			case col == 2 && row < len(items):
				return styles.StatusStyle(items[row].Status).Padding(0, 1)
			default:
				return styles.TableCellStyle
			}
		})
	return t.Render()
}

// countsLine renders non-zero status counts in lifecycle order.
func countsLine(counts map[story.Status]int) string {
	var parts []string
	for _, s := range story.Statuses {
		if n := counts[s]; n > 0 {
			parts = append(parts, styles.StatusStyle(s).Render(fmt.Sprintf("%d %s", n, strings.ReplaceAll(string(s), "_", " "))))
		}
	}
	if len(parts) == 0 {
		return "no stories"
	}
	return strings.Join(parts, "  ")
}
