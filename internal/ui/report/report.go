// Package report renders the training statistics as a table in the terminal.
package report

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/apagan/internal/stats"
	"golang.org/x/term"
	"os"
	"strings"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	groupStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	alertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// defaultWidth is used when the output is not a terminal.
const defaultWidth = 100

var columns = []string{"Name", "Mean", "Std", "Min", "Max", "N"}

// Render the summaries as a table of the given width. Summaries with non-finite values are highlighted.
func Render(title string, summaries []stats.Summary, width int) string {
	rows := make([][]string, 0, len(summaries)+1)
	rows = append(rows, columns)
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Name,
			fmt.Sprintf("%.4g", s.Mean),
			fmt.Sprintf("%.4g", s.Std),
			fmt.Sprintf("%.4g", s.Min),
			fmt.Sprintf("%.4g", s.Max),
			fmt.Sprintf("%d", s.Count),
		})
	}

	// Column widths: the name column takes what is left.
	widths := make([]int, len(columns))
	for _, row := range rows {
		for ii, cell := range row {
			widths[ii] = max(widths[ii], lipgloss.Width(cell)+cellStyle.GetPaddingRight())
		}
	}
	others := 0
	for _, w := range widths[1:] {
		others += w
	}
	widths[0] = max(min(widths[0], width-others), len(columns[0])+1)

	var lines []string
	lines = append(lines, titleStyle.Render(title))
	previousGroup := ""
	for rowIdx, row := range rows {
		var style lipgloss.Style
		switch {
		case rowIdx == 0:
			style = headerStyle
		case summaries[rowIdx-1].NonFinite > 0:
			style = alertStyle
		default:
			style = lipgloss.NewStyle()
		}
		if rowIdx > 0 {
			// Names are grouped by their first component, e.g. "Loss".
			group := row[0]
			if idx := strings.Index(group, "/"); idx >= 0 {
				group = group[:idx]
			}
			if group != previousGroup && previousGroup != "" {
				lines = append(lines, groupStyle.Render(strings.Repeat("─", min(width, sum(widths)))))
			}
			previousGroup = group
		}
		cells := make([]string, len(row))
		for ii, cell := range row {
			cells[ii] = cellStyle.Width(widths[ii]).MaxWidth(widths[ii]).Inherit(style).Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sum(values []int) (total int) {
	for _, v := range values {
		total += v
	}
	return
}

// TerminalWidth returns the width of the terminal, or a default if stdout is not a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Print renders the summaries to the standard output, sized to the terminal.
func Print(title string, summaries []stats.Summary) {
	fmt.Println(Render(title, summaries, TerminalWidth()))
}
