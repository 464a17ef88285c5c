package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/virtualcafe/cafe/internal/tutor"
	"github.com/virtualcafe/cafe/internal/utils"
)

// HelpView renders the room command reference.
func HelpView() string {
	rows := make([][]string, 0, len(CommandHelp))
	for _, c := range CommandHelp {
		rows = append(rows, []string{c[0], c[1]})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Command", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// HistoryView renders the tutor transcript, newest last. Answers are wrapped
// to width columns.
func HistoryView(history []tutor.Exchange, width int) string {
	if len(history) == 0 {
		return MutedStyle.Render("No conversations yet")
	}
	if width < 20 {
		width = 60
	}

	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Options.SeparateRows = true
	t.Style().Color.Header = text.Colors{text.Bold, text.FgYellow}
	t.AppendHeader(prettytable.Row{"#", "When", "You", "AI Tutor"})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: width / 3},
		{Number: 4, WidthMax: width},
	})

	for i, ex := range history {
		t.AppendRow(prettytable.Row{i + 1, formatWhen(ex.Timestamp), ex.User, ex.Bot})
	}
	t.AppendFooter(prettytable.Row{"", "", "Total", fmt.Sprintf("%d exchanges", len(history))})

	return t.Render()
}

func formatWhen(stamp string) string {
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return utils.TruncateString(stamp, 16)
	}
	return at.Local().Format("Jan 02 15:04")
}

// RoomInfo is the banner shown when joining a room.
type RoomInfo struct {
	Code     string
	Link     string
	Identity string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Study Room %s\n\n%s You:   %s\n%s Link:  %s",
		IconRoom, BoldStyle.Foreground(Primary).Render(r.Code),
		IconPeer, r.Identity,
		IconLink, MutedStyle.Render(r.Link),
	)
	return SuccessBoxStyle.Render(content)
}

// SessionSummaryView renders the result of a completed study session.
func SessionSummaryView(room string, minutes int, saved bool) string {
	status := SuccessStyle.Render("Saved")
	if !saved {
		status = ErrorStyle.Render("Not saved")
	}
	if room == "" {
		room = MutedStyle.Render("(solo)")
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Success)).
		Rows(
			[]string{"Room", room},
			[]string{"Focused", utils.FormatTimeDuration(time.Duration(minutes) * time.Minute)},
			[]string{"Status", status},
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return TableHeaderStyle.Align(lipgloss.Left).Padding(0, 1)
			}
			return TableRowStyle
		})

	return fmt.Sprintf("%s %s\n%s", IconDone, SuccessStyle.Render("Study session complete!"), tbl.Render())
}
