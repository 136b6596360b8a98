// Package ui provides reusable UI components for the stoat CLI.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// SpinnerType defines different spinner animations
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerLine
	SpinnerMinidots
	SpinnerPulse
	SpinnerPoints
	SpinnerMeter
)

var spinners = map[SpinnerType]spinner.Spinner{
	SpinnerDots:     spinner.Dot,
	SpinnerLine:     spinner.Line,
	SpinnerMinidots: spinner.MiniDot,
	SpinnerPulse:    spinner.Pulse,
	SpinnerPoints:   spinner.Points,
	SpinnerMeter:    spinner.Meter,
}

// SpinnerModel is a spinner component with a message
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string, spinnerType SpinnerType) SpinnerModel {
	s := spinner.New()
	if sp, ok := spinners[spinnerType]; ok {
		s.Spinner = sp
	} else {
		s.Spinner = spinner.Dot
	}
	s.Style = lipgloss.NewStyle().Foreground(styles.Current.Primary)

	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		return resultLine(m.result, m.err)
	}

	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}

	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// Cancelled reports whether the user quit before the work finished.
func (m SpinnerModel) Cancelled() bool {
	return m.quitting && !m.done
}

// SpinnerDoneMsg signals that the spinner operation is complete
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

func resultLine(result string, err error) string {
	if err != nil {
		return styles.FormatError(result) + "\n"
	}
	return styles.FormatSuccess(result) + "\n"
}

// Work is a unit of work shown behind a spinner. It returns the line to
// print once finished.
type Work func() (string, error)

// RunSpinner runs work behind a spinner on out. When interactive is false
// the spinner is skipped and only the result line is written.
func RunSpinner(out io.Writer, interactive bool, message string, work Work) error {
	if !interactive {
		result, err := work()
		fmt.Fprint(out, resultLine(result, err))
		return err
	}

	p := tea.NewProgram(NewSpinner(message, SpinnerDots), tea.WithOutput(out))

	go func() {
		result, err := work()
		p.Send(SpinnerDoneMsg{Result: result, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	m := final.(SpinnerModel)
	if m.Cancelled() {
		return ErrCancelled
	}
	return m.err
}

// ErrCancelled is returned by RunSpinner when the user quits early.
var ErrCancelled = errors.New("cancelled")

// Table renders a box-drawn table
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row to the table. Missing values are left blank and extra
// values are dropped.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
			t.widths[i] = max(t.widths[i], lipgloss.Width(values[i]))
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder
	border := styles.TableBorder

	rule := func(left, mid, right string) {
		sb.WriteString(border.Render(left))
		for i, w := range t.widths {
			sb.WriteString(border.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(border.Render(mid))
			}
		}
		sb.WriteString(border.Render(right))
	}
	line := func(cells []string, style lipgloss.Style) {
		sb.WriteString(border.Render("│"))
		for i, cell := range cells {
			sb.WriteString(style.Width(t.widths[i] + 2).Render(cell))
			sb.WriteString(border.Render("│"))
		}
		sb.WriteString("\n")
	}

	rule("┌", "┬", "┐")
	sb.WriteString("\n")
	line(t.headers, styles.TableHeader)
	rule("├", "┼", "┤")
	sb.WriteString("\n")
	for _, row := range t.rows {
		line(row, styles.TableCell)
	}
	rule("└", "┴", "┘")

	return sb.String()
}

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	badge := lipgloss.NewStyle().Padding(0, 1)
	p := styles.Current

	switch strings.ToLower(status) {
	case "ok", "healthy", "success", "applied", "connected":
		badge = badge.Background(p.Success).Foreground(lipgloss.Color("#000000"))
	case "pending", "skipped", "warning":
		badge = badge.Background(p.Warning).Foreground(lipgloss.Color("#000000"))
	case "error", "failed", "unreachable":
		badge = badge.Background(p.Error).Foreground(lipgloss.Color("#FFFFFF"))
	default:
		badge = badge.Background(p.Surface).Foreground(p.Text)
	}
	return badge.Render(status)
}

// Banner renders the stoat ASCII art banner
func Banner() string {
	banner := `
    ███████╗████████╗ ██████╗  █████╗ ████████╗
    ██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗╚══██╔══╝
    ███████╗   ██║   ██║   ██║███████║   ██║
    ╚════██║   ██║   ██║   ██║██╔══██║   ██║
    ███████║   ██║   ╚██████╔╝██║  ██║   ██║
    ╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝   ╚═╝

         Event Sourcing and CQRS for Go
`
	return lipgloss.NewStyle().
		Foreground(styles.Current.Primary).
		Bold(true).
		Render(banner)
}

// SimpleBanner returns a one-line banner
func SimpleBanner() string {
	name := lipgloss.NewStyle().Bold(true).Foreground(styles.Current.Primary).Render("stoat")
	return styles.IconStoat + " " + name + " " + styles.Muted.Render("- Event Sourcing and CQRS for Go")
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// ListItems formats a list of items with bullets
func ListItems(items []string) string {
	bullet := lipgloss.NewStyle().Foreground(styles.Current.Primary).PaddingLeft(2).PaddingRight(1)

	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(bullet.Render(styles.IconDot))
		sb.WriteString(styles.Normal.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}

// NumberedList formats a numbered list
func NumberedList(items []string) string {
	num := lipgloss.NewStyle().Foreground(styles.Current.Primary).Width(4)

	var sb strings.Builder
	for i, item := range items {
		sb.WriteString(num.Render(fmt.Sprintf("%d.", i+1)))
		sb.WriteString(styles.Normal.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Confirmation returns a yes/no prompt result display
func Confirmation(confirmed bool) string {
	if confirmed {
		return styles.SuccessStyle.Render("Yes")
	}
	return styles.ErrorStyle.Render("No")
}
