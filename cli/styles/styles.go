// Package styles provides consistent styling for the stoat CLI.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Palette holds the colors every style is built from.
type Palette struct {
	Primary      lipgloss.Color
	PrimaryLight lipgloss.Color
	Secondary    lipgloss.Color
	Success      lipgloss.Color
	Warning      lipgloss.Color
	WarningLight lipgloss.Color
	Error        lipgloss.Color
	Info         lipgloss.Color
	Text         lipgloss.Color
	TextMuted    lipgloss.Color
	TextDim      lipgloss.Color
	Surface      lipgloss.Color
	Border       lipgloss.Color
}

// DefaultPalette is the stoat color scheme: winter coat whites over warm
// summer browns.
var DefaultPalette = Palette{
	Primary:      lipgloss.Color("#B45309"), // Summer coat brown
	PrimaryLight: lipgloss.Color("#F59E0B"),
	Secondary:    lipgloss.Color("#0EA5E9"),
	Success:      lipgloss.Color("#10B981"),
	Warning:      lipgloss.Color("#F59E0B"),
	WarningLight: lipgloss.Color("#FBBF24"),
	Error:        lipgloss.Color("#EF4444"),
	Info:         lipgloss.Color("#3B82F6"),
	Text:         lipgloss.Color("#F9FAFB"),
	TextMuted:    lipgloss.Color("#9CA3AF"),
	TextDim:      lipgloss.Color("#6B7280"),
	Surface:      lipgloss.Color("#1F2937"),
	Border:       lipgloss.Color("#374151"),
}

// Current is the palette the styles were last built from.
var Current Palette

// Text styles
var (
	Bold      lipgloss.Style
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Normal    lipgloss.Style
	Muted     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Code      lipgloss.Style
)

// Status styles
var (
	SuccessStyle lipgloss.Style
	SuccessBold  lipgloss.Style
	WarningStyle lipgloss.Style
	WarningBold  lipgloss.Style
	ErrorStyle   lipgloss.Style
	ErrorBold    lipgloss.Style
	InfoStyle    lipgloss.Style
	InfoBold     lipgloss.Style
)

// Boxes
var (
	Box          lipgloss.Style
	BoxHighlight lipgloss.Style
	BoxSuccess   lipgloss.Style
	BoxError     lipgloss.Style
	BoxWarning   lipgloss.Style
	InfoBox      lipgloss.Style
)

// Table styles
var (
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	TableBorder lipgloss.Style
)

// Layout helpers
var (
	Indent       = lipgloss.NewStyle().PaddingLeft(2)
	DoubleIndent = lipgloss.NewStyle().PaddingLeft(4)
	Section      = lipgloss.NewStyle().MarginTop(1).MarginBottom(1)
)

// Icons
const (
	IconSuccess  = "✓"
	IconError    = "✗"
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconArrow    = "→"
	IconDot      = "•"
	IconPending  = "◌"
	IconStream   = "⇶"
	IconList     = "☰"
	IconRocket   = "🚀"
	IconFolder   = "📁"
	IconFile     = "📄"
	IconDatabase = "🗄️"
	IconGear     = "⚙️"
	IconHealth   = "❤️"
	IconStoat    = "🦦" // closest mustelid
)

func init() {
	Apply(DefaultPalette)
}

func newRoundedBox(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(1, 2)
}

// Apply rebuilds every style from p.
func Apply(p Palette) {
	Current = p

	Bold = lipgloss.NewStyle().Bold(true)
	Title = lipgloss.NewStyle().Bold(true).Foreground(p.Primary).MarginBottom(1)
	Subtitle = lipgloss.NewStyle().Bold(true).Foreground(p.PrimaryLight)
	Normal = lipgloss.NewStyle().Foreground(p.Text)
	Muted = lipgloss.NewStyle().Foreground(p.TextMuted)
	Dim = lipgloss.NewStyle().Foreground(p.TextDim)
	Highlight = lipgloss.NewStyle().Bold(true).Foreground(p.Secondary)
	Code = lipgloss.NewStyle().Foreground(p.WarningLight).Background(p.Surface).Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().Foreground(p.Success)
	SuccessBold = SuccessStyle.Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(p.Warning)
	WarningBold = WarningStyle.Bold(true)
	ErrorStyle = lipgloss.NewStyle().Foreground(p.Error)
	ErrorBold = ErrorStyle.Bold(true)
	InfoStyle = lipgloss.NewStyle().Foreground(p.Info)
	InfoBold = InfoStyle.Bold(true)

	Box = newRoundedBox(p.Border)
	BoxHighlight = newRoundedBox(p.Primary)
	BoxSuccess = newRoundedBox(p.Success)
	BoxError = newRoundedBox(p.Error)
	BoxWarning = newRoundedBox(p.Warning)
	InfoBox = newRoundedBox(p.Info).MarginTop(1)

	TableHeader = lipgloss.NewStyle().Bold(true).Foreground(p.PrimaryLight).Padding(0, 1)
	TableCell = lipgloss.NewStyle().Foreground(p.Text).Padding(0, 1)
	TableBorder = lipgloss.NewStyle().Foreground(p.Border)
}

// DisableColors rebuilds the styles without any color.
func DisableColors() {
	Apply(Palette{})
}

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatStep formats a step in a process, e.g. "[2/12] msg".
func FormatStep(step, total int, msg string) string {
	return Muted.Width(8).Render(fmt.Sprintf("[%d/%d]", step, total)) + " " + msg
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	return Muted.Width(20).Render(key+":") + " " + Highlight.Render(value)
}
