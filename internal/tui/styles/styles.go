// Package styles provides Lip Gloss styling for the TUI.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary     = lipgloss.Color("#7C3AED") // Purple
	Secondary   = lipgloss.Color("#10B981") // Green
	Accent      = lipgloss.Color("#F59E0B") // Amber
	Error       = lipgloss.Color("#EF4444") // Red
	Muted       = lipgloss.Color("#6B7280") // Gray
	Background  = lipgloss.Color("#1F2937") // Dark gray
	Surface     = lipgloss.Color("#374151") // Lighter dark gray
	TextPrimary = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted   = lipgloss.Color("#9CA3AF") // Light gray

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		Padding(0, 1).
		MarginBottom(1)

	// Title
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextPrimary)

	// Subtitle
	Subtitle = lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true)

	// Scene banner shown when the backdrop changes
	SceneBanner = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(Secondary).
			MarginTop(1).
			MarginBottom(1)

	// Stage: the character line above the dialogue box
	StageCharacter = lipgloss.NewStyle().
			Foreground(TextPrimary).
			Padding(0, 1)

	StageSpeaking = lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true).
			Padding(0, 1)

	StageEmotion = lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true)

	// Dialogue box
	SpeakerName = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	DialogueText = lipgloss.NewStyle().
			Foreground(TextPrimary)

	NarrationText = lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true)

	DialogueBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface).
			Padding(0, 1)

	// Choice menu
	ChoiceItem = lipgloss.NewStyle().
			Foreground(TextPrimary).
			PaddingLeft(2)

	ChoiceSelected = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true).
			PaddingLeft(2)

	// Status bar
	StatusBar = lipgloss.NewStyle().
			Background(Surface).
			Foreground(TextMuted).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	StatusValue = lipgloss.NewStyle().
			Foreground(TextPrimary)

	// Error and info messages
	ErrorText = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	InfoText = lipgloss.NewStyle().
			Foreground(Accent)

	SuccessText = lipgloss.NewStyle().
			Foreground(Secondary)

	// Help
	HelpKey = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	HelpDesc = lipgloss.NewStyle().
			Foreground(TextMuted)

	// End-of-story marker
	EndMarker = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true).
			MarginTop(1)

	// Muted text style (for using TextMuted color as a style)
	MutedText = lipgloss.NewStyle().
			Foreground(TextMuted)
)

// Width returns the available width for content.
func Width(termWidth int) int {
	return termWidth - 4 // Account for padding
}
