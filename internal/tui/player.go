// Package tui provides the terminal story player using Bubble Tea.
package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nshiba/tsumugi/internal/character"
	"github.com/nshiba/tsumugi/internal/engine"
	"github.com/nshiba/tsumugi/internal/save"
	"github.com/nshiba/tsumugi/internal/storage"
	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/internal/tui/styles"
	"github.com/nshiba/tsumugi/pkg/types"
)

// typeTickMsg drives the character-by-character text reveal.
type typeTickMsg time.Time

// statusClearMsg clears a transient status message.
type statusClearMsg struct{}

// logEntry is one line in the backlog.
type logEntry struct {
	Speaker string
	Text    string
}

// Options configures a Player.
type Options struct {
	Saves     *storage.SaveDB // nil disables saving
	TextSpeed int             // characters per second, <=0 means instant
	Autosave  bool
}

// Player is the story playback model. It drives the engine from key input,
// stages characters through the action generator, and renders the current
// line, stage and choices.
type Player struct {
	eng   *engine.Manager
	chars *character.Manager
	gen   *character.Generator
	opts  Options

	// View state
	width  int
	height int
	ready  bool
	err    error
	status string

	// Backlog
	viewport    viewport.Model
	backlog     []logEntry
	showBacklog bool

	// Scene
	sceneID    string
	background string
	sceneWait  bool // scene banner shown, waiting for acknowledgment

	// Current line; line holds runes so the reveal never splits a
	// multibyte character.
	speaker   string
	emotion   types.Emotion
	line      []rune
	narration bool
	typed     int
	lineDone  bool

	// Choices
	choices   []types.Choice
	choiceIdx int

	ended bool
}

// NewPlayer creates a player bound to a loaded engine. It installs itself as
// the engine's event sink and scene switcher; start the engine (or restore a
// save) after construction, before running the program.
func NewPlayer(eng *engine.Manager, chars *character.Manager, gen *character.Generator, opts Options) *Player {
	p := &Player{
		eng:   eng,
		chars: chars,
		gen:   gen,
		opts:  opts,
	}
	eng.SetSceneSwitcher(p)
	eng.SetEvents(engine.Events{
		NodeEntered: p.onNodeEntered,
	})
	return p
}

// HasScene reports whether the presentation can show a scene. The terminal
// renders any scene as a banner, so every scene id is resolvable.
func (p *Player) HasScene(sceneID string) bool { return sceneID != "" }

// SwitchTo shows the scene banner and holds until the player acknowledges.
func (p *Player) SwitchTo(sceneID, transition string) {
	p.sceneID = sceneID
	p.sceneWait = true
}

// onNodeEntered stages the node's characters and prepares the line display.
func (p *Player) onNodeEntered(n *story.Node, prev *story.Node) {
	live := p.liveStates()
	for _, a := range p.gen.ContextualActions(prev, n, live) {
		p.chars.Apply(a)
	}
	for _, a := range p.gen.ActionsFromNode(n, p.liveStates()) {
		p.chars.Apply(a)
	}

	p.choices = nil
	p.choiceIdx = 0

	switch n.Type() {
	case types.NodeDialogue:
		p.speaker = n.Character()
		p.emotion = character.ResolveMood(n.Mood())
		p.line = []rune(n.Text())
		p.narration = p.speaker == ""
		p.typed = 0
		p.lineDone = false
	case types.NodeChoice:
		p.speaker = ""
		p.emotion = types.EmotionNeutral
		p.line = []rune(n.Text())
		p.narration = true
		p.typed = 0
		p.lineDone = false
	case types.NodeScene:
		if n.Background() != "" {
			p.background = n.Background()
		}
	case types.NodeEnd:
		p.speaker = ""
		p.line = []rune(n.Text())
		p.narration = true
		p.typed = 0
		p.lineDone = false
		p.ended = true
	}
}

func (p *Player) liveStates() map[string]types.CharacterState {
	out := make(map[string]types.CharacterState)
	for _, id := range p.chars.IDs() {
		if st, ok := p.chars.CharacterState(id); ok {
			out[id] = st
		}
	}
	return out
}

// Init starts the typing ticker.
func (p *Player) Init() tea.Cmd {
	return p.typeTick()
}

func (p *Player) typeTick() tea.Cmd {
	if p.opts.TextSpeed <= 0 {
		p.typed = len(p.line)
		p.lineFinished()
		return nil
	}
	interval := time.Second / time.Duration(p.opts.TextSpeed)
	return tea.Tick(interval, func(t time.Time) tea.Msg { return typeTickMsg(t) })
}

// Update handles messages.
func (p *Player) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return p.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		if !p.ready {
			p.viewport = viewport.New(msg.Width-4, msg.Height-6)
			p.ready = true
		} else {
			p.viewport.Width = msg.Width - 4
			p.viewport.Height = msg.Height - 6
		}

	case typeTickMsg:
		if p.typed < len(p.line) {
			p.typed++
			return p, p.typeTick()
		}
		p.lineFinished()
		return p, nil

	case statusClearMsg:
		p.status = ""
	}

	if p.showBacklog {
		var cmd tea.Cmd
		p.viewport, cmd = p.viewport.Update(msg)
		return p, cmd
	}
	return p, nil
}

// lineFinished runs once the full line is revealed: the line joins the
// backlog, and choice nodes reveal their options.
func (p *Player) lineFinished() {
	if p.lineDone {
		return
	}
	p.lineDone = true
	if len(p.line) > 0 {
		p.backlog = append(p.backlog, logEntry{Speaker: p.speaker, Text: string(p.line)})
	}
	if cur := p.eng.CurrentNode(); cur != nil && cur.Type() == types.NodeChoice {
		p.choices = p.eng.AvailableChoices()
		p.choiceIdx = 0
	}
}

func (p *Player) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if p.showBacklog {
		switch msg.String() {
		case "tab", "esc", "q":
			p.showBacklog = false
		default:
			var cmd tea.Cmd
			p.viewport, cmd = p.viewport.Update(msg)
			return p, cmd
		}
		return p, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return p, tea.Quit

	case "tab":
		p.showBacklog = true
		p.viewport.SetContent(p.renderBacklog())
		p.viewport.GotoBottom()
		return p, nil

	case "up", "k":
		if len(p.choices) > 0 && p.choiceIdx > 0 {
			p.choiceIdx--
		}
		return p, nil

	case "down", "j":
		if len(p.choices) > 0 && p.choiceIdx < len(p.choices)-1 {
			p.choiceIdx++
		}
		return p, nil

	case "ctrl+s":
		return p, p.quickSave()

	case "enter", " ":
		return p.advance()
	}

	return p, nil
}

// advance is the main input: fast-forward typing, pick a choice, acknowledge
// a scene, or progress the story.
func (p *Player) advance() (tea.Model, tea.Cmd) {
	if p.typed < len(p.line) {
		p.typed = len(p.line)
		p.lineFinished()
		return p, nil
	}

	if len(p.choices) > 0 {
		if err := p.eng.MakeChoice(p.choiceIdx); err != nil {
			p.err = err
			return p, nil
		}
		var cmd tea.Cmd
		if p.opts.Autosave {
			cmd = p.autoSave()
		}
		return p, tea.Batch(cmd, p.typeTick())
	}

	if p.sceneWait {
		p.sceneWait = false
		cur := p.eng.CurrentNode()
		if cur != nil && cur.NextNode() != "" {
			if err := p.eng.Progress(); err != nil {
				p.err = err
				return p, nil
			}
		}
		return p, p.typeTick()
	}

	if p.ended {
		return p, tea.Quit
	}

	if err := p.eng.Progress(); err != nil {
		var cp *engine.CannotProgressError
		if errors.As(err, &cp) {
			return p, nil
		}
		p.err = err
		return p, nil
	}
	return p, p.typeTick()
}

func (p *Player) quickSave() tea.Cmd {
	return p.saveToSlot("quicksave", "quick save")
}

func (p *Player) autoSave() tea.Cmd {
	return p.saveToSlot("autosave", "autosave")
}

func (p *Player) saveToSlot(slot, label string) tea.Cmd {
	if p.opts.Saves == nil {
		p.status = "saving is disabled"
		return clearStatusLater()
	}
	data, err := save.Snapshot(p.eng, p.chars, label)
	if err != nil {
		p.err = err
		return nil
	}
	if err := p.opts.Saves.Put(slot, data); err != nil {
		p.err = err
		return nil
	}
	p.status = fmt.Sprintf("saved to %s", slot)
	return clearStatusLater()
}

func clearStatusLater() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return statusClearMsg{} })
}

// View renders the player.
func (p *Player) View() string {
	if !p.ready {
		return "loading..."
	}
	if p.showBacklog {
		return lipgloss.JoinVertical(lipgloss.Left,
			styles.Header.Render("Backlog"),
			p.viewport.View(),
			styles.MutedText.Render("  tab: close  ↑/↓: scroll"),
		)
	}

	var b strings.Builder

	title := ""
	if s := p.eng.Story(); s != nil {
		title = s.Title
	}
	b.WriteString(styles.Header.Render(title))
	b.WriteString("\n")

	if p.sceneID != "" {
		banner := p.sceneID
		if p.background != "" {
			banner += " · " + p.background
		}
		b.WriteString(styles.SceneBanner.Render(banner))
		b.WriteString("\n")
	}

	b.WriteString(p.renderStage())
	b.WriteString("\n\n")

	b.WriteString(p.renderDialogue())
	b.WriteString("\n")

	if len(p.choices) > 0 {
		b.WriteString(p.renderChoices())
		b.WriteString("\n")
	}

	if p.ended && p.typed >= len(p.line) {
		b.WriteString(styles.EndMarker.Render("— The End —"))
		b.WriteString("\n")
	}

	b.WriteString(p.renderStatusBar())
	return b.String()
}

// stageOrder sorts visible characters left to right.
var stageOrder = map[types.Position]int{
	types.PositionLeft:   0,
	types.PositionCenter: 1,
	types.PositionRight:  2,
}

func (p *Player) renderStage() string {
	live := p.liveStates()
	var onStage []types.CharacterState
	for _, st := range live {
		if st.Visible && !st.Position.Offscreen() {
			onStage = append(onStage, st)
		}
	}
	sort.Slice(onStage, func(i, j int) bool {
		if stageOrder[onStage[i].Position] != stageOrder[onStage[j].Position] {
			return stageOrder[onStage[i].Position] < stageOrder[onStage[j].Position]
		}
		return onStage[i].ID < onStage[j].ID
	})

	if len(onStage) == 0 {
		return styles.MutedText.Render("  (empty stage)")
	}

	parts := make([]string, 0, len(onStage))
	for _, st := range onStage {
		label := st.ID + " " + styles.StageEmotion.Render("("+string(st.Emotion)+")")
		if st.ID == p.speaker {
			parts = append(parts, styles.StageSpeaking.Render(label))
		} else {
			parts = append(parts, styles.StageCharacter.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (p *Player) renderDialogue() string {
	shown := string(p.line[:p.typed])
	width := styles.Width(p.width)

	var content string
	if p.narration || p.speaker == "" {
		content = styles.NarrationText.Render(shown)
	} else {
		content = styles.SpeakerName.Render(p.speaker) + "\n" + styles.DialogueText.Render(shown)
	}
	return styles.DialogueBox.Width(width).Render(content)
}

func (p *Player) renderChoices() string {
	var b strings.Builder
	for i, c := range p.choices {
		if i == p.choiceIdx {
			b.WriteString(styles.ChoiceSelected.Render("▸ " + c.Text))
		} else {
			b.WriteString(styles.ChoiceItem.Render("  " + c.Text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Player) renderStatusBar() string {
	if p.err != nil {
		return styles.ErrorText.Render("error: " + p.err.Error())
	}
	if p.status != "" {
		return styles.InfoText.Render(p.status)
	}
	help := "enter: advance  ↑/↓: choose  tab: backlog  ctrl+s: save  q: quit"
	return styles.StatusBar.Width(p.width).Render(help)
}

func (p *Player) renderBacklog() string {
	var b strings.Builder
	for _, e := range p.backlog {
		if e.Speaker != "" {
			b.WriteString(styles.SpeakerName.Render(e.Speaker))
			b.WriteString("  ")
		}
		b.WriteString(styles.DialogueText.Render(e.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}
