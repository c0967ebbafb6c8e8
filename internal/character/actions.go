package character

import (
	"io"
	"log"
	"math/rand"
	"sort"
	"strings"
	"unicode"

	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/pkg/types"
)

// moodToEmotion maps authored mood strings onto the fixed emotion set.
// Unrecognized moods resolve to neutral.
var moodToEmotion = map[string]types.Emotion{
	"happy":       types.EmotionHappy,
	"joyful":      types.EmotionHappy,
	"cheerful":    types.EmotionHappy,
	"excited":     types.EmotionHappy,
	"sad":         types.EmotionSad,
	"melancholy":  types.EmotionSad,
	"sorrowful":   types.EmotionSad,
	"gloomy":      types.EmotionSad,
	"angry":       types.EmotionAngry,
	"furious":     types.EmotionAngry,
	"mad":         types.EmotionAngry,
	"annoyed":     types.EmotionAngry,
	"surprised":   types.EmotionSurprised,
	"shocked":     types.EmotionSurprised,
	"astonished":  types.EmotionSurprised,
	"afraid":      types.EmotionFearful,
	"scared":      types.EmotionFearful,
	"fearful":     types.EmotionFearful,
	"nervous":     types.EmotionFearful,
	"thoughtful":  types.EmotionThoughtful,
	"pensive":     types.EmotionThoughtful,
	"curious":     types.EmotionThoughtful,
	"embarrassed": types.EmotionEmbarrassed,
	"shy":         types.EmotionEmbarrassed,
	"flustered":   types.EmotionEmbarrassed,
	"neutral":     types.EmotionNeutral,
	"calm":        types.EmotionNeutral,
}

// strongMoods bias dialogue toward an emphatic emote animation.
var strongMoods = map[string]bool{
	"angry":      true,
	"furious":    true,
	"excited":    true,
	"shocked":    true,
	"surprised":  true,
	"afraid":     true,
	"scared":     true,
	"astonished": true,
}

// ResolveMood maps a mood string to an emotion.
func ResolveMood(mood string) types.Emotion {
	if e, ok := moodToEmotion[strings.ToLower(strings.TrimSpace(mood))]; ok {
		return e
	}
	return types.EmotionNeutral
}

// Generator derives presentation actions from story nodes and a snapshot of
// live character state. It never mutates character state itself; callers
// apply the returned actions. The generator keeps light continuity tracking
// (recent nodes, current scene) that Reset clears between chapters.
type Generator struct {
	rng    *rand.Rand
	logger *log.Logger

	recentNodes  []string
	currentScene string
}

// emoteBaseline is the chance of an emote animation on an otherwise
// unremarkable dialogue line.
const emoteBaseline = 0.3

// NewGenerator creates a Generator seeded for reproducible staging.
func NewGenerator(seed int64, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// Reset clears narrative-continuity tracking so heuristics from one story
// segment do not leak into an unrelated one.
func (g *Generator) Reset() {
	g.recentNodes = nil
	g.currentScene = ""
}

// ActionsFromNode derives the ordered action sequence for entering a node.
// live is a snapshot of the current character states keyed by id.
func (g *Generator) ActionsFromNode(node *story.Node, live map[string]types.CharacterState) []types.CharacterAction {
	if node == nil {
		return nil
	}
	g.trackNode(node.ID())

	switch node.Type() {
	case types.NodeScene:
		g.currentScene = node.SceneID()
		return g.sceneActions(node, live)
	case types.NodeDialogue:
		return g.dialogueActions(node, live)
	}
	return nil
}

func (g *Generator) trackNode(id string) {
	g.recentNodes = append(g.recentNodes, id)
	if len(g.recentNodes) > 16 {
		g.recentNodes = g.recentNodes[len(g.recentNodes)-16:]
	}
}

// sceneActions reconciles live blocking with a scene node's declaration.
// Exits come before entrances and repositioning so two characters never
// transiently share a slot.
func (g *Generator) sceneActions(node *story.Node, live map[string]types.CharacterState) []types.CharacterAction {
	declared := make(map[string]types.SceneCharacter, len(node.SceneCharacters()))
	for _, sc := range node.SceneCharacters() {
		declared[sc.ID] = sc
	}

	var actions []types.CharacterAction

	// Stable order for exits: map iteration is randomized, staging is not.
	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := live[id]
		if !st.Visible {
			continue
		}
		if _, stays := declared[id]; stays {
			continue
		}
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionExit,
			CharacterID: id,
			Position:    g.exitDirection(st.Position),
			Duration:    0.5,
		})
	}

	for _, sc := range node.SceneCharacters() {
		st, known := live[sc.ID]
		switch {
		case !known || !st.Visible:
			actions = append(actions, types.CharacterAction{
				Type:        types.ActionEnter,
				CharacterID: sc.ID,
				Position:    sc.Position,
				Duration:    0.5,
			})
		case st.Position != sc.Position:
			actions = append(actions, types.CharacterAction{
				Type:        types.ActionMove,
				CharacterID: sc.ID,
				Position:    sc.Position,
				Duration:    0.4,
			})
		}
		if sc.Expression != "" && (!known || st.Emotion != sc.Expression) {
			actions = append(actions, types.CharacterAction{
				Type:        types.ActionChangeEmotion,
				CharacterID: sc.ID,
				Emotion:     sc.Expression,
			})
		}
	}
	return actions
}

// exitDirection picks the off-screen side opposite the character's current
// side; centered characters leave toward a random wing.
func (g *Generator) exitDirection(pos types.Position) types.Position {
	switch pos {
	case types.PositionLeft:
		return types.PositionOffscreenRight
	case types.PositionRight:
		return types.PositionOffscreenLeft
	default:
		if g.rng.Intn(2) == 0 {
			return types.PositionOffscreenLeft
		}
		return types.PositionOffscreenRight
	}
}

// dialogueActions stages the speaking character: entrance if hidden,
// emotion change if the scripted mood drifted, the speak action itself,
// and possibly an emphatic emote.
func (g *Generator) dialogueActions(node *story.Node, live map[string]types.CharacterState) []types.CharacterAction {
	speaker := node.Character()
	if speaker == "" {
		return nil
	}

	var actions []types.CharacterAction
	st, known := live[speaker]

	if !known || !st.Visible {
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionEnter,
			CharacterID: speaker,
			Position:    types.PositionCenter,
			Duration:    0.5,
		})
	}

	emotion := ResolveMood(node.Mood())
	if node.Mood() != "" && (!known || st.Emotion != emotion) {
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionChangeEmotion,
			CharacterID: speaker,
			Emotion:     emotion,
		})
	}

	actions = append(actions, types.CharacterAction{
		Type:        types.ActionSpeak,
		CharacterID: speaker,
		Emotion:     emotion,
		Text:        node.Text(),
	})

	if g.shouldEmote(node.Text(), node.Mood()) {
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionAnimate,
			CharacterID: speaker,
			Animation:   "emote",
			Intensity:   emoteIntensity(node.Text(), node.Mood()),
		})
	}
	return actions
}

// shouldEmote decides whether a line earns an emote animation: emphatic
// punctuation, a strong mood, or a baseline random chance.
func (g *Generator) shouldEmote(text, mood string) bool {
	if strings.ContainsAny(text, "!?") {
		return true
	}
	if strongMoods[strings.ToLower(strings.TrimSpace(mood))] {
		return true
	}
	return g.rng.Float64() < emoteBaseline
}

// emoteIntensity scores a line's emphasis from punctuation density,
// shouting (ALL-CAPS word ratio) and mood bias, clamped to [0.1, 1.0].
func emoteIntensity(text, mood string) float64 {
	words := strings.Fields(text)
	score := 0.2

	if len(words) > 0 {
		var punct int
		for _, r := range text {
			if r == '!' || r == '?' {
				punct++
			}
		}
		score += minFloat(float64(punct)/float64(len(words)), 1) * 0.4

		var shouted int
		for _, w := range words {
			if isShouted(w) {
				shouted++
			}
		}
		score += float64(shouted) / float64(len(words)) * 0.3
	}

	if strongMoods[strings.ToLower(strings.TrimSpace(mood))] {
		score += 0.2
	}

	return clamp(score, 0.1, 1.0)
}

// isShouted reports whether a word is all caps with at least two letters.
func isShouted(word string) bool {
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return letters >= 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ContextualActions derives staging for consecutive dialogue nodes. When
// the speaker changes, the incoming speaker enters on the side opposite the
// outgoing one, and the outgoing speaker turns to look if they stand apart.
func (g *Generator) ContextualActions(current, next *story.Node, live map[string]types.CharacterState) []types.CharacterAction {
	if current == nil || next == nil {
		return nil
	}
	if current.Type() != types.NodeDialogue || next.Type() != types.NodeDialogue {
		return nil
	}
	outgoing := current.Character()
	incoming := next.Character()
	if outgoing == "" || incoming == "" || outgoing == incoming {
		return nil
	}

	var actions []types.CharacterAction

	outState, outKnown := live[outgoing]
	inState, inKnown := live[incoming]

	if !inKnown || !inState.Visible {
		pos := types.PositionLeft
		switch {
		case outKnown && outState.Position == types.PositionLeft:
			pos = types.PositionRight
		case outKnown && outState.Position == types.PositionRight:
			pos = types.PositionLeft
		default:
			if g.rng.Intn(2) == 0 {
				pos = types.PositionRight
			}
		}
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionEnter,
			CharacterID: incoming,
			Position:    pos,
			Duration:    0.5,
		})
		inState = types.CharacterState{Position: pos}
	}

	if outKnown && outState.Visible && outState.Position != inState.Position {
		actions = append(actions, types.CharacterAction{
			Type:        types.ActionAnimate,
			CharacterID: outgoing,
			Animation:   "look-at",
			Intensity:   0.3,
		})
	}
	return actions
}
