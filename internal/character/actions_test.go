package character

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/pkg/types"
)

func node(t *testing.T, id string, data *types.StoryNodeData) *story.Node {
	t.Helper()
	n, err := story.WrapNode(id, data, nil)
	require.NoError(t, err)
	return n
}

func visibleAt(id string, pos types.Position) types.CharacterState {
	st := types.DefaultCharacterState(id)
	st.Position = pos
	st.Visible = true
	return st
}

func actionTypes(actions []types.CharacterAction) []types.ActionType {
	out := make([]types.ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func TestSceneExitsBeforeEntrances(t *testing.T) {
	// Character "b" is on stage but not declared; "a" is declared but not
	// yet visible. The exit for "b" must precede any enter/move for "a".
	g := NewGenerator(1, nil)
	n := node(t, "dock", &types.StoryNodeData{
		Type:    types.NodeScene,
		SceneID: "docks",
		Characters: []types.SceneCharacter{
			{ID: "a", Position: types.PositionLeft},
		},
	})
	live := map[string]types.CharacterState{
		"a": types.DefaultCharacterState("a"),
		"b": visibleAt("b", types.PositionRight),
	}

	actions := g.ActionsFromNode(n, live)
	require.NotEmpty(t, actions)

	exitIdx, enterIdx := -1, -1
	for i, a := range actions {
		if a.Type == types.ActionExit && a.CharacterID == "b" {
			exitIdx = i
		}
		if a.Type == types.ActionEnter && a.CharacterID == "a" {
			enterIdx = i
		}
	}
	require.GreaterOrEqual(t, exitIdx, 0, "expected an exit for b")
	require.GreaterOrEqual(t, enterIdx, 0, "expected an enter for a")
	assert.Less(t, exitIdx, enterIdx, "exit must come before entrance")
}

func TestSceneExitDirectionOppositeSide(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "empty", &types.StoryNodeData{Type: types.NodeScene, SceneID: "void"})

	t.Run("left exits right", func(t *testing.T) {
		actions := g.ActionsFromNode(n, map[string]types.CharacterState{
			"a": visibleAt("a", types.PositionLeft),
		})
		require.Len(t, actions, 1)
		assert.Equal(t, types.ActionExit, actions[0].Type)
		assert.Equal(t, types.PositionOffscreenRight, actions[0].Position)
	})

	t.Run("right exits left", func(t *testing.T) {
		actions := g.ActionsFromNode(n, map[string]types.CharacterState{
			"a": visibleAt("a", types.PositionRight),
		})
		require.Len(t, actions, 1)
		assert.Equal(t, types.PositionOffscreenLeft, actions[0].Position)
	})

	t.Run("center exits to a wing", func(t *testing.T) {
		actions := g.ActionsFromNode(n, map[string]types.CharacterState{
			"a": visibleAt("a", types.PositionCenter),
		})
		require.Len(t, actions, 1)
		assert.True(t, actions[0].Position.Offscreen())
	})
}

func TestSceneMoveAndEmotion(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "dock", &types.StoryNodeData{
		Type:    types.NodeScene,
		SceneID: "docks",
		Characters: []types.SceneCharacter{
			{ID: "a", Position: types.PositionCenter, Expression: types.EmotionSad},
		},
	})

	t.Run("wrong position moves", func(t *testing.T) {
		live := map[string]types.CharacterState{"a": visibleAt("a", types.PositionLeft)}
		actions := g.ActionsFromNode(n, live)
		require.Len(t, actions, 2)
		assert.Equal(t, types.ActionMove, actions[0].Type)
		assert.Equal(t, types.PositionCenter, actions[0].Position)
		assert.Equal(t, types.ActionChangeEmotion, actions[1].Type)
		assert.Equal(t, types.EmotionSad, actions[1].Emotion)
	})

	t.Run("settled character needs nothing", func(t *testing.T) {
		st := visibleAt("a", types.PositionCenter)
		st.Emotion = types.EmotionSad
		actions := g.ActionsFromNode(n, map[string]types.CharacterState{"a": st})
		assert.Empty(t, actions)
	})
}

func TestDialogueHiddenSpeakerEnters(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "line", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "Hello there.",
		Character: "rin",
		Mood:      "cheerful",
	})

	actions := g.ActionsFromNode(n, map[string]types.CharacterState{
		"rin": types.DefaultCharacterState("rin"), // hidden
	})

	typesSeen := actionTypes(actions)
	require.GreaterOrEqual(t, len(actions), 3)
	assert.Equal(t, types.ActionEnter, typesSeen[0])
	assert.Equal(t, types.PositionCenter, actions[0].Position)
	assert.Equal(t, types.ActionChangeEmotion, typesSeen[1])
	assert.Equal(t, types.EmotionHappy, actions[1].Emotion)
	assert.Equal(t, types.ActionSpeak, typesSeen[2])
	assert.Equal(t, "Hello there.", actions[2].Text)
	assert.Equal(t, types.EmotionHappy, actions[2].Emotion)
}

func TestDialogueVisibleSpeakerJustSpeaks(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "line", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "Mm.",
		Character: "rin",
	})

	st := visibleAt("rin", types.PositionCenter)
	actions := g.ActionsFromNode(n, map[string]types.CharacterState{"rin": st})
	require.NotEmpty(t, actions)
	assert.Equal(t, types.ActionSpeak, actions[0].Type)
}

func TestDialogueEmphasisAlwaysEmotes(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "shout", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "GET OUT! NOW!",
		Character: "rin",
		Mood:      "furious",
	})

	actions := g.ActionsFromNode(n, map[string]types.CharacterState{
		"rin": visibleAt("rin", types.PositionCenter),
	})

	last := actions[len(actions)-1]
	require.Equal(t, types.ActionAnimate, last.Type)
	assert.Equal(t, "emote", last.Animation)
	assert.GreaterOrEqual(t, last.Intensity, 0.1)
	assert.LessOrEqual(t, last.Intensity, 1.0)
	// Shouted, punctuated, strong-mood lines score high.
	assert.Greater(t, last.Intensity, 0.6)
}

func TestEmoteIntensityClamped(t *testing.T) {
	assert.LessOrEqual(t, emoteIntensity("WHAT?! NO! STOP! WHY?!", "furious"), 1.0)
	assert.GreaterOrEqual(t, emoteIntensity("", ""), 0.1)
}

func TestResolveMood(t *testing.T) {
	assert.Equal(t, types.EmotionHappy, ResolveMood("joyful"))
	assert.Equal(t, types.EmotionHappy, ResolveMood("cheerful"))
	assert.Equal(t, types.EmotionSad, ResolveMood("melancholy"))
	assert.Equal(t, types.EmotionAngry, ResolveMood("FURIOUS"))
	assert.Equal(t, types.EmotionFearful, ResolveMood("scared"))
	assert.Equal(t, types.EmotionNeutral, ResolveMood("quizzical"))
	assert.Equal(t, types.EmotionNeutral, ResolveMood(""))
}

func TestDeterministicWithSeed(t *testing.T) {
	n := node(t, "line", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "Just a line with no punctuation or mood",
		Character: "rin",
	})
	live := map[string]types.CharacterState{"rin": visibleAt("rin", types.PositionCenter)}

	a := NewGenerator(42, nil).ActionsFromNode(n, live)
	b := NewGenerator(42, nil).ActionsFromNode(n, live)
	assert.Equal(t, a, b)
}

func TestContextualActionsSpeakerChange(t *testing.T) {
	cur := node(t, "l1", &types.StoryNodeData{
		Type: types.NodeDialogue, Text: "…", Character: "rin",
	})
	next := node(t, "l2", &types.StoryNodeData{
		Type: types.NodeDialogue, Text: "…", Character: "touka",
	})

	t.Run("incoming enters opposite the outgoing speaker", func(t *testing.T) {
		g := NewGenerator(1, nil)
		live := map[string]types.CharacterState{
			"rin": visibleAt("rin", types.PositionLeft),
		}
		actions := g.ContextualActions(cur, next, live)
		require.NotEmpty(t, actions)
		assert.Equal(t, types.ActionEnter, actions[0].Type)
		assert.Equal(t, "touka", actions[0].CharacterID)
		assert.Equal(t, types.PositionRight, actions[0].Position)
	})

	t.Run("centered outgoing speaker yields a wing entrance", func(t *testing.T) {
		g := NewGenerator(1, nil)
		live := map[string]types.CharacterState{
			"rin": visibleAt("rin", types.PositionCenter),
		}
		actions := g.ContextualActions(cur, next, live)
		require.NotEmpty(t, actions)
		assert.Contains(t, []types.Position{types.PositionLeft, types.PositionRight}, actions[0].Position)
	})

	t.Run("look-at when both visible apart", func(t *testing.T) {
		g := NewGenerator(1, nil)
		live := map[string]types.CharacterState{
			"rin":   visibleAt("rin", types.PositionLeft),
			"touka": visibleAt("touka", types.PositionRight),
		}
		actions := g.ContextualActions(cur, next, live)
		require.Len(t, actions, 1)
		assert.Equal(t, types.ActionAnimate, actions[0].Type)
		assert.Equal(t, "look-at", actions[0].Animation)
		assert.Equal(t, "rin", actions[0].CharacterID)
	})

	t.Run("same speaker yields nothing", func(t *testing.T) {
		g := NewGenerator(1, nil)
		actions := g.ContextualActions(cur, cur, nil)
		assert.Empty(t, actions)
	})

	t.Run("non-dialogue nodes yield nothing", func(t *testing.T) {
		g := NewGenerator(1, nil)
		scene := node(t, "s", &types.StoryNodeData{Type: types.NodeScene, SceneID: "x"})
		assert.Empty(t, g.ContextualActions(scene, next, nil))
	})
}

func TestGeneratorReset(t *testing.T) {
	g := NewGenerator(1, nil)
	n := node(t, "dock", &types.StoryNodeData{Type: types.NodeScene, SceneID: "docks"})
	g.ActionsFromNode(n, nil)
	require.Equal(t, "docks", g.currentScene)
	require.NotEmpty(t, g.recentNodes)

	g.Reset()
	assert.Empty(t, g.currentScene)
	assert.Empty(t, g.recentNodes)
}
