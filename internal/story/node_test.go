package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshiba/tsumugi/pkg/types"
)

func wrap(t *testing.T, id string, data *types.StoryNodeData) *Node {
	t.Helper()
	n, err := WrapNode(id, data, nil)
	require.NoError(t, err)
	return n
}

func TestNodeAccessors(t *testing.T) {
	n := wrap(t, "n1", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "Hello.",
		Character: "rin",
		Mood:      "cheerful",
		NextNode:  "n2",
	})

	assert.Equal(t, "n1", n.ID())
	assert.Equal(t, types.NodeDialogue, n.Type())
	assert.Equal(t, "Hello.", n.Text())
	assert.Equal(t, "rin", n.Character())
	assert.Equal(t, "cheerful", n.Mood())
	assert.Equal(t, "n2", n.NextNode())
	assert.False(t, n.IsEnd())
}

func TestEvaluateCondition(t *testing.T) {
	t.Run("true condition", func(t *testing.T) {
		n := wrap(t, "b", &types.StoryNodeData{
			Type:      types.NodeBranch,
			Condition: "state.flag == true",
			NextNode:  "x",
		})
		assert.True(t, n.EvaluateCondition(map[string]any{"flag": true}))
		assert.False(t, n.EvaluateCondition(map[string]any{"flag": false}))
	})

	t.Run("empty condition is true", func(t *testing.T) {
		n := wrap(t, "d", &types.StoryNodeData{Type: types.NodeDialogue, Text: "x", Character: "c"})
		assert.True(t, n.EvaluateCondition(nil))
	})

	t.Run("evaluation error fails closed", func(t *testing.T) {
		n := wrap(t, "b", &types.StoryNodeData{
			Type:      types.NodeBranch,
			Condition: "name > 3", // ordering a string against a number fails
			NextNode:  "x",
		})
		// Must return false without panicking or propagating the error.
		assert.False(t, n.EvaluateCondition(map[string]any{"name": "rin"}))
	})
}

func TestRunScripts(t *testing.T) {
	n := wrap(t, "n", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "x",
		Character: "c",
		OnEnter:   "visits = visits + 1",
		OnExit:    "left = true",
	})

	state := map[string]any{"visits": float64(0)}
	n.RunOnEnter(state)
	n.RunOnEnter(state)
	assert.Equal(t, float64(2), state["visits"])

	n.RunOnExit(state)
	assert.Equal(t, true, state["left"])
}

func TestRunScriptErrorDoesNotAbort(t *testing.T) {
	n := wrap(t, "n", &types.StoryNodeData{
		Type:      types.NodeDialogue,
		Text:      "x",
		Character: "c",
		OnEnter:   "bad = missing / 0",
	})
	state := map[string]any{}
	// Must log and continue, never panic.
	n.RunOnEnter(state)
	_, assigned := state["bad"]
	assert.False(t, assigned)
}

func TestAvailableChoices(t *testing.T) {
	n := wrap(t, "c", &types.StoryNodeData{
		Type: types.NodeChoice,
		Choices: []types.Choice{
			{ID: "a", Text: "Always", NextNode: "x"},
			{ID: "b", Text: "Rich only", NextNode: "y", Condition: "gold >= 100"},
			{ID: "c", Text: "Flagged", NextNode: "z", Condition: "flags.met == true"},
		},
	})

	t.Run("filters by condition, preserving order", func(t *testing.T) {
		got := n.AvailableChoices(map[string]any{
			"gold":  float64(250),
			"flags": map[string]any{"met": false},
		})
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
	})

	t.Run("all excluded", func(t *testing.T) {
		got := n.AvailableChoices(map[string]any{"gold": float64(0)})
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ID)
	})

	t.Run("failing condition hides the choice", func(t *testing.T) {
		bad := wrap(t, "c2", &types.StoryNodeData{
			Type: types.NodeChoice,
			Choices: []types.Choice{
				{ID: "a", Text: "ok", NextNode: "x"},
				{ID: "b", Text: "broken", NextNode: "y", Condition: "name > 3"},
			},
		})
		got := bad.AvailableChoices(map[string]any{"name": "rin"})
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ID)
	})

	t.Run("non-choice node returns nil", func(t *testing.T) {
		d := wrap(t, "d", &types.StoryNodeData{Type: types.NodeDialogue, Text: "x", Character: "c"})
		assert.Nil(t, d.AvailableChoices(nil))
	})
}
