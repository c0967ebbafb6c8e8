package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/pkg/types"
)

func loadStory(t *testing.T, s *types.Story) *Manager {
	t.Helper()
	require.NoError(t, story.Validate(s))
	m := NewManager(nil)
	require.NoError(t, m.Load(s))
	return m
}

// twoEndingsStory is the §8 scenario-A shape: dialogue → choice → two ends.
func twoEndingsStory() *types.Story {
	return &types.Story{
		ID:        "two-endings",
		Title:     "Two Endings",
		StartNode: "start",
		Nodes: map[string]*types.StoryNodeData{
			"start": {Type: types.NodeDialogue, Text: "Well?", Character: "rin", NextNode: "choice1"},
			"choice1": {Type: types.NodeChoice, Choices: []types.Choice{
				{ID: "yes", Text: "yes", NextNode: "end1"},
				{ID: "no", Text: "no", NextNode: "end2"},
			}},
			"end1": {Type: types.NodeEnd},
			"end2": {Type: types.NodeEnd},
		},
	}
}

func TestStart(t *testing.T) {
	t.Run("requires a loaded story", func(t *testing.T) {
		m := NewManager(nil)
		assert.ErrorIs(t, m.Start(), ErrNoStory)
	})

	t.Run("positions at start node", func(t *testing.T) {
		m := loadStory(t, twoEndingsStory())
		require.NoError(t, m.Start())

		require.NotNil(t, m.CurrentNode())
		assert.Equal(t, "start", m.CurrentNode().ID())
		assert.Equal(t, []string{"start"}, m.History())
		assert.Equal(t, PhaseActive, m.Phase())
	})
}

func TestProgressAndChoice(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())

	require.NoError(t, m.Progress())
	assert.Equal(t, "choice1", m.CurrentNode().ID())

	require.NoError(t, m.MakeChoice(0))
	assert.Equal(t, "end1", m.CurrentNode().ID())
	assert.Equal(t, []string{"start", "choice1", "end1"}, m.History())
	assert.Equal(t, PhaseEnded, m.Phase())
}

func TestProgressContractViolations(t *testing.T) {
	m := loadStory(t, twoEndingsStory())

	t.Run("before start", func(t *testing.T) {
		assert.ErrorIs(t, m.Progress(), ErrNotStarted)
	})

	require.NoError(t, m.Start())
	require.NoError(t, m.Progress())

	t.Run("on a choice node", func(t *testing.T) {
		err := m.Progress()
		var cpe *CannotProgressError
		require.ErrorAs(t, err, &cpe)
		assert.Equal(t, ReasonChoiceNode, cpe.Reason)
		assert.Equal(t, "choice1", cpe.NodeID)
	})

	require.NoError(t, m.MakeChoice(1))

	t.Run("on an end node", func(t *testing.T) {
		err := m.Progress()
		var cpe *CannotProgressError
		require.ErrorAs(t, err, &cpe)
		assert.Equal(t, ReasonEndNode, cpe.Reason)
	})

	t.Run("without a next node", func(t *testing.T) {
		s := &types.Story{
			ID: "stub", Title: "Stub", StartNode: "only",
			Nodes: map[string]*types.StoryNodeData{
				"only": {Type: types.NodeDialogue, Text: "…", Character: "rin"},
			},
		}
		m := loadStory(t, s)
		require.NoError(t, m.Start())
		err := m.Progress()
		var cpe *CannotProgressError
		require.ErrorAs(t, err, &cpe)
		assert.Equal(t, ReasonNoNextNode, cpe.Reason)
	})
}

func TestMakeChoiceInvalidIndex(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())
	require.NoError(t, m.Progress())

	historyBefore := m.History()
	stateBefore := m.GameState()

	err := m.MakeChoice(5)
	var ice *InvalidChoiceError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 5, ice.Index)
	assert.Equal(t, 2, ice.Available)

	// An invalid choice must not mutate history or game state.
	assert.Equal(t, historyBefore, m.History())
	assert.Equal(t, stateBefore, m.GameState())

	assert.ErrorAs(t, m.MakeChoice(-1), &ice)
}

func TestMakeChoiceOnNonChoiceNode(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.MakeChoice(0), ErrNotChoiceNode)
}

func TestChoiceConditionsAndStateChanges(t *testing.T) {
	s := &types.Story{
		ID: "gated", Title: "Gated", StartNode: "ask",
		InitialState: map[string]any{"gold": 10},
		Nodes: map[string]*types.StoryNodeData{
			"ask": {Type: types.NodeChoice, Choices: []types.Choice{
				{ID: "rich", Text: "Buy", NextNode: "done", Condition: "gold >= 100"},
				{ID: "poor", Text: "Haggle", NextNode: "done", StateChanges: map[string]any{"haggled": true}},
			}},
			"done": {Type: types.NodeEnd},
		},
	}
	m := loadStory(t, s)
	require.NoError(t, m.Start())

	// Only the unconditional choice is available; index 0 resolves against
	// the filtered list, not the declared list.
	available := m.AvailableChoices()
	require.Len(t, available, 1)
	assert.Equal(t, "poor", available[0].ID)

	require.NoError(t, m.MakeChoice(0))
	assert.Equal(t, true, m.GameState()["haggled"])
}

func TestBranchAutoProgression(t *testing.T) {
	branchStory := func(flag bool) *types.Story {
		return &types.Story{
			ID: "branching", Title: "Branching", StartNode: "gate",
			InitialState: map[string]any{"flag": flag},
			Nodes: map[string]*types.StoryNodeData{
				"gate":  {Type: types.NodeBranch, Condition: "state.flag == true", NextNode: "after"},
				"after": {Type: types.NodeEnd},
			},
		}
	}

	t.Run("true condition auto-navigates", func(t *testing.T) {
		m := loadStory(t, branchStory(true))
		require.NoError(t, m.Start())
		assert.Equal(t, "after", m.CurrentNode().ID())
		assert.Equal(t, []string{"gate", "after"}, m.History())
		assert.Equal(t, []string{"gate"}, m.GetCompletedBranches())
	})

	t.Run("false condition waits", func(t *testing.T) {
		m := loadStory(t, branchStory(false))
		require.NoError(t, m.Start())
		assert.Equal(t, "gate", m.CurrentNode().ID())
		assert.Equal(t, []string{"gate"}, m.History())
	})
}

func TestNodeStateChangesAndScripts(t *testing.T) {
	s := &types.Story{
		ID: "fx", Title: "FX", StartNode: "a",
		InitialState: map[string]any{"visits": 0},
		Nodes: map[string]*types.StoryNodeData{
			"a": {
				Type: types.NodeDialogue, Text: "one", Character: "rin",
				NextNode:     "b",
				StateChanges: map[string]any{"sawIntro": true},
				OnEnter:      "visits = visits + 1",
				OnExit:       "leftIntro = true",
			},
			"b": {Type: types.NodeEnd},
		},
	}
	m := loadStory(t, s)
	require.NoError(t, m.Start())

	state := m.GameState()
	assert.Equal(t, true, state["sawIntro"])
	assert.Equal(t, float64(1), state["visits"])
	_, exited := state["leftIntro"]
	assert.False(t, exited, "on_exit must not run until the node is left")

	require.NoError(t, m.Progress())
	assert.Equal(t, true, m.GameState()["leftIntro"])
}

// fakeSwitcher records scene switches and resolves a fixed scene set.
type fakeSwitcher struct {
	known    map[string]bool
	switches []string
}

func (f *fakeSwitcher) HasScene(id string) bool { return f.known[id] }
func (f *fakeSwitcher) SwitchTo(id, transition string) {
	f.switches = append(f.switches, id)
}

func TestSceneAutoProgression(t *testing.T) {
	sceneStory := &types.Story{
		ID: "scenic", Title: "Scenic", StartNode: "intro",
		Nodes: map[string]*types.StoryNodeData{
			"intro": {Type: types.NodeScene, SceneID: "harbor", NextNode: "after"},
			"after": {Type: types.NodeEnd},
		},
	}

	t.Run("resolvable scene switches and waits", func(t *testing.T) {
		m := loadStory(t, sceneStory)
		sw := &fakeSwitcher{known: map[string]bool{"harbor": true}}
		m.SetSceneSwitcher(sw)
		require.NoError(t, m.Start())

		assert.Equal(t, []string{"harbor"}, sw.switches)
		assert.Equal(t, "intro", m.CurrentNode().ID())
	})

	t.Run("unresolvable scene falls through to next node", func(t *testing.T) {
		m := loadStory(t, sceneStory)
		m.SetSceneSwitcher(&fakeSwitcher{known: map[string]bool{}})
		require.NoError(t, m.Start())
		assert.Equal(t, "after", m.CurrentNode().ID())
	})

	t.Run("no switcher falls through to next node", func(t *testing.T) {
		m := loadStory(t, sceneStory)
		require.NoError(t, m.Start())
		assert.Equal(t, "after", m.CurrentNode().ID())
	})
}

func TestNotificationOrdering(t *testing.T) {
	s := &types.Story{
		ID: "chain", Title: "Chain", StartNode: "gate",
		InitialState: map[string]any{"go": true},
		Nodes: map[string]*types.StoryNodeData{
			"gate": {Type: types.NodeBranch, Condition: "go == true", NextNode: "line"},
			"line": {Type: types.NodeDialogue, Text: "hi", Character: "rin", NextNode: "fin"},
			"fin":  {Type: types.NodeEnd},
		},
	}
	m := loadStory(t, s)

	var order []string
	m.SetEvents(Events{
		NodeEntered: func(cur, prev *story.Node) {
			order = append(order, "enter:"+cur.ID())
		},
		NodeExited: func(n *story.Node) {
			order = append(order, "exit:"+n.ID())
		},
	})
	require.NoError(t, m.Start())

	// The branch's enter notification completes before the chained
	// transition to "line" begins.
	assert.Equal(t, []string{"enter:gate", "exit:gate", "enter:line"}, order)
}

func TestListenerReentrancy(t *testing.T) {
	// A NodeEntered listener that immediately progresses must queue the
	// transition, not re-enter the navigation in flight.
	m := loadStory(t, twoEndingsStory())

	var entered []string
	m.SetEvents(Events{
		NodeEntered: func(cur, prev *story.Node) {
			entered = append(entered, cur.ID())
			if cur.ID() == "start" {
				assert.NoError(t, m.Progress())
				// The queued transition has not run yet.
				assert.Equal(t, "start", m.CurrentNode().ID())
			}
		},
	})
	require.NoError(t, m.Start())

	assert.Equal(t, []string{"start", "choice1"}, entered)
	assert.Equal(t, "choice1", m.CurrentNode().ID())
}

func TestHistoryMonotonic(t *testing.T) {
	s := &types.Story{
		ID: "loop", Title: "Loop", StartNode: "a",
		Nodes: map[string]*types.StoryNodeData{
			"a": {Type: types.NodeDialogue, Text: "a", Character: "rin", NextNode: "b"},
			"b": {Type: types.NodeDialogue, Text: "b", Character: "rin", NextNode: "a"},
		},
	}
	m := loadStory(t, s)
	require.NoError(t, m.Start())

	for i := 0; i < 5; i++ {
		before := len(m.History())
		require.NoError(t, m.Progress())
		assert.Equal(t, before+1, len(m.History()))
	}
	// Revisits are recorded each time, never deduplicated.
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, m.History())
}

func TestNavigateToUnknownNode(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())

	err := m.NavigateToNode("ghost")
	var nfe *NodeNotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "ghost", nfe.ID)
}

func TestJumpToNode(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())
	require.NoError(t, m.Progress())

	t.Run("preserving history", func(t *testing.T) {
		require.NoError(t, m.JumpToNode("end2", true))
		assert.Equal(t, []string{"start", "choice1", "end2"}, m.History())
	})

	t.Run("clearing history", func(t *testing.T) {
		require.NoError(t, m.JumpToNode("end1", false))
		assert.Equal(t, []string{"end1"}, m.History())
	})
}

func TestJumpToUnknownNodeKeepsHistory(t *testing.T) {
	m := loadStory(t, twoEndingsStory())
	require.NoError(t, m.Start())
	require.NoError(t, m.Progress())

	err := m.JumpToNode("ghost", false)
	var nfe *NodeNotFoundError
	require.ErrorAs(t, err, &nfe)

	// The failed jump must not have cleared the run's history.
	assert.Equal(t, []string{"start", "choice1"}, m.History())
	assert.Equal(t, "choice1", m.CurrentNode().ID())
}

func TestReset(t *testing.T) {
	s := twoEndingsStory()
	s.InitialState = map[string]any{"gold": 10}
	s.Nodes["start"].StateChanges = map[string]any{"gold": 3}

	m := loadStory(t, s)
	var resets int
	m.SetEvents(Events{StoryReset: func(*types.Story) { resets++ }})

	require.NoError(t, m.Start())
	require.NoError(t, m.Progress())
	require.NoError(t, m.MakeChoice(0))

	require.NoError(t, m.Reset())
	assert.Equal(t, 1, resets)
	assert.Equal(t, "start", m.CurrentNode().ID())
	assert.Equal(t, []string{"start"}, m.History())
	// start's own state changes re-apply on the fresh run.
	assert.Equal(t, float64(3), m.GameState()["gold"])
}

func TestLoadProgress(t *testing.T) {
	s := twoEndingsStory()
	s.InitialState = map[string]any{"gold": 10}
	s.Nodes["start"].OnEnter = "gold = gold - 1"

	t.Run("restores position without replaying side effects", func(t *testing.T) {
		m := loadStory(t, s)
		var resumed, entered bool
		m.SetEvents(Events{
			StoryResumed: func(n *story.Node) { resumed = n.ID() == "choice1" },
			NodeEntered:  func(cur, prev *story.Node) { entered = prev == nil },
		})

		saved := map[string]any{"gold": float64(9)}
		require.NoError(t, m.LoadProgress("choice1", []string{"start", "choice1"}, nil, saved))

		assert.Equal(t, "choice1", m.CurrentNode().ID())
		assert.Equal(t, []string{"start", "choice1"}, m.History())
		assert.Equal(t, float64(9), m.GameState()["gold"], "enter scripts must not replay on resume")
		assert.Equal(t, PhaseActive, m.Phase())
		assert.True(t, resumed)
		assert.True(t, entered)
	})

	t.Run("nil game state falls back to initial state", func(t *testing.T) {
		m := loadStory(t, s)
		require.NoError(t, m.LoadProgress("choice1", []string{"start", "choice1"}, nil, nil))
		assert.Equal(t, float64(10), m.GameState()["gold"])
	})

	t.Run("unknown node fails", func(t *testing.T) {
		m := loadStory(t, s)
		var nfe *NodeNotFoundError
		assert.ErrorAs(t, m.LoadProgress("ghost", nil, nil, nil), &nfe)
	})

	t.Run("resuming at an end node yields Ended", func(t *testing.T) {
		m := loadStory(t, s)
		require.NoError(t, m.LoadProgress("end1", []string{"start", "choice1", "end1"}, nil, nil))
		assert.Equal(t, PhaseEnded, m.Phase())
	})

	t.Run("resuming at a scene node replays the switch", func(t *testing.T) {
		sceneStory := &types.Story{
			ID: "scenic", Title: "Scenic", StartNode: "intro",
			Nodes: map[string]*types.StoryNodeData{
				"intro": {Type: types.NodeScene, SceneID: "harbor", NextNode: "after"},
				"after": {Type: types.NodeEnd},
			},
		}
		m := loadStory(t, sceneStory)
		sw := &fakeSwitcher{known: map[string]bool{"harbor": true}}
		m.SetSceneSwitcher(sw)

		require.NoError(t, m.LoadProgress("intro", []string{"intro"}, nil, nil))

		assert.Equal(t, []string{"harbor"}, sw.switches)
		assert.Equal(t, "intro", m.CurrentNode().ID())
		assert.Equal(t, []string{"intro"}, m.History(), "replayed switch must not re-record the node")
	})

	t.Run("resuming at an unresolvable scene stays parked", func(t *testing.T) {
		sceneStory := &types.Story{
			ID: "scenic", Title: "Scenic", StartNode: "intro",
			Nodes: map[string]*types.StoryNodeData{
				"intro": {Type: types.NodeScene, SceneID: "harbor", NextNode: "after"},
				"after": {Type: types.NodeEnd},
			},
		}
		m := loadStory(t, sceneStory)
		m.SetSceneSwitcher(&fakeSwitcher{known: map[string]bool{}})

		require.NoError(t, m.LoadProgress("intro", []string{"intro"}, nil, nil))
		assert.Equal(t, "intro", m.CurrentNode().ID())
	})
}

func TestGameStateIsDefensiveCopy(t *testing.T) {
	s := twoEndingsStory()
	s.InitialState = map[string]any{"flags": map[string]any{"met": true}}
	m := loadStory(t, s)
	require.NoError(t, m.Start())

	snapshot := m.GameState()
	snapshot["flags"].(map[string]any)["met"] = false
	snapshot["injected"] = true

	fresh := m.GameState()
	assert.Equal(t, true, fresh["flags"].(map[string]any)["met"])
	_, ok := fresh["injected"]
	assert.False(t, ok)
}

func TestStateChangesWithDottedKeys(t *testing.T) {
	s := twoEndingsStory()
	s.Nodes["start"].StateChanges = map[string]any{"flags.sawIntro": true}
	m := loadStory(t, s)
	require.NoError(t, m.Start())

	flags, ok := m.GameState()["flags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, flags["sawIntro"])
}
