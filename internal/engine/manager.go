// Package engine implements the story graph executor: the state machine
// that owns the current narrative position, game state and history.
package engine

import (
	"fmt"
	"io"
	"log"

	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/internal/story/expr"
	"github.com/nshiba/tsumugi/pkg/types"
)

// Phase is the manager's lifecycle state.
type Phase int

const (
	PhaseIdle   Phase = iota // no story loaded
	PhaseLoaded              // story loaded, no current node
	PhaseActive              // current node set
	PhaseEnded               // current node is an end node
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoaded:
		return "loaded"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

type pendingTransition struct {
	target string
	record bool // append to history
}

// Manager executes a story graph. It exclusively owns the game state and
// history; consumers read defensive copies. It is single-threaded by design
// and must not be shared across goroutines.
type Manager struct {
	logger *log.Logger
	events Events
	scenes SceneSwitcher

	storyDoc *types.Story
	nodes    map[string]*story.Node
	current  *story.Node
	state    map[string]any
	history  []string
	phase    Phase

	// Pending transitions are drained after the current notification batch
	// so listeners observe a completed transition before a chained one
	// begins. Chained branch/scene cycles with always-true conditions are a
	// caller responsibility; the engine does not guard against them.
	pending  []pendingTransition
	draining bool
}

// NewManager creates an executor with no story loaded. A nil logger
// discards diagnostics.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{logger: logger, phase: PhaseIdle}
}

// SetEvents installs the lifecycle callbacks. Call before Start.
func (m *Manager) SetEvents(ev Events) { m.events = ev }

// SetSceneSwitcher installs the presentation scene collaborator.
func (m *Manager) SetSceneSwitcher(s SceneSwitcher) { m.scenes = s }

// Load installs a validated story and resets execution state. It fails
// without side effects if any node cannot be wrapped, so a half-loaded
// story is never installed.
func (m *Manager) Load(s *types.Story) error {
	nodes := make(map[string]*story.Node, len(s.Nodes))
	for id, data := range s.Nodes {
		n, err := story.WrapNode(id, data, m.logger)
		if err != nil {
			return fmt.Errorf("load story %q: %w", s.ID, err)
		}
		nodes[id] = n
	}
	m.storyDoc = s
	m.nodes = nodes
	m.current = nil
	m.history = nil
	m.pending = nil
	m.state = cloneMap(s.InitialState)
	m.phase = PhaseLoaded
	return nil
}

// Story returns the loaded story document, nil when idle.
func (m *Manager) Story() *types.Story { return m.storyDoc }

// Phase returns the manager's lifecycle state.
func (m *Manager) Phase() Phase { return m.phase }

// CurrentNode returns the current node, nil before Start.
func (m *Manager) CurrentNode() *story.Node { return m.current }

// Node returns a wrapped node by id.
func (m *Manager) Node(id string) (*story.Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// GameState returns a deep copy of the game state. Mutating the copy has no
// effect on the engine.
func (m *Manager) GameState() map[string]any { return cloneMap(m.state) }

// History returns a copy of the visited node id sequence. Revisited nodes
// appear once per visit.
func (m *Manager) History() []string {
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// GetVisitedNodes returns the history for save data.
func (m *Manager) GetVisitedNodes() []string { return m.History() }

// GetCompletedBranches returns the ids of branch-type nodes present in
// history, deduplicated in first-visit order.
func (m *Manager) GetCompletedBranches() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range m.history {
		if seen[id] {
			continue
		}
		if n, ok := m.nodes[id]; ok && n.Type() == types.NodeBranch {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// AvailableChoices returns the current node's choices filtered by the game
// state, empty for non-choice nodes.
func (m *Manager) AvailableChoices() []types.Choice {
	if m.current == nil {
		return nil
	}
	return m.current.AvailableChoices(m.state)
}

// Start navigates to the story's start node.
func (m *Manager) Start() error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	if m.events.StoryStarted != nil {
		m.events.StoryStarted(m.storyDoc)
	}
	return m.NavigateToNode(m.storyDoc.StartNode)
}

// NavigateToNode is the core transition primitive. The transition sequence
// is: exit current node, set current, append history, apply state changes,
// run enter script, notify, then auto-progress by node type. When called
// from inside a notification the transition is queued behind the one in
// flight rather than re-entering.
func (m *Manager) NavigateToNode(id string) error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	if _, ok := m.nodes[id]; !ok {
		return &NodeNotFoundError{ID: id}
	}
	m.pending = append(m.pending, pendingTransition{target: id, record: true})
	return m.drain()
}

func (m *Manager) drain() error {
	if m.draining {
		return nil
	}
	m.draining = true
	defer func() { m.draining = false }()

	for len(m.pending) > 0 {
		pt := m.pending[0]
		m.pending = m.pending[1:]
		if err := m.transition(pt); err != nil {
			m.pending = nil
			return err
		}
	}
	return nil
}

func (m *Manager) transition(pt pendingTransition) error {
	target, ok := m.nodes[pt.target]
	if !ok {
		return &NodeNotFoundError{ID: pt.target}
	}

	prev := m.current
	if prev != nil {
		prev.RunOnExit(m.state)
		if m.events.NodeExited != nil {
			m.events.NodeExited(prev)
		}
	}

	m.current = target
	m.phase = PhaseActive
	if pt.record {
		m.history = append(m.history, target.ID())
	}

	if changes := target.StateChanges(); len(changes) > 0 {
		m.applyStateChanges(changes)
	}
	target.RunOnEnter(m.state)

	if m.events.NodeEntered != nil {
		m.events.NodeEntered(target, prev)
	}

	switch target.Type() {
	case types.NodeEnd:
		m.phase = PhaseEnded
	case types.NodeScene:
		if m.scenes != nil && m.scenes.HasScene(target.SceneID()) {
			transition := ""
			if md := target.Metadata(); md != nil {
				transition = md.Transition
			}
			m.scenes.SwitchTo(target.SceneID(), transition)
		} else if target.NextNode() != "" {
			m.pending = append(m.pending, pendingTransition{target: target.NextNode(), record: true})
		}
	case types.NodeBranch:
		if target.EvaluateCondition(m.state) {
			m.pending = append(m.pending, pendingTransition{target: target.NextNode(), record: true})
		}
	}
	return nil
}

// applyStateChanges writes a state-change mapping into the game state. Keys
// may be dotted paths; failures are logged and skipped.
func (m *Manager) applyStateChanges(changes map[string]any) {
	for k, v := range changes {
		if err := expr.Set(m.state, k, normalize(v)); err != nil {
			m.logger.Printf("state change %q skipped: %v", k, err)
		}
	}
	if m.events.StateChanged != nil {
		m.events.StateChanged(m.GameState())
	}
}

// MakeChoice resolves index against the currently available choices,
// applies the choice's state changes and navigates to its target. An
// out-of-range index fails without mutating history or game state.
func (m *Manager) MakeChoice(index int) error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	if m.current == nil {
		return ErrNotStarted
	}
	if m.current.Type() != types.NodeChoice {
		return fmt.Errorf("node %q: %w", m.current.ID(), ErrNotChoiceNode)
	}

	available := m.current.AvailableChoices(m.state)
	if index < 0 || index >= len(available) {
		return &InvalidChoiceError{Index: index, Available: len(available)}
	}
	chosen := available[index]

	if len(chosen.StateChanges) > 0 {
		m.applyStateChanges(chosen.StateChanges)
	}
	if m.events.ChoiceMade != nil {
		m.events.ChoiceMade(m.current, chosen, index)
	}
	return m.NavigateToNode(chosen.NextNode)
}

// Progress advances a non-choice, non-end node to its next node.
func (m *Manager) Progress() error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	if m.current == nil {
		return ErrNotStarted
	}
	switch {
	case m.current.Type() == types.NodeChoice:
		return &CannotProgressError{NodeID: m.current.ID(), Reason: ReasonChoiceNode}
	case m.current.IsEnd():
		return &CannotProgressError{NodeID: m.current.ID(), Reason: ReasonEndNode}
	case m.current.NextNode() == "":
		return &CannotProgressError{NodeID: m.current.ID(), Reason: ReasonNoNextNode}
	}
	return m.NavigateToNode(m.current.NextNode())
}

// JumpToNode bypasses normal flow for debugging and deep links. When
// preserveHistory is false the history is cleared first.
func (m *Manager) JumpToNode(id string, preserveHistory bool) error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	// Validate the target before touching history so a failed jump leaves
	// the run unchanged.
	if _, ok := m.nodes[id]; !ok {
		return &NodeNotFoundError{ID: id}
	}
	if !preserveHistory {
		m.history = nil
	}
	return m.NavigateToNode(id)
}

// Reset restores the initial game state, clears position and history, and
// starts the story again.
func (m *Manager) Reset() error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	m.state = cloneMap(m.storyDoc.InitialState)
	m.history = nil
	m.current = nil
	m.pending = nil
	m.phase = PhaseLoaded
	if m.events.StoryReset != nil {
		m.events.StoryReset(m.storyDoc)
	}
	return m.Start()
}

// LoadProgress restores a saved narrative position: the game state is
// replaced (initial state when gameState is nil), the history is replaced
// verbatim, and the current node is set without re-running enter scripts or
// state changes — the saved state already reflects them. Side effects of
// nodes between start and the restored position are not replayed; stories
// with cumulative per-visit effects will under-count after a resume. A save
// parked on a scene node does get its scene switch re-issued, so the
// presentation layer can rebuild the scene it was showing. The
// completedBranches list is accepted for save-format compatibility; the set
// is re-derived from history.
func (m *Manager) LoadProgress(nodeID string, visited, completedBranches []string, gameState map[string]any) error {
	if m.storyDoc == nil {
		return ErrNoStory
	}
	target, ok := m.nodes[nodeID]
	if !ok {
		return &NodeNotFoundError{ID: nodeID}
	}
	_ = completedBranches

	if gameState != nil {
		m.state = cloneMap(gameState)
	} else {
		m.state = cloneMap(m.storyDoc.InitialState)
	}
	m.history = make([]string, len(visited))
	copy(m.history, visited)
	m.pending = nil
	m.current = target
	if target.IsEnd() {
		m.phase = PhaseEnded
	} else {
		m.phase = PhaseActive
	}

	if m.events.StoryResumed != nil {
		m.events.StoryResumed(target)
	}
	if m.events.NodeEntered != nil {
		m.events.NodeEntered(target, nil)
	}

	// A run saved while waiting on a scene resumes into that same wait, so
	// the switch is replayed. No auto-progression on the unresolvable path:
	// the save recorded this node as current.
	if target.Type() == types.NodeScene && m.scenes != nil && m.scenes.HasScene(target.SceneID()) {
		transition := ""
		if md := target.Metadata(); md != nil {
			transition = md.Transition
		}
		m.scenes.SwitchTo(target.SceneID(), transition)
	}
	return nil
}

// cloneMap deep-copies a state mapping, normalizing numbers so values read
// back from YAML, JSON and scripts compare consistently.
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return v
}
