package story

import (
	"fmt"
	"io"
	"log"

	"github.com/nshiba/tsumugi/internal/story/expr"
	"github.com/nshiba/tsumugi/pkg/types"
)

// Node wraps one story node with compiled condition and scripts. Condition
// evaluation fails closed and script failures never abort traversal: a
// single bad expression must not brick an otherwise-playable story.
type Node struct {
	id        string
	data      *types.StoryNodeData
	condition *expr.Expr
	onEnter   *expr.Script
	onExit    *expr.Script
	choices   []*expr.Expr // parallel to data.Choices
	logger    *log.Logger
}

// WrapNode builds a Node from validated node data. The data must already
// have passed Validate; WrapNode only reports compile errors the validator
// would have caught, so callers treat an error here as a programming bug.
func WrapNode(id string, data *types.StoryNodeData, logger *log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cond, err := expr.Compile(data.Condition)
	if err != nil {
		return nil, fmt.Errorf("node %q condition: %w", id, err)
	}
	enter, err := expr.CompileScript(data.OnEnter)
	if err != nil {
		return nil, fmt.Errorf("node %q on_enter: %w", id, err)
	}
	exit, err := expr.CompileScript(data.OnExit)
	if err != nil {
		return nil, fmt.Errorf("node %q on_exit: %w", id, err)
	}
	choiceConds := make([]*expr.Expr, len(data.Choices))
	for i, c := range data.Choices {
		cc, err := expr.Compile(c.Condition)
		if err != nil {
			return nil, fmt.Errorf("node %q choice %d condition: %w", id, i, err)
		}
		choiceConds[i] = cc
	}
	return &Node{
		id:        id,
		data:      data,
		condition: cond,
		onEnter:   enter,
		onExit:    exit,
		choices:   choiceConds,
		logger:    logger,
	}, nil
}

// ID returns the node's id within the story graph.
func (n *Node) ID() string { return n.id }

// Type returns the node type.
func (n *Node) Type() types.NodeType { return n.data.Type }

// Data returns the underlying node data. Callers must not mutate it.
func (n *Node) Data() *types.StoryNodeData { return n.data }

// Text returns the dialogue text.
func (n *Node) Text() string { return n.data.Text }

// Character returns the dialogue speaker id.
func (n *Node) Character() string { return n.data.Character }

// Mood returns the scripted mood string for a dialogue node.
func (n *Node) Mood() string { return n.data.Mood }

// NextNode returns the follow-on node id, empty if none.
func (n *Node) NextNode() string { return n.data.NextNode }

// SceneID returns the declared scene id for a scene node.
func (n *Node) SceneID() string { return n.data.SceneID }

// Background returns the backdrop hint for a scene node.
func (n *Node) Background() string { return n.data.Background }

// SceneCharacters returns a scene node's declared blocking.
func (n *Node) SceneCharacters() []types.SceneCharacter { return n.data.Characters }

// Metadata returns the node's presentation hints, nil if absent.
func (n *Node) Metadata() *types.NodeMetadata { return n.data.Metadata }

// StateChanges returns the node's unconditional state changes.
func (n *Node) StateChanges() map[string]any { return n.data.StateChanges }

// IsEnd reports whether the node terminates the story.
func (n *Node) IsEnd() bool { return n.data.Type == types.NodeEnd }

// EvaluateCondition evaluates the node's condition against the game state.
// Evaluation errors are logged and treated as false.
func (n *Node) EvaluateCondition(state map[string]any) bool {
	ok, err := n.condition.Eval(state)
	if err != nil {
		n.logger.Printf("node %s: condition failed, treating as false: %v", n.id, err)
		return false
	}
	return ok
}

// RunOnEnter executes the node's enter script. Errors are logged; the
// partial effects of a failed script are kept, matching run-to-failure
// statement semantics.
func (n *Node) RunOnEnter(state map[string]any) {
	if err := n.onEnter.Run(state); err != nil {
		n.logger.Printf("node %s: on_enter failed: %v", n.id, err)
	}
}

// RunOnExit executes the node's exit script. Errors are logged.
func (n *Node) RunOnExit(state map[string]any) {
	if err := n.onExit.Run(state); err != nil {
		n.logger.Printf("node %s: on_exit failed: %v", n.id, err)
	}
}

// AvailableChoices filters the node's choices to those whose condition is
// absent or true against the state, preserving declaration order.
func (n *Node) AvailableChoices(state map[string]any) []types.Choice {
	if n.data.Type != types.NodeChoice {
		return nil
	}
	out := make([]types.Choice, 0, len(n.data.Choices))
	for i, c := range n.data.Choices {
		ok, err := n.choices[i].Eval(state)
		if err != nil {
			n.logger.Printf("node %s: choice %d condition failed, hiding: %v", n.id, i, err)
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}
