package engine

import (
	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/pkg/types"
)

// Events holds the manager's lifecycle callbacks. Every field is optional;
// nil callbacks are skipped. Callbacks run synchronously and strictly after
// the state mutation they describe, so a listener always observes the
// post-transition state. A listener may call back into the manager (for
// example Progress from a NodeEntered handler); the resulting transition is
// queued and runs after the current notification batch.
type Events struct {
	StoryStarted func(s *types.Story)
	StoryReset   func(s *types.Story)
	StoryResumed func(node *story.Node)
	NodeEntered  func(current, previous *story.Node)
	NodeExited   func(node *story.Node)
	ChoiceMade   func(node *story.Node, choice types.Choice, index int)
	StateChanged func(state map[string]any)
}

// SceneSwitcher is the presentation-layer capability consumed by scene
// nodes. The engine switches to scenes it can resolve and otherwise falls
// through to the node's next_node.
type SceneSwitcher interface {
	HasScene(sceneID string) bool
	SwitchTo(sceneID, transition string)
}
