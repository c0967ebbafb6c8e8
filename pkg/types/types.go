// Package types provides shared data models for tsumugi.
package types

import (
	"time"
)

// NodeType identifies the kind of a story node.
type NodeType string

const (
	NodeDialogue NodeType = "dialogue"
	NodeScene    NodeType = "scene"
	NodeChoice   NodeType = "choice"
	NodeBranch   NodeType = "branch"
	NodeEnd      NodeType = "end"
)

// Valid reports whether the node type is one of the known variants.
func (t NodeType) Valid() bool {
	switch t {
	case NodeDialogue, NodeScene, NodeChoice, NodeBranch, NodeEnd:
		return true
	}
	return false
}

// Position is a character's stage placement.
type Position string

const (
	PositionLeft           Position = "left"
	PositionCenter         Position = "center"
	PositionRight          Position = "right"
	PositionOffscreenLeft  Position = "offscreen-left"
	PositionOffscreenRight Position = "offscreen-right"
)

// Valid reports whether the position is a known stage placement.
func (p Position) Valid() bool {
	switch p {
	case PositionLeft, PositionCenter, PositionRight,
		PositionOffscreenLeft, PositionOffscreenRight:
		return true
	}
	return false
}

// Offscreen reports whether the position is outside the visible stage.
func (p Position) Offscreen() bool {
	return p == PositionOffscreenLeft || p == PositionOffscreenRight
}

// Emotion is a character's displayed emotional state.
type Emotion string

const (
	EmotionNeutral     Emotion = "neutral"
	EmotionHappy       Emotion = "happy"
	EmotionSad         Emotion = "sad"
	EmotionAngry       Emotion = "angry"
	EmotionSurprised   Emotion = "surprised"
	EmotionFearful     Emotion = "fearful"
	EmotionThoughtful  Emotion = "thoughtful"
	EmotionEmbarrassed Emotion = "embarrassed"
)

// Valid reports whether the emotion is a known value.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionSad, EmotionAngry,
		EmotionSurprised, EmotionFearful, EmotionThoughtful, EmotionEmbarrassed:
		return true
	}
	return false
}

// Story is the parsed, validated story document. It is immutable once loaded.
type Story struct {
	ID           string                    `yaml:"id" json:"id"`
	Title        string                    `yaml:"title" json:"title"`
	StartNode    string                    `yaml:"start_node" json:"startNode"`
	Nodes        map[string]*StoryNodeData `yaml:"nodes" json:"nodes"`
	InitialState map[string]any            `yaml:"initial_state" json:"initialState"`
}

// StoryNodeData is one authored node. Fields are type-dependent; the parser
// enforces which are required for each NodeType.
type StoryNodeData struct {
	Type NodeType `yaml:"type" json:"type"`

	// dialogue
	Text      string `yaml:"text,omitempty" json:"text,omitempty"`
	Character string `yaml:"character,omitempty" json:"character,omitempty"`
	Mood      string `yaml:"mood,omitempty" json:"mood,omitempty"`

	// scene
	SceneID    string           `yaml:"scene_id,omitempty" json:"sceneId,omitempty"`
	Background string           `yaml:"background,omitempty" json:"background,omitempty"`
	Characters []SceneCharacter `yaml:"characters,omitempty" json:"characters,omitempty"`

	// choice
	Choices []Choice `yaml:"choices,omitempty" json:"choices,omitempty"`

	// branch
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// common
	NextNode     string         `yaml:"next_node,omitempty" json:"nextNode,omitempty"`
	StateChanges map[string]any `yaml:"state_changes,omitempty" json:"stateChanges,omitempty"`
	OnEnter      string         `yaml:"on_enter,omitempty" json:"onEnter,omitempty"`
	OnExit       string         `yaml:"on_exit,omitempty" json:"onExit,omitempty"`
	Metadata     *NodeMetadata  `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Animations   []string       `yaml:"animations,omitempty" json:"animations,omitempty"`
}

// Choice is one selectable option on a choice node.
type Choice struct {
	ID           string         `yaml:"id" json:"id"`
	Text         string         `yaml:"text" json:"text"`
	NextNode     string         `yaml:"next_node" json:"nextNode"`
	Condition    string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	StateChanges map[string]any `yaml:"state_changes,omitempty" json:"stateChanges,omitempty"`
}

// SceneCharacter declares a character's blocking for a scene node.
type SceneCharacter struct {
	ID         string   `yaml:"id" json:"id"`
	Position   Position `yaml:"position" json:"position"`
	Expression Emotion  `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// NodeMetadata carries optional presentation hints.
type NodeMetadata struct {
	Transition string  `yaml:"transition,omitempty" json:"transition,omitempty"`
	Effect     string  `yaml:"effect,omitempty" json:"effect,omitempty"`
	Emotion    Emotion `yaml:"emotion,omitempty" json:"emotion,omitempty"`
}

// CharacterState is the live presentation state of one character.
type CharacterState struct {
	ID            string             `yaml:"id" json:"id"`
	Position      Position           `yaml:"position" json:"position"`
	Emotion       Emotion            `yaml:"emotion" json:"emotion"`
	Animation     string             `yaml:"animation,omitempty" json:"animation,omitempty"`
	Visible       bool               `yaml:"visible" json:"visible"`
	Flags         map[string]any     `yaml:"flags,omitempty" json:"flags,omitempty"`
	Relationships map[string]float64 `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// DefaultCharacterState returns the registration-time state for a character.
func DefaultCharacterState(id string) CharacterState {
	return CharacterState{
		ID:            id,
		Position:      PositionOffscreenLeft,
		Emotion:       EmotionNeutral,
		Visible:       false,
		Flags:         make(map[string]any),
		Relationships: make(map[string]float64),
	}
}

// Clone returns a deep copy of the character state.
func (s CharacterState) Clone() CharacterState {
	out := s
	out.Flags = make(map[string]any, len(s.Flags))
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	out.Relationships = make(map[string]float64, len(s.Relationships))
	for k, v := range s.Relationships {
		out.Relationships[k] = v
	}
	return out
}

// ActionType identifies a character presentation instruction.
type ActionType string

const (
	ActionEnter         ActionType = "enter"
	ActionExit          ActionType = "exit"
	ActionMove          ActionType = "move"
	ActionChangeEmotion ActionType = "change_emotion"
	ActionAnimate       ActionType = "animate"
	ActionSpeak         ActionType = "speak"
)

// CharacterAction is a discrete presentation instruction derived from
// narrative state. Actions are the only channel through which the engine
// drives the presentation layer.
type CharacterAction struct {
	Type        ActionType `json:"type"`
	CharacterID string     `json:"characterId"`
	Position    Position   `json:"position,omitempty"`
	Emotion     Emotion    `json:"emotion,omitempty"`
	Animation   string     `json:"animation,omitempty"`
	Text        string     `json:"text,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	Intensity   float64    `json:"intensity,omitempty"`
}

// SaveVersion is the current SaveData schema version.
const SaveVersion = 1

// SaveData is the persisted narrative position. Round-tripping a save must
// reproduce an equivalent Active state for narrative-decision purposes; it
// does not capture in-flight presentation state.
type SaveData struct {
	Version           int                       `json:"version"`
	StoryID           string                    `json:"storyId"`
	Label             string                    `json:"label,omitempty"`
	CurrentNodeID     string                    `json:"currentNodeId"`
	VisitedNodes      []string                  `json:"visitedNodes"`
	CompletedBranches []string                  `json:"completedBranches"`
	CharacterStates   map[string]CharacterState `json:"characterStates"`
	GameState         map[string]any            `json:"gameState"`
	SavedAt           time.Time                 `json:"savedAt"`
}

// GlobalConfig is the user-wide configuration at ~/.config/tsumugi/config.yaml.
type GlobalConfig struct {
	Version    int           `yaml:"version"`
	StoriesDir string        `yaml:"stories_dir"`
	DataDir    string        `yaml:"data_dir"`
	TextSpeed  int           `yaml:"text_speed"`
	Autosave   bool          `yaml:"autosave"`
	Logging    LoggingConfig `yaml:"logging"`
}

// LoggingConfig specifies logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultGlobalConfig returns a new GlobalConfig with sensible defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Version:    1,
		StoriesDir: "~/tsumugi-stories",
		DataDir:    "", // resolved to the XDG data dir when empty
		TextSpeed:  30,
		Autosave:   true,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
