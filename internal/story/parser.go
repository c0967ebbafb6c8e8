// Package story provides story document parsing, validation, and the node
// wrapper used by the graph executor.
package story

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nshiba/tsumugi/internal/story/expr"
	"github.com/nshiba/tsumugi/pkg/types"
)

// Format identifies a story source format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatError reports malformed structured text.
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s story document: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ValidationError reports a structural problem in an otherwise well-formed
// document, naming the offending node and field.
type ValidationError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("invalid story: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid story: node %q: %s: %s", e.NodeID, e.Field, e.Reason)
}

// Parse converts raw structured text into a validated Story. Validation is
// total: the returned Story has full referential integrity and the executor
// does not re-check it at traversal time.
func Parse(raw []byte, format Format) (*types.Story, error) {
	var s types.Story
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return nil, &FormatError{Format: format, Err: err}
		}
	case FormatJSON:
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &FormatError{Format: format, Err: err}
		}
	default:
		return nil, fmt.Errorf("unknown story format %q", format)
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseFile reads and parses a story file, inferring the format from its
// extension.
func ParseFile(path string) (*types.Story, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read story file: %w", err)
	}
	return Parse(raw, format)
}

// FormatForPath infers the story format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot infer story format from %q", filepath.Base(path))
}

// Validate checks the story's structural invariants.
func Validate(s *types.Story) error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "missing required field"}
	}
	if s.Title == "" {
		return &ValidationError{Field: "title", Reason: "missing required field"}
	}
	if len(s.Nodes) == 0 {
		return &ValidationError{Field: "nodes", Reason: "story has no nodes"}
	}
	if s.StartNode == "" {
		return &ValidationError{Field: "start_node", Reason: "missing required field"}
	}
	if _, ok := s.Nodes[s.StartNode]; !ok {
		return &ValidationError{Field: "start_node", Reason: fmt.Sprintf("references unknown node %q", s.StartNode)}
	}

	// Deterministic validation order makes error output stable.
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := validateNode(s, id, s.Nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(s *types.Story, id string, data *types.StoryNodeData) error {
	if data == nil {
		return &ValidationError{NodeID: id, Field: "node", Reason: "empty node definition"}
	}
	if !data.Type.Valid() {
		return &ValidationError{NodeID: id, Field: "type", Reason: fmt.Sprintf("unknown node type %q", data.Type)}
	}

	switch data.Type {
	case types.NodeDialogue:
		if data.Text == "" {
			return &ValidationError{NodeID: id, Field: "text", Reason: "dialogue node requires text"}
		}
		if data.Character == "" {
			return &ValidationError{NodeID: id, Field: "character", Reason: "dialogue node requires a speaker"}
		}
	case types.NodeScene:
		if data.SceneID == "" {
			return &ValidationError{NodeID: id, Field: "scene_id", Reason: "scene node requires a scene id"}
		}
		for i, sc := range data.Characters {
			field := fmt.Sprintf("characters[%d]", i)
			if sc.ID == "" {
				return &ValidationError{NodeID: id, Field: field, Reason: "missing character id"}
			}
			if !sc.Position.Valid() {
				return &ValidationError{NodeID: id, Field: field, Reason: fmt.Sprintf("invalid position %q", sc.Position)}
			}
			if sc.Expression != "" && !sc.Expression.Valid() {
				return &ValidationError{NodeID: id, Field: field, Reason: fmt.Sprintf("invalid expression %q", sc.Expression)}
			}
		}
	case types.NodeChoice:
		if len(data.Choices) == 0 {
			return &ValidationError{NodeID: id, Field: "choices", Reason: "choice node requires at least one choice"}
		}
		for i, c := range data.Choices {
			field := fmt.Sprintf("choices[%d]", i)
			if c.ID == "" {
				return &ValidationError{NodeID: id, Field: field, Reason: "missing choice id"}
			}
			if c.Text == "" {
				return &ValidationError{NodeID: id, Field: field, Reason: "missing choice text"}
			}
			if c.NextNode == "" {
				return &ValidationError{NodeID: id, Field: field, Reason: "missing choice target"}
			}
			if _, ok := s.Nodes[c.NextNode]; !ok {
				return &ValidationError{NodeID: id, Field: field, Reason: fmt.Sprintf("references unknown node %q", c.NextNode)}
			}
			if _, err := expr.Compile(c.Condition); err != nil {
				return &ValidationError{NodeID: id, Field: field + ".condition", Reason: err.Error()}
			}
		}
	case types.NodeBranch:
		if strings.TrimSpace(data.Condition) == "" {
			return &ValidationError{NodeID: id, Field: "condition", Reason: "branch node requires a condition"}
		}
		if data.NextNode == "" {
			return &ValidationError{NodeID: id, Field: "next_node", Reason: "branch node requires a target"}
		}
	case types.NodeEnd:
		if data.NextNode != "" {
			return &ValidationError{NodeID: id, Field: "next_node", Reason: "end node cannot have a target"}
		}
	}

	if data.NextNode != "" {
		if _, ok := s.Nodes[data.NextNode]; !ok {
			return &ValidationError{NodeID: id, Field: "next_node", Reason: fmt.Sprintf("references unknown node %q", data.NextNode)}
		}
	}
	if data.Metadata != nil && data.Metadata.Emotion != "" && !data.Metadata.Emotion.Valid() {
		return &ValidationError{NodeID: id, Field: "metadata.emotion", Reason: fmt.Sprintf("invalid emotion %q", data.Metadata.Emotion)}
	}

	// Conditions and scripts are checked here so bad expressions surface at
	// load time, not mid-traversal.
	if _, err := expr.Compile(data.Condition); err != nil {
		return &ValidationError{NodeID: id, Field: "condition", Reason: err.Error()}
	}
	if _, err := expr.CompileScript(data.OnEnter); err != nil {
		return &ValidationError{NodeID: id, Field: "on_enter", Reason: err.Error()}
	}
	if _, err := expr.CompileScript(data.OnExit); err != nil {
		return &ValidationError{NodeID: id, Field: "on_exit", Reason: err.Error()}
	}
	return nil
}

// Reachability walks the graph from the start node and returns the ids of
// nodes that can never be reached. Diagnostic only: unreachable nodes are
// legal, if probably unintended.
func Reachability(s *types.Story) []string {
	seen := make(map[string]bool, len(s.Nodes))
	stack := []string{s.StartNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		data, ok := s.Nodes[id]
		if !ok {
			continue
		}
		if data.NextNode != "" {
			stack = append(stack, data.NextNode)
		}
		for _, c := range data.Choices {
			stack = append(stack, c.NextNode)
		}
	}

	var unreachable []string
	for id := range s.Nodes {
		if !seen[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	return unreachable
}
