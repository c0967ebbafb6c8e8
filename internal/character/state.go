// Package character holds live per-character presentation state and derives
// presentation actions from story nodes.
package character

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/nshiba/tsumugi/pkg/types"
)

// StatePatch is a partial character-state update. Nil fields are left
// unchanged; Flags and Relationships entries are merged in.
type StatePatch struct {
	Position      *types.Position
	Emotion       *types.Emotion
	Animation     *string
	Visible       *bool
	Flags         map[string]any
	Relationships map[string]float64
}

// ChangeListener is notified after a character's state changes, keyed by
// character id.
type ChangeListener func(id string, state types.CharacterState)

// Manager owns the live state of all registered characters. Consumers
// receive copies; only the manager mutates the underlying records.
type Manager struct {
	states    map[string]*types.CharacterState
	listeners []ChangeListener
	logger    *log.Logger
}

// NewManager creates an empty character state manager. A nil logger
// discards diagnostics.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		states: make(map[string]*types.CharacterState),
		logger: logger,
	}
}

// OnChange registers a change listener.
func (m *Manager) OnChange(fn ChangeListener) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(id string) {
	st, ok := m.states[id]
	if !ok {
		return
	}
	for _, fn := range m.listeners {
		fn(id, st.Clone())
	}
}

// InitializeCharacter registers a character with the given state. It is
// idempotent: re-registering an existing id keeps the current state.
func (m *Manager) InitializeCharacter(id string, state types.CharacterState) {
	if _, exists := m.states[id]; exists {
		return
	}
	st := state.Clone()
	st.ID = id
	if st.Flags == nil {
		st.Flags = make(map[string]any)
	}
	if st.Relationships == nil {
		st.Relationships = make(map[string]float64)
	}
	m.states[id] = &st
}

// Ensure registers a character with default state if it is unknown.
func (m *Manager) Ensure(id string) {
	m.InitializeCharacter(id, types.DefaultCharacterState(id))
}

// CharacterState returns a copy of a character's state.
func (m *Manager) CharacterState(id string) (types.CharacterState, bool) {
	st, ok := m.states[id]
	if !ok {
		return types.CharacterState{}, false
	}
	return st.Clone(), true
}

// Known reports whether a character id is registered.
func (m *Manager) Known(id string) bool {
	_, ok := m.states[id]
	return ok
}

// IDs returns all registered character ids.
func (m *Manager) IDs() []string {
	out := make([]string, 0, len(m.states))
	for id := range m.states {
		out = append(out, id)
	}
	return out
}

// Snapshot returns copies of all live character states keyed by id.
func (m *Manager) Snapshot() map[string]types.CharacterState {
	out := make(map[string]types.CharacterState, len(m.states))
	for id, st := range m.states {
		out[id] = st.Clone()
	}
	return out
}

// UpdateCharacterState merges a partial update into a character's state and
// fires a change notification, even for an empty patch. Updates to an
// unknown id are logged no-ops: narrative scripts may reference characters
// defensively.
func (m *Manager) UpdateCharacterState(id string, patch StatePatch) {
	st, ok := m.states[id]
	if !ok {
		m.logger.Printf("update for unknown character %q ignored", id)
		return
	}
	if patch.Position != nil {
		st.Position = *patch.Position
	}
	if patch.Emotion != nil {
		st.Emotion = *patch.Emotion
	}
	if patch.Animation != nil {
		st.Animation = *patch.Animation
	}
	if patch.Visible != nil {
		st.Visible = *patch.Visible
	}
	for k, v := range patch.Flags {
		st.Flags[k] = v
	}
	for k, v := range patch.Relationships {
		st.Relationships[k] = v
	}
	m.notify(id)
}

// SetEmotion updates a character's emotion.
func (m *Manager) SetEmotion(id string, emotion types.Emotion) {
	m.UpdateCharacterState(id, StatePatch{Emotion: &emotion})
}

// Apply mutates character state according to a derived action. Actions for
// unknown characters are registered on the fly for enters and ignored with
// a warning otherwise.
func (m *Manager) Apply(action types.CharacterAction) {
	id := action.CharacterID
	if !m.Known(id) {
		if action.Type == types.ActionEnter {
			m.Ensure(id)
		} else {
			m.logger.Printf("action %s for unknown character %q skipped", action.Type, id)
			return
		}
	}

	switch action.Type {
	case types.ActionEnter:
		visible := true
		pos := action.Position
		if pos == "" {
			pos = types.PositionCenter
		}
		m.UpdateCharacterState(id, StatePatch{Position: &pos, Visible: &visible})
	case types.ActionExit:
		visible := false
		pos := action.Position
		if pos == "" {
			pos = types.PositionOffscreenLeft
		}
		m.UpdateCharacterState(id, StatePatch{Position: &pos, Visible: &visible})
	case types.ActionMove:
		m.UpdateCharacterState(id, StatePatch{Position: &action.Position})
	case types.ActionChangeEmotion:
		m.UpdateCharacterState(id, StatePatch{Emotion: &action.Emotion})
	case types.ActionAnimate:
		m.UpdateCharacterState(id, StatePatch{Animation: &action.Animation})
	case types.ActionSpeak:
		if action.Emotion != "" {
			m.UpdateCharacterState(id, StatePatch{Emotion: &action.Emotion})
		}
	}
}

// CheckCondition evaluates a comparison against a character property
// resolved by dotted path. Paths address the built-in fields (position,
// emotion, visible, animation) or nested custom state under flags and
// relationships. Unknown characters or unresolvable paths return false.
func (m *Manager) CheckCondition(id, path, operator string, value any) bool {
	st, ok := m.states[id]
	if !ok {
		m.logger.Printf("condition on unknown character %q is false", id)
		return false
	}
	got, ok := resolvePath(st, path)
	if !ok {
		return false
	}
	res, err := compare(got, operator, value)
	if err != nil {
		m.logger.Printf("character %q condition %s %s: %v", id, path, operator, err)
		return false
	}
	return res
}

func resolvePath(st *types.CharacterState, path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any
	switch segs[0] {
	case "position":
		cur = string(st.Position)
	case "emotion":
		cur = string(st.Emotion)
	case "animation":
		cur = st.Animation
	case "visible":
		cur = st.Visible
	case "flags":
		cur = anyMap(st.Flags)
	case "relationships":
		rel := make(map[string]any, len(st.Relationships))
		for k, v := range st.Relationships {
			rel[k] = v
		}
		cur = rel
	default:
		return nil, false
	}
	for _, seg := range segs[1:] {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func anyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func compare(got any, operator string, want any) (bool, error) {
	switch operator {
	case "==":
		return looseEqual(got, want), nil
	case "!=":
		return !looseEqual(got, want), nil
	case "contains":
		switch g := got.(type) {
		case string:
			return strings.Contains(g, fmt.Sprintf("%v", want)), nil
		case []any:
			for _, item := range g {
				if looseEqual(item, want) {
					return true, nil
				}
			}
			return false, nil
		case map[string]any:
			_, ok := g[fmt.Sprintf("%v", want)]
			return ok, nil
		}
		return false, fmt.Errorf("contains not supported on %T", got)
	case ">", ">=", "<", "<=":
		gf, gok := toFloat(got)
		wf, wok := toFloat(want)
		if !gok || !wok {
			return false, fmt.Errorf("cannot order %T against %T", got, want)
		}
		switch operator {
		case ">":
			return gf > wf, nil
		case ">=":
			return gf >= wf, nil
		case "<":
			return gf < wf, nil
		case "<=":
			return gf <= wf, nil
		}
	}
	return false, fmt.Errorf("unknown operator %q", operator)
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// ExportForSave returns a wholesale snapshot of all character states.
func (m *Manager) ExportForSave() map[string]types.CharacterState {
	return m.Snapshot()
}

// LoadFromSaveData replaces all character state with a saved snapshot.
func (m *Manager) LoadFromSaveData(saved map[string]types.CharacterState) {
	m.states = make(map[string]*types.CharacterState, len(saved))
	for id, st := range saved {
		clone := st.Clone()
		clone.ID = id
		if clone.Flags == nil {
			clone.Flags = make(map[string]any)
		}
		if clone.Relationships == nil {
			clone.Relationships = make(map[string]float64)
		}
		m.states[id] = &clone
	}
	for id := range m.states {
		m.notify(id)
	}
}

// Reset restores every registered character to its default state.
func (m *Manager) Reset() {
	for id := range m.states {
		st := types.DefaultCharacterState(id)
		m.states[id] = &st
		m.notify(id)
	}
}

// Clear removes all registered characters.
func (m *Manager) Clear() {
	m.states = make(map[string]*types.CharacterState)
}
