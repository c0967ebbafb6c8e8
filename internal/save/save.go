// Package save converts between live engine state and the persisted
// save-data format.
package save

import (
	"fmt"
	"time"

	"github.com/nshiba/tsumugi/internal/character"
	"github.com/nshiba/tsumugi/internal/engine"
	"github.com/nshiba/tsumugi/pkg/types"
)

// Snapshot captures the current narrative position as save data. The engine
// must have a current node.
func Snapshot(eng *engine.Manager, chars *character.Manager, label string) (*types.SaveData, error) {
	s := eng.Story()
	if s == nil {
		return nil, engine.ErrNoStory
	}
	current := eng.CurrentNode()
	if current == nil {
		return nil, engine.ErrNotStarted
	}

	return &types.SaveData{
		Version:           types.SaveVersion,
		StoryID:           s.ID,
		Label:             label,
		CurrentNodeID:     current.ID(),
		VisitedNodes:      eng.GetVisitedNodes(),
		CompletedBranches: eng.GetCompletedBranches(),
		CharacterStates:   chars.ExportForSave(),
		GameState:         eng.GameState(),
		SavedAt:           time.Now(),
	}, nil
}

// Restore applies save data to a loaded engine and character manager. The
// story must already be loaded and match the save's story id.
func Restore(data *types.SaveData, eng *engine.Manager, chars *character.Manager) error {
	if data == nil {
		return fmt.Errorf("no save data")
	}
	if data.Version > types.SaveVersion {
		return fmt.Errorf("save version %d is newer than supported version %d", data.Version, types.SaveVersion)
	}
	s := eng.Story()
	if s == nil {
		return engine.ErrNoStory
	}
	if s.ID != data.StoryID {
		return fmt.Errorf("save belongs to story %q, loaded story is %q", data.StoryID, s.ID)
	}

	chars.LoadFromSaveData(data.CharacterStates)
	return eng.LoadProgress(data.CurrentNodeID, data.VisitedNodes, data.CompletedBranches, data.GameState)
}
