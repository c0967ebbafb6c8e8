package app

import (
	"fmt"

	"github.com/nshiba/tsumugi/internal/storage"
	"github.com/nshiba/tsumugi/internal/story"
	"github.com/nshiba/tsumugi/pkg/types"
)

// App represents the main application instance.
type App struct {
	Config  *ConfigManager
	Library *storage.Library
	Saves   *storage.SaveDB
}

// New creates a new application instance.
func New() (*App, error) {
	configManager, err := NewConfigManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	globalConfig, err := configManager.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}

	saves, err := storage.NewSaveDB(globalConfig.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open save database: %w", err)
	}

	return &App{
		Config:  configManager,
		Library: storage.NewLibrary(globalConfig.StoriesDir),
		Saves:   saves,
	}, nil
}

// LoadStory reads, parses and validates a story file from the library.
func (a *App) LoadStory(relativePath string) (*types.Story, error) {
	format, err := story.FormatForPath(relativePath)
	if err != nil {
		return nil, err
	}
	raw, err := a.Library.ReadStory(relativePath)
	if err != nil {
		return nil, err
	}
	s, err := story.Parse(raw, format)
	if err != nil {
		return nil, fmt.Errorf("story %q: %w", relativePath, err)
	}
	return s, nil
}

// FindStory resolves a story id or file name to its library path.
func (a *App) FindStory(name string) (string, error) {
	files, err := a.Library.ListStories()
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Name == name || f.Path == name {
			return f.Path, nil
		}
	}
	return "", fmt.Errorf("story %q not found in %s", name, a.Library.BasePath())
}

// Close cleans up application resources.
func (a *App) Close() error {
	if a.Saves != nil {
		return a.Saves.Close()
	}
	return nil
}
