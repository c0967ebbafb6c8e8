// Package app provides application lifecycle management.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nshiba/tsumugi/internal/storage"
	"github.com/nshiba/tsumugi/pkg/types"
)

var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ConfigManager handles the global configuration file.
type ConfigManager struct {
	globalConfigPath string
	globalConfig     *types.GlobalConfig
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager() (*ConfigManager, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	return &ConfigManager{
		globalConfigPath: filepath.Join(configDir, "config.yaml"),
	}, nil
}

// getConfigDir returns the configuration directory path.
func getConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "tsumugi"), nil
}

// getDataDir returns the default data directory path.
func getDataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "tsumugi"), nil
}

// LoadGlobalConfig loads the global configuration. A missing file yields the
// defaults; path fields come back expanded and resolved.
func (cm *ConfigManager) LoadGlobalConfig() (*types.GlobalConfig, error) {
	if cm.globalConfig != nil {
		return cm.globalConfig, nil
	}

	config := types.DefaultGlobalConfig()
	data, err := os.ReadFile(cm.globalConfigPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	} else {
		config = &types.GlobalConfig{}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse global config: %w", err)
		}
	}

	config.StoriesDir = expandPath(expandEnv(config.StoriesDir))
	config.DataDir = expandPath(expandEnv(config.DataDir))
	if config.DataDir == "" {
		dataDir, err := getDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		config.DataDir = dataDir
	}
	if config.TextSpeed <= 0 {
		config.TextSpeed = types.DefaultGlobalConfig().TextSpeed
	}

	cm.globalConfig = config
	return cm.globalConfig, nil
}

// SaveGlobalConfig saves the global configuration.
func (cm *ConfigManager) SaveGlobalConfig(config *types.GlobalConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := storage.AtomicWriteFile(cm.globalConfigPath, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cm.globalConfig = config
	return nil
}

// Path returns the config file location.
func (cm *ConfigManager) Path() string {
	return cm.globalConfigPath
}

// expandEnv substitutes a ${VAR} value with the environment variable.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
