package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	userConfigDirName = ".config"
	userConfigAppName = "crewel"
	configFileName    = "config.json"
	repoConfigDirName = ".crewel"
)

// Load resolves configuration from user defaults and repo overrides, then
// applies defaults and validates strategy strings. Missing files are not
// errors.
func Load(repoRoot string, warn func(string)) (Config, error) {
	merged := map[string]any{}

	userPath, err := userConfigPath()
	if err != nil {
		return Config{}, err
	}
	merged, err = mergeConfigLayer(merged, userPath, "user defaults")
	if err != nil {
		return Config{}, err
	}

	if repoRoot != "" {
		repoPath := filepath.Join(repoRoot, repoConfigDirName, configFileName)
		merged, err = mergeConfigLayer(merged, repoPath, "repo overrides")
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := decodeConfig(merged)
	if err != nil {
		return Config{}, err
	}
	cfg = ApplyDefaults(cfg, warn)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// userConfigPath resolves the user defaults path for config.json.
func userConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(homeDir, userConfigDirName, userConfigAppName, configFileName), nil
}

// mergeConfigLayer reads a config file and merges it into the base map.
func mergeConfigLayer(base map[string]any, path string, label string) (map[string]any, error) {
	layer, err := readConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return nil, fmt.Errorf("load %s config %s: %w", label, path, err)
	}
	return mergeConfigMaps(base, layer), nil
}

// readConfigFile parses a config JSON object from the given path.
func readConfigFile(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.UseNumber()

	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config object")
	}
	if data == nil {
		return map[string]any{}, nil
	}
	return data, nil
}

// mergeConfigMaps deep-merges override into base, preferring override values.
func mergeConfigMaps(base map[string]any, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range override {
		baseChild, baseOK := merged[key].(map[string]any)
		overrideChild, overrideOK := value.(map[string]any)
		if baseOK && overrideOK {
			merged[key] = mergeConfigMaps(baseChild, overrideChild)
			continue
		}
		merged[key] = value
	}
	return merged
}

// decodeConfig marshals the merged map back through the typed model.
func decodeConfig(merged map[string]any) (Config, error) {
	data, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("encode merged config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
