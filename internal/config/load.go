package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig []byte

// ErrConfigExists is returned by WriteSample when the target is already present.
var ErrConfigExists = errors.New("config file already exists")

// Load reads the config file at path, or the first of the default locations
// when path is empty, applies .env overrides and normalizes and validates the
// result. It returns the resolved file path and whether that file existed;
// a missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	source, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := loadEnvFiles(source); err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(source, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := toml.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s: %s", path, strict.String())
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate resolves the config file. An explicit path is used as given, even
// when absent. Otherwise the user config and ./billingest.toml are tried in
// order, falling back to the user config location.
func locate(explicit string) (string, bool, error) {
	var candidates []string
	if explicit != "" {
		candidates = []string{explicit}
	} else {
		candidates = []string{defaultConfigPath, "billingest.toml"}
	}

	resolved := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		abs, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(abs)
		switch {
		case err == nil && explicit != "":
			return abs, true, nil
		case err == nil && !info.IsDir():
			return abs, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			if explicit != "" {
				return "", false, fmt.Errorf("stat config: %w", err)
			}
		}
		resolved = append(resolved, abs)
	}
	return resolved[0], false, nil
}

// loadEnvFiles applies .env files next to the config and in the working
// directory. Variables already set in the environment take precedence.
func loadEnvFiles(configPath string) error {
	var files []string
	if configPath != "" {
		files = append(files, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	files = append(files, ".env")

	loaded := map[string]bool{}
	for _, name := range files {
		abs, err := filepath.Abs(name)
		if err != nil || loaded[abs] {
			continue
		}
		loaded[abs] = true
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

// DefaultConfigPath is the expanded user config location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// ExpandPath resolves a leading ~ and returns a clean absolute path.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") || strings.HasPrefix(value, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimLeft(value[1:], `/\`))
	}
	abs, err := filepath.Abs(filepath.Clean(value))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}

// WriteSample writes the commented sample configuration to path, creating
// parent directories. An existing file is kept unless overwrite is set.
func WriteSample(path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		return fmt.Errorf("open sample config: %w", err)
	}
	if _, err := file.Write(sampleConfig); err != nil {
		_ = file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}
