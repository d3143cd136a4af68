package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Loaded is a parsed config plus where it came from.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning

	// Exists is false when no file was found and defaults apply.
	Exists bool
}

// Load resolves the config path, then parses and validates the file over
// Default. A missing file is not an error.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		loaded.Config = Default()
		loaded.Warnings = []Warning{{Message: fmt.Sprintf("config file %q not found; using defaults", path)}}
		return loaded, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}

	loaded.Config, loaded.Warnings, err = Parse(string(content), Default())
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	loaded.Exists = true
	return loaded, nil
}
