package macro

import (
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the document to path.
// The file is written atomically using a temporary file and rename.
func Save(path string, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads and decodes the document stored at path
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read macro file: %w", err)
	}

	doc, err := Decode(data)
	if err != nil {
		return Document{}, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// DefaultPath returns the default macro location.
// On Unix-like systems: ~/.config/keymacro/macro.json
// On Windows: %APPDATA%/keymacro/macro.json
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "keymacro", "macro.json"), nil
}
