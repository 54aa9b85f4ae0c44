package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the fundrag state directory (default ~/.fundrag).
const HomeEnv = "FUNDRAG_HOME"

// HomeDir returns the fundrag state directory. It falls back to the temp
// directory when the user's home cannot be determined.
func HomeDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fundrag")
	}
	return filepath.Join(home, ".fundrag")
}

// DefaultLogDir returns <home>/logs.
func DefaultLogDir() string {
	return filepath.Join(HomeDir(), "logs")
}

// DefaultLogPath returns the log file used by every fundrag command.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "fundrag.log")
}

// FindLogFile returns explicit if it exists, otherwise the default log
// path if it exists.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}
	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file at %s; run a fundrag command first", path)
	}
	return path, nil
}
