package cmd

import (
	"path/filepath"
	"runtime"

	"github.com/eidaws/eidaws/io/file"
)

// DefaultDataDir is the default data directory to use for the databases and other
// persistence requirements.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := file.HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Eidaws")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Local", "Eidaws")
		} else {
			return filepath.Join(home, ".eidaws")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}
