package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Build identity, stamped via -ldflags at release time. A .version file
// beside the binary overrides the compiled-in value for dev builds.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetFullVersion renders the version with its build metadata, used by the
// version endpoint, the startup banner and crash reports
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// LoadVersionFromFile applies the .version override next to the executable,
// returning the effective version either way
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return Version
	}

	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
