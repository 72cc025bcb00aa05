package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "rpmforge"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the default workspace root holding built artifacts, the
// session lock, and the request channel.
//
//	Linux:   ~/.local/share/rpmforge
//	macOS:   ~/Library/Application Support/rpmforge
func Workspace() string {
	return filepath.Join(xdg.DataHome, toolName)
}

// Default directory receiving RPMs copied out of build containers.
func Artifacts() string {
	return filepath.Join(Workspace(), "artifacts")
}

// Default directory for run reports.
func Reports() string {
	return filepath.Join(Workspace(), "reports")
}

// Default directory recording packages set aside by the missing
// dependency policy.
func Quarantine() string {
	return filepath.Join(Workspace(), "quarantine")
}

// Default path of the parallel-build stability cache.
//
//	Linux:   ~/.cache/rpmforge/stability.json
//	macOS:   ~/Library/Caches/rpmforge/stability.json
func StabilityCache() string {
	return filepath.Join(xdg.CacheHome, toolName, "stability.json")
}
