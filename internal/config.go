package internal

import (
	"strconv"
	"sync/atomic"
)

var (
	quietMode   atomic.Bool // Quiet mode suppresses informational logging.
	debugMode   atomic.Bool // Debug mode enables debug-level logging.
	verboseMode atomic.Bool // Verbose mode adds source locations to log records.
)

// Seeds the logging modes from the build-time linker variables.
//
// rawQuiet, rawDebug, and rawVerbose are injected via ldflags and default
// to "false"; unparseable values leave the mode disabled. CLI flags can
// override all three after argument parsing.
func init() {
	if v, err := strconv.ParseBool(rawQuiet); err == nil {
		quietMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawDebug); err == nil {
		debugMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawVerbose); err == nil {
		verboseMode.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Whether quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug mode.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Whether debug mode is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose logging.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Whether verbose logging is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}
