// Provides platform-appropriate default paths.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The tool name "rpmforge" is used as the subdirectory
// under each base path. Every default can be overridden by a CLI flag.
package paths
