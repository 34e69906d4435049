// Package version reports the friday build version.
package version

import (
	"runtime/debug"
	"strings"
)

// version is set at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/friday/internal/version.version=v0.3.0"
var version string

// Get returns the build version, with whitespace trimmed. Without a linker
// override it falls back to the module version recorded in the binary.
func Get() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
