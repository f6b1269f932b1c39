// Package defaultengine picks the script engine backend at compile time
// via the same `v8` build tag cryguy-worker uses to switch between its
// pooled-worker V8 path and its quickjs fallback, and exposes a single
// constructor so cmd/kestrel doesn't need its own build-tag files.
package defaultengine

import "github.com/kestrel-run/kestrel/internal/engine"

// New constructs the build-selected engine.Engine with the given heap/
// memory limit in bytes (0 means "use the backend's default").
func New(memoryLimitBytes uint64) (engine.Engine, error) {
	return newEngine(memoryLimitBytes)
}

// Backend reports which engine this build was compiled with.
func Backend() engine.Name {
	return backendName
}
