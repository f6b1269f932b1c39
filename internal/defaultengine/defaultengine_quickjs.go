//go:build !v8

package defaultengine

import (
	"github.com/kestrel-run/kestrel/internal/engine"
	quickjsengine "github.com/kestrel-run/kestrel/internal/engine/quickjs"
)

const backendName = engine.NameQuickJS

func newEngine(memoryLimitBytes uint64) (engine.Engine, error) {
	return quickjsengine.New(uintptr(memoryLimitBytes))
}
