//go:build v8

package defaultengine

import (
	"github.com/kestrel-run/kestrel/internal/engine"
	v8engine "github.com/kestrel-run/kestrel/internal/engine/v8"
)

const backendName = engine.NameV8

func newEngine(memoryLimitBytes uint64) (engine.Engine, error) {
	return v8engine.New(memoryLimitBytes)
}
