package kestrel

// RuntimeConfig holds process-wide runtime configuration. Modeled on
// cryguy-worker's EngineConfig: a bare struct, no config-file library.
type RuntimeConfig struct {
	// WorkerPoolSize is the number of Work Queue worker goroutines.
	WorkerPoolSize int

	// MainWakeupTimeoutMS bounds each blocking wait of the reactor poller
	// so periodic liveness checks can still run even when idle.
	MainWakeupTimeoutMS int

	// FrameTargetFPS caps the frame loop's update rate when windows are open.
	FrameTargetFPS int

	// ModuleCachePath is the sqlite file backing the module cache. Empty
	// disables the cache entirely: no cache is opened and every module is
	// compiled on each load.
	ModuleCachePath string

	// DevMode enables the watch-and-restart lifecycle of §4.9.
	DevMode bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		WorkerPoolSize:      4,
		MainWakeupTimeoutMS: 4000,
		FrameTargetFPS:      60,
		ModuleCachePath:     "",
		DevMode:             false,
	}
}
