package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	kestrel "github.com/kestrel-run/kestrel"
	"github.com/kestrel-run/kestrel/internal/defaultengine"
)

// runCmd implements the `run <path>` mode: load the script and
// enter the frame loop if any window was opened, otherwise drain events
// until idle.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <path>",
		Short: "Run a script, entering the frame loop if it opens a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptPath := args[0]
			cfg := kestrel.DefaultConfig()
			cfg.WorkerPoolSize = workerPoolSize
			cfg.FrameTargetFPS = frameTargetFPS
			cfg.ModuleCachePath = moduleCachePath
			cfg.DevMode = devFlag

			var preservedChrome any
			for {
				eng, err := defaultengine.New(0)
				if err != nil {
					return fmt.Errorf("creating script engine (%s): %w", defaultengine.Backend(), err)
				}

				rt, err := kestrel.Init(cfg, eng)
				if err != nil {
					return err
				}

				if cfg.DevMode {
					if err := rt.StartDevWatch(scriptPath); err != nil {
						return fmt.Errorf("starting dev watcher: %w", err)
					}
					if preservedChrome != nil {
						id, _ := rt.OpenWindow(preservedChrome, nil, nil)
						rt.PreserveWindowID(id)
					}
				}

				if err := rt.Load(scriptPath); err != nil {
					if !cfg.DevMode {
						return fmt.Errorf("loading %s: %w", scriptPath, err)
					}
					// Dev mode enters the JS-error state instead of
					// exiting: any windows already open (e.g. the
					// preserved chrome window) stay up at target FPS
					// with no script driving them until the watcher
					// triggers a restart on the next successful load.
					log.Printf("kestrel: loading %s: %v", scriptPath, err)
					rt.EnterJSErrorState()
				}

				if err := rt.Run(); err != nil {
					return err
				}

				if !rt.RestartRequested() {
					if err := rt.Shutdown(); err != nil {
						return err
					}
					return rt.Deinit(false)
				}

				chrome, err := rt.Restart()
				if err != nil {
					return fmt.Errorf("dev restart: %w", err)
				}
				preservedChrome = chrome
				// loop: re-Init with a fresh engine, re-run the same script,
				// with the chrome window re-registered above.
			}
		},
	}
}
