package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kestrel "github.com/kestrel-run/kestrel"
	"github.com/kestrel-run/kestrel/internal/defaultengine"
	"github.com/kestrel-run/kestrel/internal/testrunner"
)

// testCmd implements the `test <path>` mode.
func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <path>",
		Short: "Load a script as a module and run its assertions and isolated tests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptPath := args[0]
			cfg := kestrel.DefaultConfig()
			cfg.WorkerPoolSize = workerPoolSize
			cfg.ModuleCachePath = moduleCachePath

			eng, err := defaultengine.New(0)
			if err != nil {
				return fmt.Errorf("creating script engine (%s): %w", defaultengine.Backend(), err)
			}
			rt, err := kestrel.Init(cfg, eng)
			if err != nil {
				return err
			}

			runner := testrunner.New()
			if err := runner.Install(eng); err != nil {
				return err
			}

			if err := rt.Load(scriptPath); err != nil {
				return fmt.Errorf("loading %s: %w", scriptPath, err)
			}

			syncResults := runner.Results()
			isolatedResults := runner.AwaitIsolatedTests(eng.RunMicrotasks)

			for _, r := range append(append([]testrunner.Result{}, syncResults...), isolatedResults...) {
				if !r.Passed {
					fmt.Printf("Test Failed: %q %s\n", r.Name, r.Message)
					continue
				}
				fmt.Printf("ok  %s\n", r.Name)
			}

			passed, total := testrunner.Summary(syncResults, isolatedResults)
			fmt.Printf("%d/%d tests passed\n", passed, total)

			if err := rt.Shutdown(); err != nil {
				return err
			}
			if err := rt.Deinit(false); err != nil {
				return err
			}

			if passed != total {
				os.Exit(1)
			}
			return nil
		},
	}
}
