// Command kestrel is the CLI entry point: two modes, `run <path>` and
// `test <path>`. Grounded on oriys-nova/cmd/nova/main.go's cobra
// root-command-plus-subcommand wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	devFlag         bool
	moduleCachePath string
	workerPoolSize  int
	frameTargetFPS  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - a desktop JavaScript runtime orchestration layer",
	}

	rootCmd.PersistentFlags().BoolVar(&devFlag, "dev", false, "watch the script and restart on change")
	rootCmd.PersistentFlags().StringVar(&moduleCachePath, "module-cache", os.Getenv("KESTREL_MODULE_CACHE"), "path to the sqlite module cache (empty disables caching)")
	rootCmd.PersistentFlags().IntVar(&workerPoolSize, "workers", 4, "number of work queue worker goroutines")
	rootCmd.PersistentFlags().IntVar(&frameTargetFPS, "fps", 60, "target frame rate for the window update loop")

	rootCmd.AddCommand(runCmd(), testCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
