// Command swarmctl runs and inspects agent swarms.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "swarmctl",
		Short:        "Run and inspect hierarchical agent swarms",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", getEnv("SWARM_CONFIG", ""), "swarm configuration file (defaults when empty)")

	root.AddCommand(
		newRunCmd(),
		newConsoleCmd(),
		newInspectCmd(),
		newConfigCmd(),
	)
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
