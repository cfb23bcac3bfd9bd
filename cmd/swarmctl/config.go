package main

import (
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with swarm configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.ApplyDefaults()
			return printConfig(cmd, cfg)
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := swarm.NewConfigLoader(&swarm.OSFileReader{}).LoadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			return printConfig(cmd, cfg)
		},
	})
	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
