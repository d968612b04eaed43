package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haricheung/nbscore/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagData != "" {
		cfg.DataDir = flagData
	}
	return cfg, nil
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Path == "" {
				fmt.Println("(none, using defaults)")
				return nil
			}
			fmt.Println(cfg.Path)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.Path == "" {
				fmt.Println("No config file found; defaults are valid.")
				return nil
			}
			fmt.Printf("Config at %s is valid.\n", cfg.Path)
			return nil
		},
	}
}
