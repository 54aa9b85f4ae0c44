package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/fundrag/configs"
	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage fundrag configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config ($XDG_CONFIG_HOME/fundrag/config.yaml)
  3. Project config (.fundrag.yaml)
  4. Environment variables (FUNDRAG_*), also read from .env`,
		Example: `  # Create .fundrag.yaml in the project directory
  fundrag config init

  # Show the effective configuration
  fundrag config show

  # Print the config file paths
  fundrag config path

  # Undo the last 'config init --force'
  fundrag config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, user, effective bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		Long: `Write a commented configuration template to .fundrag.yaml in the
project directory, or to the user config file with --user. With --effective
the currently effective configuration is written instead.

The LLM API key is never written; set FUNDRAG_LLM_API_KEY in the environment
or in .env. --force backs up the existing file before overwriting it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force, user, effective)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")

	return cmd
}

func configPath(user bool) string {
	if user {
		return config.UserConfigPath()
	}
	return filepath.Join(projectDir, config.ProjectConfigNames[0])
}

func runConfigInit(cmd *cobra.Command, force, user, effective bool) error {
	out := output.New(cmd.OutOrStdout())

	path := configPath(user)
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warningf("%s already exists", path)
			out.Dim("Use --force to overwrite it.")
			return nil
		}
		backup, err := config.Backup(path)
		if err != nil {
			return err
		}
		out.Dim("Backed up to " + backup)
	}

	if effective {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
		out.Successf("Wrote %s", path)
		return nil
	}

	template := configs.ProjectConfigTemplate
	if user {
		template = configs.UserConfigTemplate
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	out.Successf("Wrote %s", path)
	return nil
}

func newConfigRestoreCmd() *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the most recent config backup",
		Long: `Replace the project config (or the user config with --user) with its
most recent backup. The current file is backed up first, so a restore can
itself be undone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(user)
			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				return fmt.Errorf("no backups of %s", path)
			}
			if err := config.Restore(path, backups[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Restored %s from %s", path, filepath.Base(backups[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Restore the user config instead of the project config")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			shown := *cfg
			if shown.LLM.APIKey != "" {
				shown.LLM.APIKey = "********"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.NewPlain(cmd.OutOrStdout())
			out.Field("user", configPath(true))
			out.Field("project", configPath(false))
			return nil
		},
	}
}
