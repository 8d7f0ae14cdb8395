package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tenet/internal/config"
)

var (
	flagConfigForce bool
	flagConfigJSON  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and edit the tenet config file",
	Long: "The effective configuration is built from defaults, the config file, TENET_* environment " +
		"variables and command flags, each overriding the one before.",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file holding the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !flagConfigForce {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s already exists; use --force to overwrite it\n", path)
			return nil
		}
		if err := config.Save(config.Default()); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one value in the config file",
	Long: "Change one value in the config file. List keys (rulesFiles, categories, disabledRules) take " +
		"comma-separated values. domains.<prefix> maps a unit path prefix to a domain; an empty value removes it.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		// edit the file alone so env and flags are not persisted
		cfg, err := config.LoadFile(config.Default())
		if err != nil {
			return err
		}
		if err := config.SetField(&cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		stored, _ := config.GetField(cfg, key)
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, stored)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one effective config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		v, err := config.GetField(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagConfigJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configSetCmd, configGetCmd, configShowCmd, configPathCmd)
	configInitCmd.Flags().BoolVar(&flagConfigForce, "force", false, "Overwrite an existing config file")
	configShowCmd.Flags().BoolVar(&flagConfigJSON, "json", false, "Print as JSON instead of YAML")
}
