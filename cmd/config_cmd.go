/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/josephgoksu/TriageWing/internal/config"
)

var (
	configShowJSON bool
	configGlobal   bool
	configForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

// configShowCmd shows current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration (API keys masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd.OutOrStdout(), configShowJSON)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to a config file",
	Long: `Writes the current effective configuration (defaults plus anything set
through flags, environment or an existing file) to ./.triagewing/.triagewing.yaml,
or to $HOME/.triagewing.yaml with --global. API keys are never written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := projectConfigPath()
		if configGlobal {
			p, err := globalConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		return runConfigInit(cmd.OutOrStdout(), path, configForce)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "print as JSON")
	configInitCmd.Flags().BoolVar(&configGlobal, "global", false, "write $HOME/.triagewing.yaml")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigShow(w io.Writer, asJSON bool) error {
	s, err := config.EffectiveSettings(false)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(w io.Writer, path string, force bool) error {
	if exists, _ := afero.Exists(appFs, path); exists && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	s, err := config.EffectiveSettings(false)
	if err != nil {
		return err
	}
	s.LLM.APIKeys = nil

	if err := config.WriteSettings(appFs, path, s); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}
