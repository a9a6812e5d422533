/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"os"
	"strings"

	"github.com/josephgoksu/TriageWing/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// verbose enables debug logging.
	verbose bool
	// quiet limits logging to errors.
	quiet bool
	// version is the application version.
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "triagewing",
	Short: "Triage static-analysis findings with AI validation.",
	Long: `TriageWing filters static-analysis findings before they reach a human.

High-precision analyzers are trusted, noisy ones are checked by a language
model against the code around each finding, and every verdict is cached so
re-runs over the same findings cost nothing.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
		logger.SetVersion(version)
		logger.SetCommand(strings.Join(os.Args, " "))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer logger.HandlePanic()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.triagewing/.triagewing.yaml or $HOME/.triagewing.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func setupLogging() {
	level := logger.LevelFromString(viper.GetString("log.level"))
	switch {
	case viper.GetBool("verbose"):
		level = logger.LevelFromString("debug")
	case viper.GetBool("quiet"):
		level = logger.LevelFromString("error")
	}
	logger.Setup(os.Stderr, level)
}
