package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/josephgoksu/TriageWing/internal/config"
	"github.com/josephgoksu/TriageWing/internal/logger"
	"github.com/spf13/viper"
)

const (
	configName = ".triagewing"
	envPrefix  = "TRIAGEWING"
)

// InitConfig reads in config file and ENV variables if set.
func InitConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix) // e.g., TRIAGEWING_VALIDATION_CONCURRENCY
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if globalDir, err := config.GetGlobalConfigDir(); err == nil {
		logger.SetBasePath(globalDir)
	}

	cfgFileFlag := viper.GetString("config")
	if cfgFileFlag != "" {
		viper.SetConfigFile(cfgFileFlag)
	} else {
		// ./.triagewing/.triagewing.yaml wins over $HOME/.triagewing.yaml
		viper.SetConfigName(configName)
		if info, err := os.Stat(configName); err == nil && info.IsDir() {
			viper.AddConfigPath(configName)
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if cfgFileFlag != "" {
				fmt.Fprintln(os.Stderr, "Error: Specified config file not found:", cfgFileFlag)
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error reading config file:", viper.ConfigFileUsed(), "-", err)
		}
	}
}

// projectConfigPath is where `config init` writes by default.
func projectConfigPath() string {
	return filepath.Join(configName, configName+".yaml")
}

// globalConfigPath is $HOME/.triagewing.yaml.
func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configName+".yaml"), nil
}
