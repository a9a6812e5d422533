package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// GetGlobalConfigDir returns the path to the global configuration directory (~/.triagewing).
// It's a variable to allow overriding in tests.
var GetGlobalConfigDir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".triagewing"), nil
}

// GetCacheDir returns the root of the persistent validation cache.
// Resolution order (first match wins):
// 1. Explicit config via "cache.dir"
// 2. XDG_CACHE_HOME/triagewing
// 3. ~/.triagewing/cache
func GetCacheDir() string {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "triagewing")
	}
	dir, err := GetGlobalConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "triagewing-cache")
	}
	return filepath.Join(dir, "cache")
}

// GetPoliciesDir returns where triage .rego policies are loaded from.
// An explicit "triage.policies_dir" wins, then a project-local
// .triagewing/policies, then ~/.triagewing/policies.
func GetPoliciesDir() string {
	if dir := viper.GetString("triage.policies_dir"); dir != "" {
		return dir
	}

	local := filepath.Join(".triagewing", "policies")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}

	dir, err := GetGlobalConfigDir()
	if err != nil {
		return local
	}
	return filepath.Join(dir, "policies")
}
