package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "ALM"

	cfgKeyURL              = "url"
	cfgKeyUser             = "user"
	cfgKeyPassword         = "password"
	cfgKeyToken            = "token"
	cfgKeyStaticServices   = "static_services"
	cfgKeyFallbackUser     = "fallback_user"
	cfgKeyFallbackPassword = "fallback_password"
	cfgKeyTimeout          = "timeout"
	cfgKeyRateLimit        = "rate_limit"
	cfgKeyRateBurst        = "rate_burst"
	cfgKeyUserAgent        = "user_agent"
	cfgKeyDataDir          = "data_dir"
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# almctl configuration
# Every key can also be set through the environment, e.g. ALM_URL.

# ALM server
# url: https://alm.example.com
# user: alice
# The password is prompted for on a terminal when unset.
# password:
# token:

# Attachment downloads retry with these credentials when the primary user is refused.
# fallback_user:
# fallback_password:

# timeout: 30s
# rate_limit: 0
# rate_burst: 1

# Reference server data directory (optional; overridable by --data-dir)
# data_dir:
`

// loadConfig reads config.yaml from configDir, layered under ALM_*
// environment variables. It creates the directory and a default config.yaml
// on first run.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyURL, "")
	v.SetDefault(cfgKeyUser, "")
	v.SetDefault(cfgKeyPassword, "")
	v.SetDefault(cfgKeyToken, "")
	v.SetDefault(cfgKeyStaticServices, false)
	v.SetDefault(cfgKeyFallbackUser, "")
	v.SetDefault(cfgKeyFallbackPassword, "")
	v.SetDefault(cfgKeyTimeout, time.Duration(0))
	v.SetDefault(cfgKeyRateLimit, 0.0)
	v.SetDefault(cfgKeyRateBurst, 0)
	v.SetDefault(cfgKeyUserAgent, "almctl/"+alm.Version)
	v.SetDefault(cfgKeyDataDir, "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// clientConfig decodes the client settings out of v.
func clientConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o600)
}
