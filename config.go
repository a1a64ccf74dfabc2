package pyharbor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config carries the orchestrator's settings.
type Config struct {
	// RootDir is the directory under which environments are created.
	RootDir string

	// StorePath is the JSON catalogue location. Empty derives
	// RootDir/environments.json.
	StorePath string

	// OperationTimeout bounds package operations that do not carry their
	// own timeout.
	OperationTimeout time.Duration

	// PythonVersion is the preferred interpreter version for conda-style
	// provisioning (e.g. "3.11"). Empty lets the tooling pick.
	PythonVersion string

	// SingleUsername is the owning identity of single-user sessions.
	SingleUsername string
}

// DefaultConfig returns the built-in settings: everything under
// ~/.pyharbor with the standard operation timeout.
func DefaultConfig() Config {
	root := ".pyharbor"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".pyharbor")
	}
	return Config{
		RootDir:          root,
		OperationTimeout: DefaultOperationTimeout,
		SingleUsername:   "default",
	}
}

// LoadConfig reads settings from an optional config file and the
// environment. With an empty path it searches for pyharbor.yaml in the
// working directory and ~/.pyharbor; a missing file just yields defaults.
// Environment variables use the PYHARBOR_ prefix (PYHARBOR_ROOT_DIR, ...).
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("root_dir", def.RootDir)
	v.SetDefault("store_path", "")
	v.SetDefault("operation_timeout", def.OperationTimeout)
	v.SetDefault("python_version", "")
	v.SetDefault("single_username", def.SingleUsername)
	v.SetEnvPrefix("PYHARBOR")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pyharbor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(def.RootDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := Config{
		RootDir:          v.GetString("root_dir"),
		StorePath:        v.GetString("store_path"),
		OperationTimeout: v.GetDuration("operation_timeout"),
		PythonVersion:    v.GetString("python_version"),
		SingleUsername:   v.GetString("single_username"),
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.SingleUsername == "" {
		cfg.SingleUsername = def.SingleUsername
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.RootDir, "environments.json")
	}
	return cfg, nil
}
