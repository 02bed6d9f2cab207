// Package config handles deskrun configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Command-line flags bound with BindFlag
//  2. Environment variables (DESKRUN_*)
//  3. Config file (<user config dir>/deskrun/config.yaml)
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deskrun/deskrun/internal/paths"
)

const (
	// DefaultInstallRoot is the development build tree relative to the working directory.
	DefaultInstallRoot = "../../cpp/cmake-build-debug"
	// DefaultDevPort is the fixed session port used in development mode.
	DefaultDevPort = 40810
	// DefaultTerminateGrace is how long a stopped session gets before SIGKILL.
	DefaultTerminateGrace = 5 * time.Second
	// DefaultStartupGrace is how long a new session is watched for an immediate exit.
	DefaultStartupGrace = 750 * time.Millisecond
)

// Setting keys.
const (
	KeyInstallRoot       = "install.root"
	KeyInstallConfigFile = "install.config_file"
	KeyDevMode           = "session.dev_mode"
	KeyPort              = "session.port"
	KeySleepOnStartup    = "session.sleep_on_startup"
	KeyRuntimeHome       = "runtime.home"
	KeyCrashHandler      = "runtime.crash_handler"
	KeyReadyTimeout      = "launch.ready_timeout"
	KeyTerminateGrace    = "launch.terminate_grace"
	KeyStartupGrace      = "launch.startup_grace"
	KeyMetricsAddr       = "metrics.addr"
)

// Config holds the deskrun configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	// Set defaults
	v.SetDefault(KeyInstallRoot, DefaultInstallRoot)
	v.SetDefault(KeyInstallConfigFile, "")
	v.SetDefault(KeyDevMode, true)
	v.SetDefault(KeyPort, DefaultDevPort)
	v.SetDefault(KeySleepOnStartup, 0)
	v.SetDefault(KeyRuntimeHome, "")
	v.SetDefault(KeyCrashHandler, "")
	v.SetDefault(KeyReadyTimeout, time.Duration(0))
	v.SetDefault(KeyTerminateGrace, DefaultTerminateGrace)
	v.SetDefault(KeyStartupGrace, DefaultStartupGrace)
	v.SetDefault(KeyMetricsAddr, "")

	// Config file location
	if configDir, err := paths.ConfigRoot(); err == nil {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("DESKRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// BindFlag makes a command-line flag override key when the flag is set.
func (c *Config) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}

	return c.v.BindPFlag(key, flag)
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// InstallRoot returns the configured installation root.
func (c *Config) InstallRoot() string {
	return c.GetString(KeyInstallRoot)
}

// InstallConfigFile returns the session config file override, if any.
func (c *Config) InstallConfigFile() string {
	return c.GetString(KeyInstallConfigFile)
}

// DevMode reports whether the fixed development port is used.
func (c *Config) DevMode() bool {
	return c.v.GetBool(KeyDevMode)
}

// Port returns the fixed session port for development mode.
func (c *Config) Port() int {
	return c.GetInt(KeyPort)
}

// SleepOnStartup returns the seconds the session stalls for a debugger to attach.
func (c *Config) SleepOnStartup() int {
	return c.GetInt(KeySleepOnStartup)
}

// RuntimeHome returns the configured R home, if any.
func (c *Config) RuntimeHome() string {
	return c.GetString(KeyRuntimeHome)
}

// CrashHandler returns the configured crash handler executable, if any.
func (c *Config) CrashHandler() string {
	return c.GetString(KeyCrashHandler)
}

// ReadyTimeout returns how long to wait for the session to answer. Zero disables the probe.
func (c *Config) ReadyTimeout() time.Duration {
	return c.v.GetDuration(KeyReadyTimeout)
}

// TerminateGrace returns the SIGTERM to SIGKILL grace period.
func (c *Config) TerminateGrace() time.Duration {
	d := c.v.GetDuration(KeyTerminateGrace)
	if d <= 0 {
		return DefaultTerminateGrace
	}

	return d
}

// StartupGrace returns how long a new session is watched for an immediate
// exit before its endpoint is presented, when the readiness probe is off.
func (c *Config) StartupGrace() time.Duration {
	d := c.v.GetDuration(KeyStartupGrace)
	if d <= 0 {
		return DefaultStartupGrace
	}

	return d
}

// MetricsAddr returns the loopback address for the metrics endpoint, if any.
func (c *Config) MetricsAddr() string {
	return c.GetString(KeyMetricsAddr)
}
