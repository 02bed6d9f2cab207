package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const appName = "deskrun"

// Fixed joins from an installation root.
const (
	configFileRel    = "conf/rdesktop-dev.conf"
	sessionBinaryRel = "session/rsession"
	scriptsDirRel    = "desktop"
	ldPathScriptRel  = "session/r-ldpath"
)

var (
	// ErrInstallRootMissing is returned when the installation root does not exist.
	ErrInstallRootMissing = errors.New("install root not found")
	// ErrConfigFileMissing is returned when the session config file does not exist.
	ErrConfigFileMissing = errors.New("config file not found")
)

// Installation holds the read-only paths of one installed session build.
type Installation struct {
	Root          string `json:"root" yaml:"root"`
	ConfigFile    string `json:"config_file" yaml:"config_file"`
	SessionBinary string `json:"session_binary" yaml:"session_binary"`
	ScriptsDir    string `json:"scripts_dir" yaml:"scripts_dir"`
}

// ResolveInstallation makes root absolute and derives the other paths from it.
// A non-empty configFile replaces the derived config file path.
func ResolveInstallation(root, configFile string) (Installation, error) {
	if root == "" {
		return Installation{}, fmt.Errorf("%w: empty path", ErrInstallRootMissing)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return Installation{}, fmt.Errorf("resolve install root %q: %w", root, err)
	}

	inst := Installation{
		Root:          abs,
		ConfigFile:    filepath.Join(abs, filepath.FromSlash(configFileRel)),
		SessionBinary: filepath.Join(abs, filepath.FromSlash(sessionBinaryRel)),
		ScriptsDir:    filepath.Join(abs, filepath.FromSlash(scriptsDirRel)),
	}

	if configFile != "" {
		inst.ConfigFile = filepath.Clean(configFile)
	}

	return inst, nil
}

// LDPathScript returns the optional helper that prints extra library dirs.
func (i Installation) LDPathScript() string {
	return filepath.Join(i.Root, filepath.FromSlash(ldPathScriptRel))
}

// Check verifies the root and the config file exist.
func (i Installation) Check() error {
	info, err := os.Stat(i.Root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInstallRootMissing, i.Root)
	}

	if _, err := os.Stat(i.ConfigFile); err != nil {
		return fmt.Errorf("%w: %s", ErrConfigFileMissing, i.ConfigFile)
	}

	return nil
}

func configRoot() (string, error) {
	return rootWithFallback("XDG_CONFIG_HOME", os.UserConfigDir, ".config")
}

func stateRoot() (string, error) {
	noOSDefault := func() (string, error) {
		return "", fmt.Errorf("no OS state directory function")
	}

	return rootWithFallback("XDG_STATE_HOME", noOSDefault, filepath.Join(".local", "state"))
}

func rootWithFallback(xdgEnv string, osFn func() (string, error), fallbackDir string) (string, error) {
	// Priority 1: Explicit XDG env var (cross-platform).
	if xdg := os.Getenv(xdgEnv); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}

	// Priority 2: OS-specific default (macOS ~/Library/..., Windows %AppData%, Linux ~/.config).
	root, err := osFn()
	if err == nil && root != "" {
		return filepath.Join(root, appName), nil
	}

	// Priority 3: Home-dir fallback.
	home, homeErr := os.UserHomeDir()
	if homeErr == nil && home != "" {
		return filepath.Join(home, fallbackDir, appName), nil
	}

	if err != nil {
		return "", err
	}

	return "", fmt.Errorf("resolve user home directory")
}

// ConfigRoot returns the user config root directory for deskrun.
func ConfigRoot() (string, error) {
	return configRoot()
}

// StateRoot returns the user state root directory for deskrun.
func StateRoot() (string, error) {
	return stateRoot()
}

// ConfigFile returns the user settings file path.
func ConfigFile() (string, error) {
	root, err := configRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "config.yaml"), nil
}

// LogsDir returns the default log directory for deskrun.
func LogsDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "logs"), nil
}

// DefaultLogFile returns the default log file path for deskrun.
func DefaultLogFile() (string, error) {
	logsDir, err := LogsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(logsDir, "deskrun.log"), nil
}
