package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state.
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func isolate(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	for _, key := range []string{
		"DESKRUN_INSTALL_ROOT",
		"DESKRUN_SESSION_PORT",
		"DESKRUN_SESSION_DEV_MODE",
		"DESKRUN_RUNTIME_HOME",
		"DESKRUN_LAUNCH_READY_TIMEOUT",
		"DESKRUN_LAUNCH_TERMINATE_GRACE",
	} {
		unsetEnvForTest(t, key)
	}

	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg := Load()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"install root", cfg.InstallRoot(), DefaultInstallRoot},
		{"config file override", cfg.InstallConfigFile(), ""},
		{"dev mode", cfg.DevMode(), true},
		{"port", cfg.Port(), DefaultDevPort},
		{"runtime home", cfg.RuntimeHome(), ""},
		{"ready timeout", cfg.ReadyTimeout(), time.Duration(0)},
		{"terminate grace", cfg.TerminateGrace(), DefaultTerminateGrace},
		{"startup grace", cfg.StartupGrace(), DefaultStartupGrace},
		{"metrics addr", cfg.MetricsAddr(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_FromEnv(t *testing.T) {
	isolate(t)

	t.Setenv("DESKRUN_SESSION_PORT", "41001")
	t.Setenv("DESKRUN_SESSION_DEV_MODE", "false")
	t.Setenv("DESKRUN_RUNTIME_HOME", "/usr/lib/R")
	t.Setenv("DESKRUN_LAUNCH_READY_TIMEOUT", "3s")
	t.Setenv("DESKRUN_LAUNCH_STARTUP_GRACE", "2s")

	cfg := Load()

	if got := cfg.Port(); got != 41001 {
		t.Errorf("Port() = %d, want 41001", got)
	}

	if cfg.DevMode() {
		t.Error("DevMode() = true, want false")
	}

	if got := cfg.RuntimeHome(); got != "/usr/lib/R" {
		t.Errorf("RuntimeHome() = %q", got)
	}

	if got := cfg.ReadyTimeout(); got != 3*time.Second {
		t.Errorf("ReadyTimeout() = %v, want 3s", got)
	}

	if got := cfg.StartupGrace(); got != 2*time.Second {
		t.Errorf("StartupGrace() = %v, want 2s", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := isolate(t)

	configDir := filepath.Join(tmpDir, "deskrun")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatal(err)
	}

	content := "install:\n  root: /opt/app\nsession:\n  port: 42000\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load()

	if got := cfg.InstallRoot(); got != "/opt/app" {
		t.Errorf("InstallRoot() = %q, want /opt/app", got)
	}

	if got := cfg.Port(); got != 42000 {
		t.Errorf("Port() = %d, want 42000", got)
	}
}

func TestSet_PersistsToConfigFile(t *testing.T) {
	tmpDir := isolate(t)

	if err := Load().Set(KeyRuntimeHome, "/opt/R/4.4/lib/R"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "deskrun", "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if got := Load().RuntimeHome(); got != "/opt/R/4.4/lib/R" {
		t.Errorf("RuntimeHome() after Set = %q", got)
	}
}

func TestBindFlag_OverridesOnlyWhenChanged(t *testing.T) {
	isolate(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("install-root", "", "")

	cfg := Load()
	if err := cfg.BindFlag(KeyPort, flags.Lookup("port")); err != nil {
		t.Fatalf("BindFlag() error = %v", err)
	}

	if err := cfg.BindFlag(KeyInstallRoot, flags.Lookup("install-root")); err != nil {
		t.Fatalf("BindFlag() error = %v", err)
	}

	if err := flags.Parse([]string{"--port", "43000"}); err != nil {
		t.Fatal(err)
	}

	if got := cfg.Port(); got != 43000 {
		t.Errorf("Port() = %d, want 43000", got)
	}

	if got := cfg.InstallRoot(); got != DefaultInstallRoot {
		t.Errorf("InstallRoot() = %q, want default", got)
	}

	if err := cfg.BindFlag(KeyMetricsAddr, flags.Lookup("missing")); err == nil {
		t.Error("BindFlag(nil) error = nil, want error")
	}
}
