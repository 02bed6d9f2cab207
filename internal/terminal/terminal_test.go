package terminal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFiles_RegularFiles(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	env := map[string]string{"TERM": "dumb"}

	info := DetectFiles(f, f, func(k string) string { return env[k] })

	if info.IsTTY || info.StderrIsTTY {
		t.Errorf("regular file detected as TTY: %+v", info)
	}

	if !info.NoColor {
		t.Error("TERM=dumb should disable color")
	}

	if info.Width != 80 || info.Height != 24 {
		t.Errorf("size = %dx%d, want 80x24 default", info.Width, info.Height)
	}
}

func TestInfo_Capabilities(t *testing.T) {
	tests := []struct {
		name        string
		info        Info
		color       bool
		spinners    bool
		interactive bool
	}{
		{"full tty", Info{IsTTY: true, StderrIsTTY: true}, true, true, true},
		{"no color env", Info{IsTTY: true, StderrIsTTY: true, NoColor: true}, false, false, true},
		{"no-color flag", Info{IsTTY: true, ForceFlag: true}, false, true, false},
		{"piped", Info{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.ColorEnabled(); got != tt.color {
				t.Errorf("ColorEnabled() = %v, want %v", got, tt.color)
			}

			if got := tt.info.SpinnersEnabled(); got != tt.spinners {
				t.Errorf("SpinnersEnabled() = %v, want %v", got, tt.spinners)
			}

			if got := tt.info.Interactive(); got != tt.interactive {
				t.Errorf("Interactive() = %v, want %v", got, tt.interactive)
			}
		})
	}
}
