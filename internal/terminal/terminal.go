// Package terminal reports what the attached terminal can do.
//
// deskrun uses it to decide on colors and spinners for stdout and on
// whether logs should go to stderr while a session is attached to a TTY.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY       bool // stdout is a terminal
	StderrIsTTY bool
	NoColor     bool
	Width       int
	Height      int
	ForceFlag   bool // Set when --no-color flag is used
}

// Detect returns terminal information for os.Stdout and os.Stderr.
func Detect() *Info {
	return DetectFiles(os.Stdout, os.Stderr, os.Getenv)
}

// DetectFiles inspects the given files, reading NO_COLOR and TERM through getenv.
func DetectFiles(stdout, stderr *os.File, getenv func(string) string) *Info {
	info := &Info{Width: 80, Height: 24}

	if stdout != nil {
		fd := int(stdout.Fd())
		info.IsTTY = term.IsTerminal(fd)

		if info.IsTTY {
			if w, h, err := term.GetSize(fd); err == nil {
				info.Width, info.Height = w, h
			}
		}
	}

	if stderr != nil {
		info.StderrIsTTY = term.IsTerminal(int(stderr.Fd()))
	}

	// https://no-color.org/ and dumb terminals
	info.NoColor = getenv("NO_COLOR") != "" || getenv("TERM") == "dumb"

	return info
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// Interactive reports whether a person is likely watching both streams.
func (t *Info) Interactive() bool {
	return t.IsTTY && t.StderrIsTTY
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
