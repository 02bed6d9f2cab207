// Package transcript keeps the most recent output of a session so a failed
// launch can show what the session printed before it died.
package transcript

import (
	"sync"

	"github.com/deskrun/deskrun/internal/supervisor"
)

// DefaultLines is the ring size used when NewTail is given zero.
const DefaultLines = 200

// Line is one line of session output.
type Line struct {
	Stream string `json:"stream"`
	Text   string `json:"text"`
}

// Tail is a fixed-size ring of output lines. It is safe for concurrent use.
type Tail struct {
	mu sync.Mutex

	lines []Line
	start int
	count int
	total uint64
}

// NewTail returns a ring holding the last maxLines lines.
func NewTail(maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = DefaultLines
	}

	return &Tail{lines: make([]Line, maxLines)}
}

// Observe records output events. It has the supervisor.Observer signature.
func (t *Tail) Observe(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.OutputLine:
		t.Push(Line{Stream: "stdout", Text: ev.Line})
	case supervisor.ErrorLine:
		t.Push(Line{Stream: "stderr", Text: ev.Line})
	}
}

// Push appends a line, evicting the oldest when full.
func (t *Tail) Push(line Line) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++

	size := len(t.lines)
	if t.count < size {
		t.lines[(t.start+t.count)%size] = line
		t.count++

		return
	}

	t.lines[t.start] = line
	t.start = (t.start + 1) % size
}

// Lines returns up to n of the most recent lines, oldest first. n <= 0 returns all retained lines.
func (t *Tail) Lines(n int) []Line {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > t.count {
		n = t.count
	}

	out := make([]Line, 0, n)
	for i := t.count - n; i < t.count; i++ {
		out = append(out, t.lines[(t.start+i)%len(t.lines)])
	}

	return out
}

// Total returns how many lines were pushed, including evicted ones.
func (t *Tail) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}
