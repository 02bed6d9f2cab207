package transcript

import (
	"fmt"
	"sync"
	"testing"

	"github.com/deskrun/deskrun/internal/supervisor"
)

func TestTail_KeepsMostRecent(t *testing.T) {
	tail := NewTail(3)

	for i := range 5 {
		tail.Push(Line{Stream: "stdout", Text: fmt.Sprintf("line %d", i)})
	}

	got := tail.Lines(0)
	want := []string{"line 2", "line 3", "line 4"}

	if len(got) != len(want) {
		t.Fatalf("Lines(0) = %v, want %v", got, want)
	}

	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("Lines(0)[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}

	if last := tail.Lines(1); len(last) != 1 || last[0].Text != "line 4" {
		t.Errorf("Lines(1) = %v", last)
	}

	if tail.Total() != 5 {
		t.Errorf("Total() = %d, want 5", tail.Total())
	}
}

func TestTail_ObserveMapsStreams(t *testing.T) {
	tail := NewTail(0)

	tail.Observe(supervisor.Event{Kind: supervisor.OutputLine, Line: "listening"})
	tail.Observe(supervisor.Event{Kind: supervisor.ErrorLine, Line: "R_HOME not set"})
	tail.Observe(supervisor.Event{Kind: supervisor.Exited})

	got := tail.Lines(0)
	if len(got) != 2 {
		t.Fatalf("Lines(0) = %v, want 2 lines", got)
	}

	if got[0] != (Line{Stream: "stdout", Text: "listening"}) || got[1] != (Line{Stream: "stderr", Text: "R_HOME not set"}) {
		t.Errorf("Lines(0) = %+v", got)
	}
}

func TestTail_ConcurrentPush(t *testing.T) {
	tail := NewTail(10)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 100 {
				tail.Push(Line{Text: "x"})
			}
		})
	}

	wg.Wait()

	if tail.Total() != 400 || len(tail.Lines(0)) != 10 {
		t.Errorf("Total() = %d, Lines = %d", tail.Total(), len(tail.Lines(0)))
	}
}
