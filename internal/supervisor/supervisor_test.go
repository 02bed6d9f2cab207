//go:build unix

package supervisor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) observe(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.events)
}

func waitDone(t *testing.T, child *Child) {
	t.Helper()

	select {
	case <-child.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("child did not exit")
	}
}

func TestLaunch_DeliversOutputThenExit(t *testing.T) {
	script := writeScript(t, `echo "args:$*"
echo "secret:$RS_SHARED_SECRET"
printf '\033[31mred\033[0m\n' >&2
exit 3`)

	var events collector

	sup := New(WithObserver(events.observe), WithDrainGrace(10*time.Second))

	child, err := sup.Launch(context.Background(), script, []string{"--www-port", "40810", "--www-port", "40810"}, map[string]string{"RS_SHARED_SECRET": "c0ffee"})
	require.NoError(t, err)
	waitDone(t, child)

	got := events.snapshot()
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, Exited, last.Kind)
	assert.Equal(t, ExitStatus{Code: 3}, last.Status)

	var stdout, stderr []string

	for _, ev := range got[:len(got)-1] {
		switch ev.Kind {
		case OutputLine:
			stdout = append(stdout, ev.Line)
		case ErrorLine:
			stderr = append(stderr, ev.Line)
		default:
			t.Fatalf("unexpected event before exit: %v", ev.Kind)
		}
	}

	assert.Equal(t, []string{"args:--www-port 40810 --www-port 40810", "secret:c0ffee"}, stdout)
	assert.Equal(t, []string{"red"}, stderr)

	status, ok := child.Status()
	require.True(t, ok)
	assert.Equal(t, "exit code 3", status.String())
	assert.Equal(t, "error", status.Outcome())
}

func TestLaunch_SpawnErrors(t *testing.T) {
	dir := t.TempDir()

	notExec := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notExec, []byte("#!/bin/sh\n"), 0o644))

	tests := []struct {
		name   string
		path   string
		reason Reason
	}{
		{"missing", filepath.Join(dir, "missing"), ReasonNotFound},
		{"missing on PATH", "deskrun-no-such-binary", ReasonNotFound},
		{"directory", dir, ReasonNotExecutable},
		{"no execute bit", notExec, ReasonNotExecutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events collector

			child, err := New(WithObserver(events.observe)).Launch(context.Background(), tt.path, nil, nil)
			require.Error(t, err)
			assert.Nil(t, child)

			var spawnErr *SpawnError
			require.ErrorAs(t, err, &spawnErr)
			assert.Equal(t, tt.reason, spawnErr.Reason)
			assert.Empty(t, events.snapshot())
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ReasonNotFound, classify(&fs.PathError{Op: "stat", Path: "x", Err: fs.ErrNotExist}))
	assert.Equal(t, ReasonPermissionDenied, classify(&fs.PathError{Op: "fork/exec", Path: "x", Err: fs.ErrPermission}))
	assert.Equal(t, ReasonNotExecutable, classify(errors.New("exec format error")))
}

func TestTerminate_StopsChild(t *testing.T) {
	script := writeScript(t, `echo ready
exec sleep 60`)

	ready := make(chan struct{})

	var once sync.Once

	child, err := New(WithObserver(func(ev Event) {
		if ev.Kind == OutputLine && ev.Line == "ready" {
			once.Do(func() { close(ready) })
		}
	})).Launch(context.Background(), script, nil, nil)
	require.NoError(t, err)

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("child never became ready")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, child.Terminate(ctx))

	status, ok := child.Status()
	require.True(t, ok)
	assert.Equal(t, "SIGTERM", status.Signal)
	assert.Equal(t, "signal", status.Outcome())
	assert.False(t, status.Success())
}

func TestSubscribe_AfterExit(t *testing.T) {
	child, err := New().Launch(context.Background(), writeScript(t, "exit 0"), nil, nil)
	require.NoError(t, err)
	waitDone(t, child)

	var events collector
	child.Subscribe(events.observe)

	got := events.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, Exited, got[0].Kind)
	assert.True(t, got[0].Status.Success())
}

func TestExitNotHeldByDescendantOutput(t *testing.T) {
	// The helper inherits stdout and stderr and outlives the child.
	script := writeScript(t, `echo starting
sleep 3 &
exit 1`)

	var events collector

	child, err := New(WithObserver(events.observe), WithDrainGrace(500*time.Millisecond)).
		Launch(context.Background(), script, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = killGroup(child.PID()) })

	select {
	case <-child.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("exit not reported while a descendant holds the output pipes")
	}

	status, ok := child.Status()
	require.True(t, ok)
	assert.Equal(t, 1, status.Code)

	got := events.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, Exited, got[len(got)-1].Kind)
	assert.Contains(t, got, Event{Kind: OutputLine, Line: "starting"})
}

type blockingRecorder struct {
	mu    sync.Mutex
	lines int
	exits []string
}

func (r *blockingRecorder) SpawnFailure(string)    {}
func (r *blockingRecorder) ChildDroppedEvents(int) {}

func (r *blockingRecorder) ChildOutputLine(string) {
	r.mu.Lock()
	r.lines++
	r.mu.Unlock()
}

func (r *blockingRecorder) ChildExit(outcome string) {
	r.mu.Lock()
	r.exits = append(r.exits, outcome)
	r.mu.Unlock()
}

func TestSlowObserverNeverStallsChild(t *testing.T) {
	script := writeScript(t, `i=0
while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done`)

	release := make(chan struct{})
	rec := &blockingRecorder{}

	var exited bool

	child, err := New(
		WithQueueSize(4),
		WithDrainGrace(10*time.Second),
		WithRecorder(rec),
		WithObserver(func(ev Event) {
			<-release
			if ev.Kind == Exited {
				exited = true
			}
		}),
	).Launch(context.Background(), script, nil, nil)
	require.NoError(t, err)

	// All output is read even though the observer is blocked.
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()

		return rec.lines == 2000 && len(rec.exits) == 1
	}, 10*time.Second, 10*time.Millisecond)

	close(release)
	waitDone(t, child)

	assert.True(t, exited)
	assert.Positive(t, child.Dropped())
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv(
		[]string{"PATH=/usr/bin", "HOME=/root", "R_HOME=/old", "malformed"},
		map[string]string{"R_HOME": "/usr/lib/R", "RS_SHARED_SECRET": "s"},
	)

	assert.Equal(t, []string{"HOME=/root", "PATH=/usr/bin", "RS_SHARED_SECRET=s", "R_HOME=/usr/lib/R"}, got)
	assert.False(t, slices.ContainsFunc(got, func(kv string) bool { return strings.HasPrefix(kv, "malformed") }))
}

func TestMergeEnv_FoldsCaseOnWindows(t *testing.T) {
	ambient := []string{`Path=C:\Windows`, `SystemRoot=C:\Windows`}
	overlay := map[string]string{"PATH": `C:\R\bin\x64;C:\Windows`}

	assert.Equal(t, []string{
		`PATH=C:\R\bin\x64;C:\Windows`,
		`SystemRoot=C:\Windows`,
	}, mergeEnv(ambient, overlay, true))

	assert.Equal(t, []string{
		`PATH=C:\R\bin\x64;C:\Windows`,
		`Path=C:\Windows`,
		`SystemRoot=C:\Windows`,
	}, mergeEnv(ambient, overlay, false))
}
