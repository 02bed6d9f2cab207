package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.Transition("Unstarted", "EnvironmentPrepared")
	c.Transition("Unstarted", "EnvironmentPrepared")
	c.SpawnFailure("not_found")
	c.ChildOutputLine("stdout")
	c.ChildOutputLine("stderr")
	c.ChildOutputLine("stdout")
	c.ChildDroppedEvents(3)
	c.ChildExit("clean")
	c.GateRequest(true)
	c.GateRequest(false)

	assert.InDelta(t, 2, testutil.ToFloat64(c.transitions.WithLabelValues("Unstarted", "EnvironmentPrepared")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.spawnFailures.WithLabelValues("not_found")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.outputLines.WithLabelValues("stdout")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(c.dropped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.childExits.WithLabelValues("clean")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.gateRequests.WithLabelValues("true")), 0)

	expected := `
# HELP deskrun_spawn_failures_total Session processes that could not be started, by reason.
# TYPE deskrun_spawn_failures_total counter
deskrun_spawn_failures_total{reason="not_found"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "deskrun_spawn_failures_total"))
}

func TestServe(t *testing.T) {
	c := NewCollector()
	c.ChildExit("signal")

	ctx, cancel := context.WithCancel(context.Background())

	addr, errc, err := c.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), `deskrun_child_exits_total{outcome="signal"} 1`)

	cancel()
	assert.NoError(t, <-errc)
}

func TestServe_RejectsNonLoopback(t *testing.T) {
	_, _, err := NewCollector().Serve(context.Background(), "0.0.0.0:0")
	assert.Error(t, err)
}
