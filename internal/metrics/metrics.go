// Package metrics exposes launch and session counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deskrun"

// Collector records launcher metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	childExits    *prometheus.CounterVec
	outputLines   *prometheus.CounterVec
	dropped       prometheus.Counter
	gateRequests  *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_state_transitions_total",
			Help:      "Launch state machine transitions.",
		}, []string{"from", "to"}),
		spawnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Session processes that could not be started, by reason.",
		}, []string{"reason"}),
		childExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_exits_total",
			Help:      "Session process exits by outcome (clean, error, signal).",
		}, []string{"outcome"}),
		outputLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_output_lines_total",
			Help:      "Lines read from the session's output streams.",
		}, []string{"stream"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_dropped_events_total",
			Help:      "Output events not delivered because observers fell behind.",
		}),
		gateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_requests_total",
			Help:      "Requests seen by the gate, by whether the secret was attached.",
		}, []string{"stamped"}),
	}

	c.registry.MustRegister(
		c.transitions,
		c.spawnFailures,
		c.childExits,
		c.outputLines,
		c.dropped,
		c.gateRequests,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Transition counts a launch state change.
func (c *Collector) Transition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// SpawnFailure counts a failed start.
func (c *Collector) SpawnFailure(reason string) {
	c.spawnFailures.WithLabelValues(reason).Inc()
}

// ChildOutputLine counts one line on stream.
func (c *Collector) ChildOutputLine(stream string) {
	c.outputLines.WithLabelValues(stream).Inc()
}

// ChildDroppedEvents counts undelivered events.
func (c *Collector) ChildDroppedEvents(n int) {
	c.dropped.Add(float64(n))
}

// ChildExit counts a session exit.
func (c *Collector) ChildExit(outcome string) {
	c.childExits.WithLabelValues(outcome).Inc()
}

// GateRequest counts a request that passed through the gate.
func (c *Collector) GateRequest(stamped bool) {
	c.gateRequests.WithLabelValues(strconv.FormatBool(stamped)).Inc()
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done. addr must be a loopback address.
func (c *Collector) Serve(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	if err := checkLoopback(addr); err != nil {
		return nil, nil, err
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		errc <- err
		close(errc)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), errc, nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	if host == "localhost" {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return errors.New("metrics address must be loopback (127.0.0.1 or localhost)")
	}

	return nil
}
