package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/deskrun/deskrun/internal/buildinfo"
	"github.com/deskrun/deskrun/internal/config"
	"github.com/deskrun/deskrun/internal/environ"
	clierrors "github.com/deskrun/deskrun/internal/errors"
	"github.com/deskrun/deskrun/internal/gate"
	"github.com/deskrun/deskrun/internal/launch"
	"github.com/deskrun/deskrun/internal/metrics"
	"github.com/deskrun/deskrun/internal/observability"
	"github.com/deskrun/deskrun/internal/output"
	"github.com/deskrun/deskrun/internal/paths"
	"github.com/deskrun/deskrun/internal/presenter"
	"github.com/deskrun/deskrun/internal/secret"
	"github.com/deskrun/deskrun/internal/session"
	"github.com/deskrun/deskrun/internal/supervisor"
	"github.com/deskrun/deskrun/internal/transcript"
)

// failureTailLines is how much session output a failed launch shows.
const failureTailLines = 20

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"install-root":  config.KeyInstallRoot,
	"config-file":   config.KeyInstallConfigFile,
	"port":          config.KeyPort,
	"dev":           config.KeyDevMode,
	"runtime-home":  config.KeyRuntimeHome,
	"ready-timeout": config.KeyReadyTimeout,
	"metrics-addr":  config.KeyMetricsAddr,
}

// addInstallFlags registers the flags that locate the install and runtime.
func addInstallFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("install-root", "", "Install root containing the session binary (default from config)")
	f.String("config-file", "", "Session config file (default <install-root>/conf/rdesktop-dev.conf)")
	f.Int("port", 0, "Fixed session port in development mode")
	f.Bool("dev", true, "Use the fixed development port instead of an ephemeral one")
	f.String("runtime-home", "", "R home directory (default: R_HOME, `R RHOME`, well-known paths)")
}

// addLaunchFlags registers the flags that only affect a real launch.
func addLaunchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("ready-timeout", 0, "Wait this long for the session to answer before presenting it (0 disables)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this loopback address")
}

// bindFlags makes every changed flag in flags override its config key.
func bindFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}

		if err := cfg.BindFlag(key, flag); err != nil {
			return clierrors.ConfigFailed("bind flags", err)
		}
	}

	return nil
}

// loadInstallation loads config with cmd's flags applied and resolves the install layout.
func loadInstallation(cmd *cobra.Command) (*config.Config, paths.Installation, error) {
	cfg := config.Load()
	if err := bindFlags(cfg, cmd.Flags()); err != nil {
		return nil, paths.Installation{}, err
	}

	inst, err := paths.ResolveInstallation(cfg.InstallRoot(), cfg.InstallConfigFile())
	if err != nil {
		return nil, paths.Installation{}, clierrors.InstallRootNotFound(cfg.InstallRoot())
	}

	return cfg, inst, nil
}

func newEnvironment(cfg *config.Config, opts ...environ.BuilderOption) *environ.Builder {
	return environ.NewBuilder(environ.Options{
		RuntimeHome:    cfg.RuntimeHome(),
		CrashHandler:   cfg.CrashHandler(),
		SleepOnStartup: cfg.SleepOnStartup(),
	}, opts...)
}

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the first session",
		Long: `Start the session binary from the install root with a fresh shared secret,
install the request gate for its loopback endpoint, and print the endpoint.
deskrun stays in the foreground until the session exits or you press Ctrl+C.`,
		Example: `  deskrun launch
  deskrun launch --install-root /opt/deskrun --dev=false
  deskrun launch --ready-timeout 10s --metrics-addr 127.0.0.1:9464`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd)
		},
	}

	addInstallFlags(cmd)
	addLaunchFlags(cmd)

	return cmd
}

func runLaunch(cmd *cobra.Command) (err error) {
	ctx := cmd.Context()
	out := output.FromContext(ctx)
	logger := observability.FromContext(ctx)

	cfg, inst, err := loadInstallation(cmd)
	if err != nil {
		return err
	}

	secrets := secret.New()
	defer func() { _ = secrets.Close() }()

	defer recoverEntropyFailure(&err)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	if addr := cfg.MetricsAddr(); addr != "" {
		bound, _, serveErr := collector.Serve(ctx, addr)
		if serveErr != nil {
			return clierrors.ConfigFailed("serve metrics", serveErr)
		}

		logger.Info("metrics endpoint listening", "addr", bound.String())
	}

	contexts := launch.NewBuilder(launch.PolicyFor(cfg.DevMode(), cfg.Port()), secrets.LauncherToken)

	spin := out.Spinner("Starting session")
	spinning := true
	finish := func(ok bool) {
		if !spinning {
			return
		}

		spinning = false

		if ok {
			spin.StopWithSuccess("")
		} else {
			spin.StopWithFailure("")
		}
	}

	headless := presenter.Headless{Out: out}
	tail := transcript.NewTail(transcript.DefaultLines)

	launcher, err := session.NewLauncher(session.Config{
		Installation: inst,
		Secrets:      secrets,
		Environment:  newEnvironment(cfg),
		Contexts:     contexts,
		Spawner:      supervisor.New(supervisor.WithRecorder(collector), supervisor.WithObserver(tail.Observe)),
		Presenter: presenter.Func(func(ctx context.Context, ep presenter.Endpoint) error {
			finish(true)
			return headless.Present(ctx, ep)
		}),
		InstallGate: func(base http.RoundTripper, urlPrefix string, provider func() string) (*gate.Gate, error) {
			return gate.Install(base, urlPrefix, provider, gate.WithRecorder(collector))
		},
		Recorder:       collector,
		ReadyTimeout:   cfg.ReadyTimeout(),
		StartupGrace:   cfg.StartupGrace(),
		TerminateGrace: cfg.TerminateGrace(),
		UserAgent:      "deskrun/" + buildinfo.Version,
	})
	if err != nil {
		return err
	}

	spin.Start()

	sess, err := launcher.LaunchFirstSession(ctx)
	if err != nil {
		finish(false)
		showTail(out, tail)

		return describeLaunchError(err, cfg, inst, contexts)
	}

	logger.Debug("session running", "url", sess.URL(), "pid", sess.PID(), "memory_locked", secrets.Locked())

	status, err := sess.Wait(ctx)
	if err != nil {
		out.Info("Stopping session")

		if stopErr := sess.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			logger.Error("failed to stop session", "error", stopErr)
			return stopErr
		}

		return nil
	}

	if !status.Success() {
		logger.Error("session exited with failure", "status", status.String())
		showTail(out, tail)

		return clierrors.SessionFailed(status.String())
	}

	out.Info("Session exited")

	return nil
}

// recoverEntropyFailure turns the provisioner's entropy panic into a CLI
// error. Any other panic continues unwinding.
func recoverEntropyFailure(err *error) {
	r := recover()
	if r == nil {
		return
	}

	entropyErr, ok := r.(*secret.EntropyError)
	if !ok {
		panic(r)
	}

	*err = clierrors.ConfigFailed("generate session secret", entropyErr)
}

// showTail prints the last lines the session wrote, if any.
func showTail(out *output.Writer, tail *transcript.Tail) {
	lines := tail.Lines(failureTailLines)
	if len(lines) == 0 || out.JSON {
		return
	}

	out.Muted("Last session output:")

	for _, line := range lines {
		out.Muted("  [%s] %s", line.Stream, line.Text)
	}
}

// describeLaunchError maps a launch failure to the CLI error taxonomy.
func describeLaunchError(err error, cfg *config.Config, inst paths.Installation, contexts *launch.Builder) error {
	var (
		cliErr   *clierrors.CLIError
		envErr   *environ.EnvironmentError
		spawnErr *supervisor.SpawnError
		exitErr  *session.ChildExitError
	)

	switch {
	case errors.As(err, &cliErr):
		return err
	case errors.Is(err, paths.ErrInstallRootMissing):
		return clierrors.InstallRootNotFound(inst.Root)
	case errors.Is(err, paths.ErrConfigFileMissing):
		return clierrors.ConfigFileNotFound(inst.ConfigFile)
	case errors.As(err, &envErr):
		return clierrors.EnvironmentFailed(err)
	case errors.Is(err, launch.ErrNoFreePort):
		return clierrors.NoFreePort(err)
	case errors.As(err, &spawnErr):
		return clierrors.SpawnFailed(spawnErr.Path, err)
	case errors.Is(err, session.ErrGateInstall):
		return clierrors.GateFailed(err)
	case errors.As(err, &exitErr):
		return clierrors.ChildExitedEarly(exitErr.Status.String())
	case errors.Is(err, session.ErrReadinessTimeout):
		// The port is memoized, so this is the context that was launched.
		url, timeout := "the session endpoint", "the ready timeout"
		if contexts != nil {
			if lctx, buildErr := contexts.Build(inst.ConfigFile); buildErr == nil {
				url = lctx.URL()
			}
		}

		if cfg != nil {
			timeout = cfg.ReadyTimeout().String()
		}

		return clierrors.ReadinessTimeout(url, timeout)
	}

	return err
}
