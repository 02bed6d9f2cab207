package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/deskrun/deskrun/internal/environ"
	"github.com/deskrun/deskrun/internal/gate"
	"github.com/deskrun/deskrun/internal/launch"
	"github.com/deskrun/deskrun/internal/output"
	"github.com/deskrun/deskrun/internal/paths"
	"github.com/deskrun/deskrun/internal/secret"
)

const redacted = "[REDACTED]"

// LaunchPlan is what a launch would run, with credentials redacted.
type LaunchPlan struct {
	SessionBinary string            `json:"session_binary" yaml:"session_binary"`
	ConfigFile    string            `json:"config_file" yaml:"config_file"`
	URL           string            `json:"url" yaml:"url"`
	GateScope     string            `json:"gate_scope" yaml:"gate_scope"`
	GateHeader    string            `json:"gate_header" yaml:"gate_header"`
	PortMode      string            `json:"port_mode" yaml:"port_mode"`
	Args          []string          `json:"args" yaml:"args"`
	Env           map[string]string `json:"env" yaml:"env"`
}

func newPlanCmd() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a launch would run",
		Long: `Resolve the install, runtime and port exactly as 'deskrun launch' would and
print the session command line and environment without starting anything.
The launcher token and shared secret are never generated and are shown redacted.`,
		Example: `  deskrun plan
  deskrun plan --json
  deskrun plan --yaml --dev=false`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			cfg, inst, err := loadInstallation(cmd)
			if err != nil {
				return err
			}

			plan, err := buildPlan(cmd.Context(), inst, newEnvironment(cfg), cfg.DevMode(), cfg.Port())
			if err != nil {
				return err
			}

			switch {
			case out.JSON:
				return out.PrintJSON(plan)
			case asYAML:
				return out.PrintYAML(plan)
			}

			renderPlan(out, plan)

			return nil
		},
	}

	addInstallFlags(cmd)
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output in YAML format")

	return cmd
}

// buildPlan runs the environment and context builders without spawning.
func buildPlan(ctx context.Context, inst paths.Installation, env *environ.Builder, devMode bool, port int) (LaunchPlan, error) {
	vars, err := env.Prepare(ctx, inst)
	if err != nil {
		return LaunchPlan{}, describeLaunchError(err, nil, inst, nil)
	}

	contexts := launch.NewBuilder(launch.PolicyFor(devMode, port), func() string { return redacted })

	lctx, err := contexts.Build(inst.ConfigFile)
	if err != nil {
		return LaunchPlan{}, describeLaunchError(err, nil, inst, nil)
	}

	lctx = lctx.WithFirstRun()

	portMode := "ephemeral"
	if devMode {
		portMode = "fixed"
	}

	return LaunchPlan{
		SessionBinary: inst.SessionBinary,
		ConfigFile:    inst.ConfigFile,
		URL:           lctx.URL(),
		GateScope:     lctx.Scope(),
		GateHeader:    gate.Header,
		PortMode:      portMode,
		Args:          lctx.Args(),
		Env:           vars.With(secret.EnvVar, redacted).Map(),
	}, nil
}

func renderPlan(out *output.Writer, plan LaunchPlan) {
	out.Heading("Launch plan")
	out.Fields([]output.KeyValue{
		{Key: "Session binary", Value: plan.SessionBinary},
		{Key: "Config file", Value: plan.ConfigFile},
		{Key: "URL", Value: plan.URL},
		{Key: "Port", Value: plan.PortMode},
		{Key: "Gate", Value: fmt.Sprintf("%s on %s", plan.GateHeader, plan.GateScope)},
	})

	out.Println()
	out.Println("Arguments:")
	out.List(plan.Args)

	keys := make([]string, 0, len(plan.Env))
	for key := range plan.Env {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+plan.Env[key])
	}

	out.Println()
	out.Println("Environment:")
	out.List(pairs)
}
