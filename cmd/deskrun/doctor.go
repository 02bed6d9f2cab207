package main

import (
	"github.com/spf13/cobra"

	"github.com/deskrun/deskrun/internal/doctor"
	"github.com/deskrun/deskrun/internal/output"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common launch issues",
		Long: `Run diagnostic checks against the install and this machine.

Checks performed:
  - Install root and session config file
  - Session binary presence and permissions
  - R runtime resolution
  - Session port availability
  - Locked memory for the shared secret`,
		Example: `  deskrun doctor
  deskrun doctor --install-root /opt/deskrun --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			cfg, inst, err := loadInstallation(cmd)
			if err != nil {
				return err
			}

			runner := doctor.New(doctor.Inputs{
				Installation: inst,
				Environment:  newEnvironment(cfg),
				DevMode:      cfg.DevMode(),
				Port:         cfg.Port(),
			})
			results := runner.Run(cmd.Context())

			if out.JSON {
				if err := out.PrintJSON(results); err != nil {
					return err
				}
			} else {
				out.Println("deskrun doctor")
				out.Println("==============")
				out.Println()

				doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

				passed, failed, warnings := doctor.Summary(results)
				out.Println()
				out.Print("%d passed", passed)
				if failed > 0 {
					out.Print(", %d failed", failed)
				}
				if warnings > 0 {
					out.Print(", %d warning(s)", warnings)
				}
				out.Println()
			}

			if doctor.Failed(results) {
				return doctor.ErrChecksFailed
			}

			return nil
		},
	}

	addInstallFlags(cmd)

	return cmd
}
