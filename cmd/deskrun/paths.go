package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deskrun/deskrun/internal/output"
	"github.com/deskrun/deskrun/internal/paths"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	InstallRoot   string `json:"install_root"`
	SessionConfig string `json:"session_config"`
	SessionBinary string `json:"session_binary"`
	LDPathScript  string `json:"ldpath_script"`
	ConfigRoot    string `json:"config_root"`
	StateRoot     string `json:"state_root"`
	ConfigFile    string `json:"config_file"`
	LogFile       string `json:"log_file"`
}

func newPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show where deskrun looks for files",
		Long: `Display the install layout a launch would use and the user paths deskrun
reads configuration from and writes logs to.`,
		Example: `  deskrun paths
  deskrun paths --install-root /opt/deskrun --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			_, inst, err := loadInstallation(cmd)
			if err != nil {
				return err
			}

			info := resolvePathsInfo(inst)

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("Install root:   %s\n", info.InstallRoot)
			out.Print("Session config: %s\n", info.SessionConfig)
			out.Print("Session binary: %s\n", info.SessionBinary)
			out.Print("r-ldpath:       %s\n", info.LDPathScript)
			out.Print("\n")
			out.Print("Config root:    %s\n", info.ConfigRoot)
			out.Print("State root:     %s\n", info.StateRoot)
			out.Print("Config file:    %s\n", info.ConfigFile)
			out.Print("Log file:       %s\n", info.LogFile)

			return nil
		},
	}

	addInstallFlags(cmd)

	return cmd
}

func resolvePathsInfo(inst paths.Installation) PathsInfo {
	return PathsInfo{
		InstallRoot:   inst.Root,
		SessionConfig: inst.ConfigFile,
		SessionBinary: inst.SessionBinary,
		LDPathScript:  inst.LDPathScript(),
		ConfigRoot:    resolveOrError(paths.ConfigRoot),
		StateRoot:     resolveOrError(paths.StateRoot),
		ConfigFile:    resolveOrError(paths.ConfigFile),
		LogFile:       resolveOrError(paths.DefaultLogFile),
	}
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}
