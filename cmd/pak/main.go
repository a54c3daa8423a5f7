package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitDeployFailed = 1
	ExitConfigError  = 2
	ExitRuntimeError = 3
)

// errDeployFailed marks a run whose aggregate status is failed; the command
// succeeded operationally but the deployment did not.
var errDeployFailed = errors.New("deployment failed")

// errRollbackFailed marks an unsuccessful or advisory rollback.
var errRollbackFailed = errors.New("rollback failed")

func main() {
	os.Exit(run())
}

func run() int {
	app := &app{}

	root := newRootCmd(app)
	err := root.Execute()
	code := exitCodeFor(err)
	switch code {
	case ExitConfigError:
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
	case ExitRuntimeError:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return code
}

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errDeployFailed), errors.Is(err, errRollbackFailed):
		return ExitDeployFailed
	case errors.Is(err, errConfig):
		return ExitConfigError
	default:
		return ExitRuntimeError
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pak",
		Short:         "Universal package deployment orchestrator",
		Long:          "pak deploys a package version across independent publishing targets\nwith bounded concurrency, health gating, and automatic failure recovery.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return a.init(configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().String("config", "", "path to config file")

	root.AddCommand(
		newDeployCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newRollbackCmd(a),
		newPlatformsCmd(a),
		newHealthCmd(a),
	)
	return root
}
