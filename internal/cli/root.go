package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	JSON            bool
	Quiet           bool
	Yes             bool
	PassphraseStdin bool
	StorePath       string
	ConfigPath      string
	LogLevel        string
	Timeout         time.Duration
}

type commandDeps struct {
	out     io.Writer
	errOut  io.Writer
	globals *GlobalOptions
	build   BuildInfo
	getenv  func(string) string
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{
		out:     out,
		errOut:  os.Stderr,
		globals: globals,
		build:   build,
		getenv:  os.Getenv,
	}

	cmd := &cobra.Command{
		Use:           "pctrl",
		Short:         "Encrypted registry of projects and the infrastructure behind them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return asExitError(ExitCodeUsage, err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress non-essential output")
	flags.BoolVarP(&globals.Yes, "yes", "y", false, "Assume yes for confirmations")
	flags.BoolVar(&globals.PassphraseStdin, "passphrase-stdin", false, "Read the store passphrase from the first line of stdin")
	flags.StringVar(&globals.StorePath, "store", "", "Path to the store file")
	flags.StringVar(&globals.ConfigPath, "config", "", "Path to config.toml")
	flags.StringVar(&globals.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.DurationVar(&globals.Timeout, "timeout", 30*time.Second, "Timeout for a single command")

	cmd.AddCommand(
		newVersionCommand(deps),
		newInitCommand(deps),
		newStatusCommand(deps),
		newProjectCommand(deps),
		newServerCommand(deps),
		newDomainCommand(deps),
		newDatabaseCommand(deps),
		newContainerCommand(deps),
		newScriptCommand(deps),
		newCredentialCommand(deps),
		newExportCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
