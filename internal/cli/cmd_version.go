package cli

import (
	"fmt"
	"runtime"

	"github.com/pctrl/pctrl/internal/storage"
	"github.com/spf13/cobra"
)

// versionReport carries the schema version this binary migrates stores to.
type versionReport struct {
	BuildInfo
	SchemaVersion int    `json:"schema_version"`
	GoVersion     string `json:"go_version"`
}

func newVersionCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and store schema version",
		Example: "  pctrl version\n" +
			"  pctrl --json version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := versionReport{
				BuildInfo:     deps.build,
				SchemaVersion: storage.CurrentSchemaVersion,
				GoVersion:     runtime.Version(),
			}
			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, report))
			}
			_, err := fmt.Fprintf(
				deps.out,
				"version=%s commit=%s build_time=%s schema=%d go=%s\n",
				report.Version,
				report.Commit,
				report.BuildTime,
				report.SchemaVersion,
				report.GoVersion,
			)
			return mapCommandError(err)
		},
	}
}
