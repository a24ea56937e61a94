package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/spf13/cobra"
)

func newExportCommand(deps commandDeps) *cobra.Command {
	var (
		format     string
		outputPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the inventory without secrets",
		Example: "  pctrl export --format yaml\n" +
			"  pctrl export --output backup/inventory.json",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exportFormat := app.ExportFormat(strings.ToLower(strings.TrimSpace(format)))
			switch exportFormat {
			case app.ExportFormatJSON, app.ExportFormatYAML:
			default:
				return usageErrorf("unsupported export format %q", format)
			}

			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				payload, err := app.NewTransferService(reg.Store()).Export(ctx, exportFormat)
				if err != nil {
					return err
				}
				if strings.TrimSpace(outputPath) == "" {
					_, err := deps.out.Write(payload)
					return err
				}
				if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
					return err
				}
				if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"exported": true, "path": outputPath, "format": exportFormat})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "exported %s to %s\n", exportFormat, outputPath)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or yaml")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path (defaults to stdout)")
	return cmd
}
