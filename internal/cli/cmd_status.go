package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/spf13/cobra"
)

func newStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store location, schema version and inventory counts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				status, err := reg.Status(ctx)
				if err != nil {
					return err
				}
				return printResult(deps, status, func(w io.Writer) error {
					inv := status.Inventory
					_, err := fmt.Fprintf(
						w,
						"store=%s schema=%d store_id=%s\nprojects=%d servers=%d domains=%d databases=%d containers=%d scripts=%d credentials=%d\n",
						status.Path,
						status.SchemaVersion,
						status.StoreID,
						inv.Projects,
						inv.Servers,
						inv.Domains,
						inv.Databases,
						inv.Containers,
						inv.Scripts,
						inv.Credentials,
					)
					return err
				})
			})
		},
	}
}
