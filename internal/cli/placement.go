package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/spf13/cobra"
)

func addPlacementFlags(cmd *cobra.Command, refs *app.PlacementRefs, withProject bool) {
	cmd.Flags().StringVar(&refs.Server, "server", "", "Server it runs on (name or id)")
	cmd.Flags().StringVar(&refs.Container, "container", "", "Container it runs in (name or id)")
	if withProject {
		cmd.Flags().StringVar(&refs.Project, "project", "", "Project it belongs to (name or id)")
	}
}

func printPlacement(w io.Writer, view app.PlacementView) error {
	var parts []string
	if view.Server != "" {
		parts = append(parts, "server="+view.Server)
	}
	if view.Container != "" {
		parts = append(parts, "container="+view.Container)
	}
	if view.Project != "" {
		parts = append(parts, "project="+view.Project)
	}
	if len(parts) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(w, "  runs on: %s\n", strings.Join(parts, " "))
	return err
}
