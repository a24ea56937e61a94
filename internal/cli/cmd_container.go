package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/pctrl/pctrl/internal/storage"
	"github.com/spf13/cobra"
)

func newContainerCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "container",
		Aliases: []string{"containers"},
		Short:   "Container inventory",
	}
	cmd.AddCommand(
		newContainerAddCommand(deps),
		newContainerListCommand(deps),
		newContainerRemoveCommand(deps),
	)
	return cmd
}

func newContainerAddCommand(deps commandDeps) *cobra.Command {
	var (
		image  string
		server string
		status string
		ports  []string
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Record a container",
		Example: "  pctrl container add web --image nginx:1.27 --server vps1 --port 80:80\n" +
			"  pctrl container add worker --label team=payments",
		Args: exactArgs(1, "exactly one container name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := &storage.Container{
				Name:   args[0],
				Image:  image,
				Status: storage.ContainerStatusUnknown,
				Ports:  trimAll(ports),
				Labels: parseKeyValuePairs(labels),
			}
			if status != "" {
				container.Status = storage.ParseContainerStatus(status)
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				if server != "" {
					s, err := reg.ResolveServer(ctx, server)
					if err != nil {
						return err
					}
					container.ServerID = &s.ID
				}
				if err := reg.Store().Containers.Save(ctx, container); err != nil {
					return err
				}
				return printResult(deps, container, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s status=%s\n", container.Name, container.ID, container.Status)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Image reference")
	cmd.Flags().StringVar(&server, "server", "", "Server the container runs on")
	cmd.Flags().StringVar(&status, "status", "", "Last known status (running, stopped, restarting, paused, exited)")
	cmd.Flags().StringSliceVar(&ports, "port", nil, "Port mapping (repeatable)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "Label key=value (repeatable)")
	return cmd
}

func newContainerListCommand(deps commandDeps) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List containers",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				var (
					containers []storage.Container
					err        error
				)
				if server != "" {
					s, rerr := reg.ResolveServer(ctx, server)
					if rerr != nil {
						return rerr
					}
					containers, err = reg.Store().Containers.ListByServer(ctx, s.ID)
				} else {
					containers, err = reg.Store().Containers.List(ctx)
				}
				if err != nil {
					return err
				}
				if containers == nil {
					containers = []storage.Container{}
				}
				return printResult(deps, containers, func(w io.Writer) error {
					for _, c := range containers {
						if _, err := fmt.Fprintf(
							w,
							"%s %s image=%s ports=%s id=%s\n",
							c.Name,
							c.Status,
							orDash(c.Image),
							orDash(strings.Join(c.Ports, ",")),
							c.ID,
						); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Only list containers on this server")
	return cmd
}

func newContainerRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a container and the links to it",
		Args:  exactArgs(1, "exactly one container name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				container, err := reg.ResolveContainer(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Containers.Remove(ctx, container.ID); err != nil {
					return err
				}
				return printRemoved(deps, "container", container.Name)
			})
		},
	}
}

func parseKeyValuePairs(values []string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := map[string]string{}
	for _, raw := range values {
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
