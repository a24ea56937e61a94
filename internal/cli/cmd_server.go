package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/pctrl/pctrl/internal/storage"
	"github.com/spf13/cobra"
)

func newServerCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"servers"},
		Short:   "Server inventory",
	}
	cmd.AddCommand(
		newServerAddCommand(deps),
		newServerListCommand(deps),
		newServerShowCommand(deps),
		newServerRemoveCommand(deps),
	)
	return cmd
}

func newServerAddCommand(deps commandDeps) *cobra.Command {
	var (
		host       string
		serverType string
		provider   string
		credential string
		location   string
		notes      string
		cpuCores   int
		ramGB      float64
		diskGB     float64
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a server",
		Example: "  pctrl server add vps1 --host 203.0.113.10 --provider hetzner\n" +
			"  pctrl server add build --host build.internal --type dedicated --credential deploy",
		Args: exactArgs(1, "exactly one server name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := &storage.Server{
				Name:     args[0],
				Host:     host,
				Provider: provider,
				Location: location,
				Notes:    notes,
			}
			if serverType != "" {
				parsed, err := storage.ParseServerType(serverType)
				if err != nil {
					return mapCommandError(err)
				}
				server.Type = parsed
			}
			if cpuCores > 0 || ramGB > 0 || diskGB > 0 {
				server.Specs = &storage.ServerSpecs{CPUCores: cpuCores, RAMGB: ramGB, DiskGB: diskGB}
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				if credential != "" {
					cred, err := reg.ResolveCredential(ctx, credential)
					if err != nil {
						return err
					}
					server.CredentialID = &cred.ID
				}
				if err := reg.Store().Servers.Save(ctx, server); err != nil {
					return err
				}
				return printResult(deps, server, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s host=%s type=%s\n", server.Name, server.ID, server.Host, server.Type)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Hostname or IP address")
	cmd.Flags().StringVar(&serverType, "type", "", "Server type (vps, dedicated, local, cloud)")
	cmd.Flags().StringVar(&provider, "provider", "", "Hosting provider")
	cmd.Flags().StringVar(&credential, "credential", "", "Credential used to reach the server")
	cmd.Flags().StringVar(&location, "location", "", "Region or datacenter")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().IntVar(&cpuCores, "cpu", 0, "CPU cores")
	cmd.Flags().Float64Var(&ramGB, "ram-gb", 0, "Memory in GB")
	cmd.Flags().Float64Var(&diskGB, "disk-gb", 0, "Disk in GB")
	return cmd
}

func newServerListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List servers",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				servers, err := reg.Store().Servers.List(ctx)
				if err != nil {
					return err
				}
				if servers == nil {
					servers = []storage.Server{}
				}
				return printResult(deps, servers, func(w io.Writer) error {
					for _, server := range servers {
						if _, err := fmt.Fprintf(
							w,
							"%s %s type=%s provider=%s\n",
							server.Name,
							server.Host,
							server.Type,
							orDash(server.Provider),
						); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

type serverDetails struct {
	Server     *storage.Server     `json:"server"`
	Containers []storage.Container `json:"containers"`
	Projects   []app.ResourceUsage `json:"projects"`
}

func newServerShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a server, its containers and the projects using it",
		Args:  exactArgs(1, "exactly one server name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				server, err := reg.ResolveServer(ctx, args[0])
				if err != nil {
					return err
				}
				containers, err := reg.Store().Containers.ListByServer(ctx, server.ID)
				if err != nil {
					return err
				}
				usage, err := reg.Usage(ctx, storage.ResourceTypeServer, server.ID)
				if err != nil {
					return err
				}
				if containers == nil {
					containers = []storage.Container{}
				}
				details := serverDetails{Server: server, Containers: containers, Projects: usage}
				return printResult(deps, details, func(w io.Writer) error {
					if _, err := fmt.Fprintf(
						w,
						"%s id=%s host=%s type=%s provider=%s location=%s\n",
						server.Name,
						server.ID,
						server.Host,
						server.Type,
						orDash(server.Provider),
						orDash(server.Location),
					); err != nil {
						return err
					}
					if server.CredentialID != nil {
						if _, err := fmt.Fprintf(w, "  credential=%s\n", *server.CredentialID); err != nil {
							return err
						}
					}
					if specs := server.Specs; specs != nil {
						if _, err := fmt.Fprintf(w, "  cpu=%d ram_gb=%g disk_gb=%g\n", specs.CPUCores, specs.RAMGB, specs.DiskGB); err != nil {
							return err
						}
					}
					for _, c := range containers {
						if _, err := fmt.Fprintf(w, "  container %s %s\n", c.Name, c.Status); err != nil {
							return err
						}
					}
					return printUsage(w, usage)
				})
			})
		},
	}
}

func newServerRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a server and the links to it",
		Args:  exactArgs(1, "exactly one server name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				server, err := reg.ResolveServer(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Servers.Remove(ctx, server.ID); err != nil {
					return err
				}
				return printRemoved(deps, "server", server.Name)
			})
		},
	}
}

func printUsage(w io.Writer, usage []app.ResourceUsage) error {
	for _, u := range usage {
		if _, err := fmt.Fprintf(w, "  used by %s role=%s link=%s\n", u.Project, orDash(u.Role), u.LinkID); err != nil {
			return err
		}
	}
	return nil
}
