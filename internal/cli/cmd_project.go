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

func newProjectCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Project management and resource links",
	}
	cmd.AddCommand(
		newProjectAddCommand(deps),
		newProjectListCommand(deps),
		newProjectShowCommand(deps),
		newProjectRemoveCommand(deps),
		newProjectStatusCommand(deps),
		newProjectLinkCommand(deps),
		newProjectUnlinkCommand(deps),
	)
	return cmd
}

func newProjectAddCommand(deps commandDeps) *cobra.Command {
	var (
		description string
		stack       []string
		status      string
		color       string
		icon        string
		notes       string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a project",
		Example: "  pctrl project add blog --stack go,postgres --status live\n" +
			"  pctrl project add shop --description \"storefront\"",
		Args: exactArgs(1, "exactly one project name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := &storage.Project{
				Name:        args[0],
				Description: description,
				Stack:       trimAll(stack),
				Color:       color,
				Icon:        icon,
				Notes:       notes,
			}
			if status != "" {
				parsed, err := storage.ParseProjectStatus(status)
				if err != nil {
					return mapCommandError(err)
				}
				project.Status = parsed
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				if err := reg.Store().Projects.Save(ctx, project); err != nil {
					return err
				}
				return printProject(deps, project)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringSliceVar(&stack, "stack", nil, "Technology in the stack (repeatable)")
	cmd.Flags().StringVar(&status, "status", "", "Project status (dev, staging, live, archived)")
	cmd.Flags().StringVar(&color, "color", "", "Display color")
	cmd.Flags().StringVar(&icon, "icon", "", "Display icon")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}

func newProjectListCommand(deps commandDeps) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List projects",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want storage.ProjectStatus
			if status != "" {
				parsed, err := storage.ParseProjectStatus(status)
				if err != nil {
					return mapCommandError(err)
				}
				want = parsed
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				projects, err := reg.Store().Projects.List(ctx)
				if err != nil {
					return err
				}
				filtered := make([]storage.Project, 0, len(projects))
				for _, project := range projects {
					if want == "" || project.Status == want {
						filtered = append(filtered, project)
					}
				}
				return printResult(deps, filtered, func(w io.Writer) error {
					for _, project := range filtered {
						if _, err := fmt.Fprintf(
							w,
							"%s status=%s stack=%s\n",
							project.Name,
							project.Status,
							orDash(strings.Join(project.Stack, ",")),
						); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list projects with this status")
	return cmd
}

func newProjectShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a project and the resources linked to it",
		Args:  exactArgs(1, "exactly one project name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				view, err := reg.ShowProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(deps, view, func(w io.Writer) error {
					p := view.Project
					if _, err := fmt.Fprintf(w, "%s id=%s status=%s\n", p.Name, p.ID, p.Status); err != nil {
						return err
					}
					if p.Description != "" {
						if _, err := fmt.Fprintf(w, "  %s\n", p.Description); err != nil {
							return err
						}
					}
					if len(p.Stack) > 0 {
						if _, err := fmt.Fprintf(w, "  stack: %s\n", strings.Join(p.Stack, ", ")); err != nil {
							return err
						}
					}
					for _, res := range view.Resources {
						state := ""
						if res.Missing {
							state = " (missing)"
						}
						if _, err := fmt.Fprintf(
							w,
							"  %s %s role=%s %s link=%s%s\n",
							res.Link.ResourceType,
							res.Name,
							orDash(res.Link.Role),
							orDash(res.Detail),
							res.Link.ID,
							state,
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

func newProjectRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a project and its links",
		Args:  exactArgs(1, "exactly one project name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				project, err := reg.ResolveProject(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Projects.Remove(ctx, project.ID); err != nil {
					return err
				}
				return printRemoved(deps, "project", project.Name)
			})
		},
	}
}

func newProjectStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name|id> <dev|staging|live|archived>",
		Short: "Change a project's status",
		Args:  exactArgs(2, "a project and a status"),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := storage.ParseProjectStatus(args[1])
			if err != nil {
				return mapCommandError(err)
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				project, err := reg.ResolveProject(ctx, args[0])
				if err != nil {
					return err
				}
				project.Status = status
				if err := reg.Store().Projects.Save(ctx, project); err != nil {
					return err
				}
				return printProject(deps, project)
			})
		},
	}
}

func newProjectLinkCommand(deps commandDeps) *cobra.Command {
	var (
		role  string
		notes string
	)

	cmd := &cobra.Command{
		Use:   "link <project> <server|domain|database|container|script> <resource>",
		Short: "Link a resource to a project",
		Example: "  pctrl project link blog server vps1 --role web\n" +
			"  pctrl project link blog db maindb --role primary",
		Args: exactArgs(3, "a project, a resource type and a resource"),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, err := storage.ParseResourceType(args[1])
			if err != nil {
				return mapCommandError(err)
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				link, err := reg.Link(ctx, args[0], resourceType, args[2], role, notes)
				if err != nil {
					return err
				}
				return printResult(deps, link, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "linked %s %s to %s role=%s link=%s\n", link.ResourceType, args[2], args[0], orDash(link.Role), link.ID)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "What the resource does for the project")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes on the link")
	return cmd
}

func newProjectUnlinkCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <link-id>",
		Short: "Remove a resource link",
		Args:  exactArgs(1, "exactly one link id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				if err := reg.Store().Links.Unlink(ctx, args[0]); err != nil {
					return err
				}
				return printRemoved(deps, "link", args[0])
			})
		},
	}
}

func printProject(deps commandDeps, project *storage.Project) error {
	return printResult(deps, project, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s id=%s status=%s\n", project.Name, project.ID, project.Status)
		return err
	})
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
