package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pctrl/pctrl/internal/app"
	"github.com/pctrl/pctrl/internal/storage"
	"github.com/spf13/cobra"
)

func newScriptCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "script",
		Aliases: []string{"scripts"},
		Short:   "Saved operational commands",
	}
	cmd.AddCommand(
		newScriptAddCommand(deps),
		newScriptListCommand(deps),
		newScriptShowCommand(deps),
		newScriptRemoveCommand(deps),
		newScriptResultCommand(deps),
	)
	return cmd
}

func newScriptAddCommand(deps commandDeps) *cobra.Command {
	var (
		command     string
		scriptType  string
		description string
		dangerous   bool
		placement   app.PlacementRefs
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a command",
		Example: "  pctrl script add dump --command 'pg_dump app > app.sql' --type ssh\n" +
			"  pctrl script add wipe-cache --command 'redis-cli FLUSHALL' --dangerous\n" +
			"  pctrl script add logs --command 'docker logs -f app' --type docker --server vps1 --container app",
		Args: exactArgs(1, "exactly one script name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			script := &storage.Script{
				Name:        args[0],
				Command:     command,
				Description: description,
				Dangerous:   dangerous,
			}
			if scriptType != "" {
				parsed, err := storage.ParseScriptType(scriptType)
				if err != nil {
					return mapCommandError(err)
				}
				script.Type = parsed
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				resolved, err := reg.ResolvePlacement(ctx, placement)
				if err != nil {
					return err
				}
				script.ServerID, script.ContainerID, script.ProjectID = resolved.ServerID, resolved.ContainerID, resolved.ProjectID
				if err := reg.Store().Scripts.Save(ctx, script); err != nil {
					return err
				}
				return printResult(deps, script, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s type=%s\n", script.Name, script.ID, script.Type)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command line to run")
	cmd.Flags().StringVar(&scriptType, "type", "", "Where it runs (ssh, local, docker)")
	cmd.Flags().StringVar(&description, "description", "", "What the script does")
	cmd.Flags().BoolVar(&dangerous, "dangerous", false, "Mark the script as destructive")
	addPlacementFlags(cmd, &placement, true)
	return cmd
}

func newScriptListCommand(deps commandDeps) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List scripts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				scripts, err := listScripts(ctx, reg, project)
				if err != nil {
					return err
				}
				if scripts == nil {
					scripts = []storage.Script{}
				}
				return printResult(deps, scripts, func(w io.Writer) error {
					for _, s := range scripts {
						if _, err := fmt.Fprintf(
							w,
							"%s type=%s last=%s%s\n",
							s.Name,
							s.Type,
							lastResultState(s.LastResult),
							boolToState(s.Dangerous, " dangerous", ""),
						); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Only scripts scoped to this project (name or id)")
	return cmd
}

func listScripts(ctx context.Context, reg *app.Registry, projectRef string) ([]storage.Script, error) {
	if projectRef == "" {
		return reg.Store().Scripts.List(ctx)
	}
	project, err := reg.ResolveProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	return reg.Store().Scripts.ListForProject(ctx, project.ID)
}

type scriptDetails struct {
	Script    *storage.Script     `json:"script"`
	Placement app.PlacementView   `json:"placement"`
	Projects  []app.ResourceUsage `json:"projects"`
}

func newScriptShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a script and its last result",
		Args:  exactArgs(1, "exactly one script name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				script, err := reg.ResolveScript(ctx, args[0])
				if err != nil {
					return err
				}
				usage, err := reg.Usage(ctx, storage.ResourceTypeScript, script.ID)
				if err != nil {
					return err
				}
				placement, err := reg.DescribePlacement(ctx, app.Placement{
					ServerID:    script.ServerID,
					ContainerID: script.ContainerID,
					ProjectID:   script.ProjectID,
				})
				if err != nil {
					return err
				}
				details := scriptDetails{Script: script, Placement: placement, Projects: usage}
				return printResult(deps, details, func(w io.Writer) error {
					if _, err := fmt.Fprintf(w, "%s id=%s type=%s last=%s\n", script.Name, script.ID, script.Type, lastResultState(script.LastResult)); err != nil {
						return err
					}
					if _, err := fmt.Fprintf(w, "  $ %s\n", script.Command); err != nil {
						return err
					}
					if err := printPlacement(w, placement); err != nil {
						return err
					}
					if r := script.LastResult; r != nil && r.Output != "" {
						if _, err := fmt.Fprintf(w, "  output:\n%s\n", r.Output); err != nil {
							return err
						}
					}
					return printUsage(w, usage)
				})
			})
		},
	}
}

func newScriptRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a script and the links to it",
		Args:  exactArgs(1, "exactly one script name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				script, err := reg.ResolveScript(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Scripts.Remove(ctx, script.ID); err != nil {
					return err
				}
				return printRemoved(deps, "script", script.Name)
			})
		},
	}
}

func newScriptResultCommand(deps commandDeps) *cobra.Command {
	var (
		exitCode int
		output   string
	)

	cmd := &cobra.Command{
		Use:     "result <name|id>",
		Short:   "Record the outcome of the last run",
		Example: "  pctrl script result dump --exit-code 0 --output 'wrote app.sql'",
		Args:    exactArgs(1, "exactly one script name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				script, err := reg.ResolveScript(ctx, args[0])
				if err != nil {
					return err
				}
				result := storage.ScriptResult{ExitCode: exitCode, Output: output, RanAt: time.Now().UTC()}
				if err := reg.Store().Scripts.RecordResult(ctx, script.ID, result); err != nil {
					return err
				}
				return printResult(deps, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s last=%s\n", script.Name, lastResultState(&result))
					return err
				})
			})
		},
	}
	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "Exit code of the run")
	cmd.Flags().StringVar(&output, "output", "", "Captured output")
	return cmd
}

func lastResultState(r *storage.ScriptResult) string {
	if r == nil {
		return "never"
	}
	return fmt.Sprintf("%s(exit=%d)", boolToState(r.Success(), "ok", "failed"), r.ExitCode)
}
