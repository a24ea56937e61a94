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

func newDatabaseCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"database", "databases"},
		Short:   "Database credentials",
	}
	cmd.AddCommand(
		newDatabaseAddCommand(deps),
		newDatabaseListCommand(deps),
		newDatabaseShowCommand(deps),
		newDatabaseGetCommand(deps),
		newDatabaseRemoveCommand(deps),
	)
	return cmd
}

func newDatabaseAddCommand(deps commandDeps) *cobra.Command {
	var (
		dbType        string
		host          string
		port          int
		databaseName  string
		username      string
		passwordEnv   string
		connectionEnv string
		notes         string
		placement     app.PlacementRefs
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add database credentials",
		Long: "Add database credentials. The password and connection string are read from\n" +
			"the environment variables named by --password-env and --url-env so they never\n" +
			"appear in shell history.",
		Example: "  DB_PASS=... pctrl db add maindb --type postgres --host db.internal --user app --password-env DB_PASS",
		Args:    exactArgs(1, "exactly one database name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := &storage.DatabaseCredentials{
				Name:         args[0],
				Host:         host,
				Port:         port,
				DatabaseName: databaseName,
				Username:     username,
				Notes:        notes,
			}
			if dbType != "" {
				parsed, err := storage.ParseDatabaseType(dbType)
				if err != nil {
					return mapCommandError(err)
				}
				creds.Type = parsed
			}
			if creds.Port == 0 && creds.Host != "" {
				engine := creds.Type
				if engine == "" {
					engine = storage.DatabaseTypePostgres
				}
				creds.Port = engine.DefaultPort()
			}
			var err error
			if creds.Password, err = secretFromEnv(deps, "--password-env", passwordEnv); err != nil {
				return err
			}
			if creds.ConnectionString, err = secretFromEnv(deps, "--url-env", connectionEnv); err != nil {
				return err
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				resolved, err := reg.ResolvePlacement(ctx, placement)
				if err != nil {
					return err
				}
				creds.ServerID, creds.ContainerID = resolved.ServerID, resolved.ContainerID
				if err := reg.Store().Databases.Save(ctx, creds); err != nil {
					return err
				}
				return printResult(deps, creds, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s type=%s\n", creds.Name, creds.ID, creds.Type)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&dbType, "type", "", "Engine (postgres, mysql, mongodb, redis, sqlite)")
	cmd.Flags().StringVar(&host, "host", "", "Database host")
	cmd.Flags().IntVar(&port, "port", 0, "Database port (defaults to the engine's port)")
	cmd.Flags().StringVar(&databaseName, "database", "", "Database name on the server")
	cmd.Flags().StringVar(&username, "user", "", "Username")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "Environment variable holding the password")
	cmd.Flags().StringVar(&connectionEnv, "url-env", "", "Environment variable holding the connection string")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	addPlacementFlags(cmd, &placement, false)
	return cmd
}

func newDatabaseListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List databases",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				databases, err := reg.Store().Databases.List(ctx)
				if err != nil {
					return err
				}
				if databases == nil {
					databases = []storage.DatabaseCredentials{}
				}
				return printResult(deps, databases, func(w io.Writer) error {
					for _, db := range databases {
						if _, err := fmt.Fprintf(w, "%s type=%s %s\n", db.Name, db.Type, endpoint(db)); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

type databaseDetails struct {
	Database  *storage.DatabaseCredentials `json:"database"`
	Placement app.PlacementView            `json:"placement"`
	Projects  []app.ResourceUsage          `json:"projects"`
}

func newDatabaseShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show database metadata and the projects using it",
		Args:  exactArgs(1, "exactly one database name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				db, err := reg.ResolveDatabase(ctx, args[0])
				if err != nil {
					return err
				}
				usage, err := reg.Usage(ctx, storage.ResourceTypeDatabase, db.ID)
				if err != nil {
					return err
				}
				placement, err := reg.DescribePlacement(ctx, app.Placement{ServerID: db.ServerID, ContainerID: db.ContainerID})
				if err != nil {
					return err
				}
				details := databaseDetails{Database: db, Placement: placement, Projects: usage}
				return printResult(deps, details, func(w io.Writer) error {
					if _, err := fmt.Fprintf(
						w,
						"%s id=%s type=%s %s database=%s user=%s\n",
						db.Name,
						db.ID,
						db.Type,
						endpoint(*db),
						orDash(db.DatabaseName),
						orDash(db.Username),
					); err != nil {
						return err
					}
					if err := printPlacement(w, placement); err != nil {
						return err
					}
					return printUsage(w, usage)
				})
			})
		},
	}
}

func newDatabaseGetCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name|id> <field>",
		Short: "Print one field, decrypting password or url on demand",
		Example: "  pctrl db get maindb password\n" +
			"  pctrl db get maindb url",
		Args: exactArgs(2, "a database and a field (user, password, host, port, database, url)"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				db, err := reg.ResolveDatabase(ctx, args[0])
				if err != nil {
					return err
				}
				value, err := reg.Store().Databases.GetField(ctx, db.ID, args[1])
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]string{"field": strings.ToLower(args[1]), "value": value})
				}
				_, err = fmt.Fprintln(deps.out, value)
				return err
			})
		},
	}
}

func newDatabaseRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove database credentials and the links to them",
		Args:  exactArgs(1, "exactly one database name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				db, err := reg.ResolveDatabase(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Databases.Remove(ctx, db.ID); err != nil {
					return err
				}
				return printRemoved(deps, "database", db.Name)
			})
		},
	}
}

func endpoint(db storage.DatabaseCredentials) string {
	if db.Host == "" {
		return "-"
	}
	if db.Port == 0 {
		return db.Host
	}
	return fmt.Sprintf("%s:%d", db.Host, db.Port)
}

// secretFromEnv reads a secret from the environment variable named by a flag.
// An unset flag yields an empty value.
func secretFromEnv(deps commandDeps, flag, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	value := deps.getenv(name)
	if value == "" {
		return "", usageErrorf("%s names %s, which is unset or empty", flag, name)
	}
	return value, nil
}
