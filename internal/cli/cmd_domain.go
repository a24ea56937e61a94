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

const dateLayout = "2006-01-02"

func newDomainCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "domain",
		Aliases: []string{"domains"},
		Short:   "Domain inventory",
	}
	cmd.AddCommand(
		newDomainAddCommand(deps),
		newDomainListCommand(deps),
		newDomainShowCommand(deps),
		newDomainRemoveCommand(deps),
	)
	return cmd
}

func newDomainAddCommand(deps commandDeps) *cobra.Command {
	var (
		domainType string
		ssl        bool
		sslExpiry  string
		registrar  string
		zoneID     string
		recordID   string
		notes      string
		placement  app.PlacementRefs
	)

	cmd := &cobra.Command{
		Use:   "add <domain>",
		Short: "Add a domain",
		Example: "  pctrl domain add blog.example.com --ssl --ssl-expiry 2027-01-31\n" +
			"  pctrl domain add staging.example.com --type staging --server vps1",
		Args: exactArgs(1, "exactly one domain name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := &storage.Domain{
				Domain:             args[0],
				SSL:                ssl,
				Registrar:          registrar,
				CloudflareZoneID:   zoneID,
				CloudflareRecordID: recordID,
				Notes:              notes,
			}
			if domainType != "" {
				parsed, err := storage.ParseDomainType(domainType)
				if err != nil {
					return mapCommandError(err)
				}
				domain.Type = parsed
			}
			if sslExpiry != "" {
				expiry, err := time.Parse(dateLayout, sslExpiry)
				if err != nil {
					return usageErrorf("--ssl-expiry must be a date like 2027-01-31")
				}
				domain.SSLExpiry = &expiry
			}
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				resolved, err := reg.ResolvePlacement(ctx, placement)
				if err != nil {
					return err
				}
				domain.ServerID, domain.ContainerID = resolved.ServerID, resolved.ContainerID
				if err := reg.Store().Domains.Save(ctx, domain); err != nil {
					return err
				}
				return printResult(deps, domain, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s type=%s\n", domain.Domain, domain.ID, domain.Type)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&domainType, "type", "", "Domain type (production, staging, dev)")
	cmd.Flags().BoolVar(&ssl, "ssl", false, "Domain serves TLS")
	cmd.Flags().StringVar(&sslExpiry, "ssl-expiry", "", "Certificate expiry date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&registrar, "registrar", "", "Registrar")
	cmd.Flags().StringVar(&zoneID, "cloudflare-zone", "", "Cloudflare zone id")
	cmd.Flags().StringVar(&recordID, "cloudflare-record", "", "Cloudflare DNS record id")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	addPlacementFlags(cmd, &placement, false)
	return cmd
}

func newDomainListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List domains",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				domains, err := reg.Store().Domains.List(ctx)
				if err != nil {
					return err
				}
				if domains == nil {
					domains = []storage.Domain{}
				}
				return printResult(deps, domains, func(w io.Writer) error {
					for _, d := range domains {
						if _, err := fmt.Fprintf(w, "%s type=%s ssl=%s\n", d.Domain, d.Type, sslState(d)); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

type domainDetails struct {
	Domain    *storage.Domain     `json:"domain"`
	Placement app.PlacementView   `json:"placement"`
	Projects  []app.ResourceUsage `json:"projects"`
}

func newDomainShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <domain|id>",
		Short: "Show a domain and the projects using it",
		Args:  exactArgs(1, "exactly one domain or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				domain, err := reg.ResolveDomain(ctx, args[0])
				if err != nil {
					return err
				}
				usage, err := reg.Usage(ctx, storage.ResourceTypeDomain, domain.ID)
				if err != nil {
					return err
				}
				placement, err := reg.DescribePlacement(ctx, app.Placement{ServerID: domain.ServerID, ContainerID: domain.ContainerID})
				if err != nil {
					return err
				}
				details := domainDetails{Domain: domain, Placement: placement, Projects: usage}
				return printResult(deps, details, func(w io.Writer) error {
					if _, err := fmt.Fprintf(
						w,
						"%s id=%s type=%s ssl=%s registrar=%s\n",
						domain.Domain,
						domain.ID,
						domain.Type,
						sslState(*domain),
						orDash(domain.Registrar),
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

func newDomainRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <domain|id>",
		Short: "Remove a domain and the links to it",
		Args:  exactArgs(1, "exactly one domain or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				domain, err := reg.ResolveDomain(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Domains.Remove(ctx, domain.ID); err != nil {
					return err
				}
				return printRemoved(deps, "domain", domain.Domain)
			})
		},
	}
}

func sslState(d storage.Domain) string {
	if !d.SSL {
		return "off"
	}
	if d.SSLExpiry == nil {
		return "on"
	}
	return "until " + d.SSLExpiry.Format(dateLayout)
}
