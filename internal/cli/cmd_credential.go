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

func newCredentialCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"credentials", "cred"},
		Short:   "Encrypted credentials",
	}
	cmd.AddCommand(
		newCredentialAddCommand(deps),
		newCredentialListCommand(deps),
		newCredentialShowCommand(deps),
		newCredentialRemoveCommand(deps),
	)
	return cmd
}

func newCredentialAddCommand(deps commandDeps) *cobra.Command {
	var (
		credType        string
		username        string
		port            int
		keyPath         string
		url             string
		expires         string
		notes           string
		passphraseEnv   string
		tokenEnv        string
		passwordEnv     string
		accessTokenEnv  string
		refreshTokenEnv string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a credential",
		Long: "Add a credential. Secret values are read from the environment variables named\n" +
			"by the --*-env flags.",
		Example: "  pctrl credential add deploy --type ssh_key --user deploy --key-path ~/.ssh/id_ed25519\n" +
			"  CF_TOKEN=... pctrl credential add cloudflare --type api_token --token-env CF_TOKEN",
		Args: exactArgs(1, "exactly one credential name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if credType == "" {
				return usageErrorf("credential add requires --type")
			}
			parsed, err := storage.ParseCredentialType(credType)
			if err != nil {
				return mapCommandError(err)
			}
			credential := &storage.Credential{
				Name:  args[0],
				Type:  parsed,
				Notes: notes,
				Data: storage.CredentialData{
					Username: username,
					Port:     port,
					KeyPath:  keyPath,
					URL:      url,
				},
			}
			if expires != "" {
				at, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return usageErrorf("--expires must be an RFC 3339 timestamp")
				}
				credential.Data.ExpiresAt = &at
			}

			secrets := []struct {
				flag   string
				name   string
				target *string
			}{
				{"--passphrase-env", passphraseEnv, &credential.Data.Passphrase},
				{"--token-env", tokenEnv, &credential.Data.Token},
				{"--password-env", passwordEnv, &credential.Data.Password},
				{"--access-token-env", accessTokenEnv, &credential.Data.AccessToken},
				{"--refresh-token-env", refreshTokenEnv, &credential.Data.RefreshToken},
			}
			for _, secret := range secrets {
				if *secret.target, err = secretFromEnv(deps, secret.flag, secret.name); err != nil {
					return err
				}
			}

			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				if err := reg.Store().Credentials.Save(ctx, credential); err != nil {
					return err
				}
				return printResult(deps, credential, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s id=%s type=%s\n", credential.Name, credential.ID, credential.Type)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&credType, "type", "", "Credential type (ssh_key, ssh_agent, api_token, basic_auth, oauth)")
	cmd.Flags().StringVar(&username, "user", "", "Username")
	cmd.Flags().IntVar(&port, "port", 0, "Port (SSH types default to 22)")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Path to the private key")
	cmd.Flags().StringVar(&url, "url", "", "Service URL")
	cmd.Flags().StringVar(&expires, "expires", "", "Token expiry (RFC 3339)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "", "Environment variable holding the key passphrase")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "Environment variable holding the API token")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "Environment variable holding the password")
	cmd.Flags().StringVar(&accessTokenEnv, "access-token-env", "", "Environment variable holding the OAuth access token")
	cmd.Flags().StringVar(&refreshTokenEnv, "refresh-token-env", "", "Environment variable holding the OAuth refresh token")
	return cmd
}

func newCredentialListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List credentials",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				credentials, err := reg.Store().Credentials.List(ctx)
				if err != nil {
					return err
				}
				if credentials == nil {
					credentials = []storage.Credential{}
				}
				return printResult(deps, credentials, func(w io.Writer) error {
					for _, c := range credentials {
						if _, err := fmt.Fprintf(w, "%s type=%s\n", c.Name, c.Type); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

// revealedCredential exposes the secret payload that Credential keeps out of
// its own JSON encoding.
type revealedCredential struct {
	*storage.Credential
	Data storage.CredentialData `json:"data"`
}

func newCredentialShowCommand(deps commandDeps) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a credential",
		Args:  exactArgs(1, "exactly one credential name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				credential, err := reg.ResolveCredential(ctx, args[0])
				if err != nil {
					return err
				}
				var value any = credential
				if reveal {
					value = revealedCredential{Credential: credential, Data: credential.Data}
				}
				return printResult(deps, value, func(w io.Writer) error {
					d := credential.Data
					if _, err := fmt.Fprintf(w, "%s id=%s type=%s\n", credential.Name, credential.ID, credential.Type); err != nil {
						return err
					}
					if d.Username != "" || d.Port > 0 {
						if _, err := fmt.Fprintf(w, "  user=%s port=%d\n", orDash(d.Username), d.Port); err != nil {
							return err
						}
					}
					if d.KeyPath != "" {
						if _, err := fmt.Fprintf(w, "  key_path=%s\n", d.KeyPath); err != nil {
							return err
						}
					}
					if d.URL != "" {
						if _, err := fmt.Fprintf(w, "  url=%s\n", d.URL); err != nil {
							return err
						}
					}
					if d.ExpiresAt != nil {
						if _, err := fmt.Fprintf(w, "  expires=%s\n", d.ExpiresAt.Format(time.RFC3339)); err != nil {
							return err
						}
					}
					if !reveal {
						return nil
					}
					for _, secret := range []struct{ label, value string }{
						{"passphrase", d.Passphrase},
						{"token", d.Token},
						{"password", d.Password},
						{"access_token", d.AccessToken},
						{"refresh_token", d.RefreshToken},
					} {
						if secret.value == "" {
							continue
						}
						if _, err := fmt.Fprintf(w, "  %s=%s\n", secret.label, secret.value); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Include secret values")
	return cmd
}

func newCredentialRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name|id>",
		Short: "Remove a credential and detach it from servers",
		Args:  exactArgs(1, "exactly one credential name or id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, deps, func(ctx context.Context, reg *app.Registry) error {
				credential, err := reg.ResolveCredential(ctx, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Credentials.Remove(ctx, credential.ID); err != nil {
					return err
				}
				return printRemoved(deps, "credential", credential.Name)
			})
		},
	}
}
