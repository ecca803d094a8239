package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	updater "github.com/snider/plugin-updater"
	"github.com/snider/plugin-updater/internal/config"
)

func newCredentialCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage GitHub access tokens",
	}
	cmd.AddCommand(newCredentialSetCmd(opts), newCredentialStatusCmd(opts))
	return cmd
}

func newCredentialSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set owner/repo [token]",
		Short: "Store the access token of a repository; omit the token to remove it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx, opts.cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := rt.coordinator(args[0])
			if err != nil {
				return err
			}
			token := ""
			if len(args) == 2 {
				token = args[1]
			}
			if err := c.SetCredential(ctx, token); err != nil {
				return err
			}
			if opts.cfg.Store.Driver != config.DriverSQLite {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: the memory store does not keep the credential after exit")
			}
			if token == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "credential removed for %s\n", c.RepoPath())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "credential stored for %s\n", c.RepoPath())
			}
			return nil
		},
	}
}

func newCredentialStatusCmd(opts *globalOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show credential notices for private repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx, opts.cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if verify {
				rt.registry.VerifyCredentials(ctx)
			}
			notices := rt.registry.Notices(ctx)
			if notices == nil {
				notices = []updater.Notice{}
			}
			return render(cmd.OutOrStdout(), opts.output, notices, func(w io.Writer) error {
				if len(notices) == 0 {
					_, err := fmt.Fprintln(w, "no credential notices")
					return err
				}
				for _, n := range notices {
					fmt.Fprintf(w, "%s [%s] %s\n", n.Owner, n.Kind, n.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Fetch once per owner to test the stored tokens")
	return cmd
}
