package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	updater "github.com/snider/plugin-updater"
)

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var (
		installed map[string]string
		vPrefix   bool
	)

	cmd := &cobra.Command{
		Use:   "check [owner/repo...]",
		Short: "Check configured repositories for plugin updates",
		Long: `Compares the latest GitHub release of each repository with the installed
version. The installed version defaults to the configured plugin version and
can be overridden per repository with --installed owner/repo=1.2.3.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx, opts.cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var results []updater.CheckResult
			if len(args) == 0 {
				results, err = rt.registry.CheckAll(ctx, installed)
				if err != nil {
					return err
				}
			} else {
				for _, arg := range args {
					c, err := rt.coordinator(arg)
					if err != nil {
						return err
					}
					decision, found := c.CheckForUpdate(ctx, installed[c.RepoPath()])
					results = append(results, updater.CheckResult{RepoPath: c.RepoPath(), Found: found, Decision: decision})
				}
			}

			notices := rt.registry.Notices(ctx)
			for _, n := range notices {
				fmt.Fprintln(cmd.ErrOrStderr(), "notice:", n.Message)
			}

			return render(cmd.OutOrStdout(), opts.output, results, func(w io.Writer) error {
				for _, r := range results {
					fmt.Fprintln(w, describeCheck(r, vPrefix))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&installed, "installed", nil, "Installed version per repository, e.g. acme/widget=1.2.0")
	cmd.Flags().BoolVar(&vPrefix, "v-prefix", false, "Print versions with a leading 'v' in text output")
	return cmd
}

func describeCheck(r updater.CheckResult, vPrefix bool) string {
	if !r.Found {
		return fmt.Sprintf("%s: no release data", r.RepoPath)
	}
	resp := r.Decision.Response
	if !r.Decision.UpdateAvailable {
		return fmt.Sprintf("%s: up to date (%s)", r.RepoPath, updater.FormatVersion(resp.NewVersion, vPrefix))
	}

	var reqs []string
	if resp.Tested != "" {
		reqs = append(reqs, "tested "+resp.Tested)
	}
	if resp.Requires != "" {
		reqs = append(reqs, "requires "+resp.Requires)
	}
	if resp.RequiresPHP != "" {
		reqs = append(reqs, "requires PHP "+resp.RequiresPHP)
	}
	line := fmt.Sprintf("%s: update available %s", r.RepoPath, updater.FormatVersion(resp.NewVersion, vPrefix))
	if len(reqs) > 0 {
		line += " (" + strings.Join(reqs, ", ") + ")"
	}
	return line
}
