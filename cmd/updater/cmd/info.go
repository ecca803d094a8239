package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func newInfoCmd(opts *globalOptions) *cobra.Command {
	var wordWrap int

	cmd := &cobra.Command{
		Use:   "info owner/repo",
		Short: "Show release details and the changelog of a plugin",
		Args:  cobra.ExactArgs(1),
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
			repo, _ := opts.cfg.Find(c.RepoPath())
			info, ok := c.PackageInfo(ctx, repo.PluginInfo().Slug())
			if !ok {
				if msg := c.CredentialError(ctx); msg != "" {
					return fmt.Errorf("no release information for %s: %s", c.RepoPath(), msg)
				}
				return errors.New("no release information for " + c.RepoPath())
			}

			return render(cmd.OutOrStdout(), opts.output, info, func(w io.Writer) error {
				fmt.Fprintf(w, "%s %s\n", info.Name, info.Version)
				fmt.Fprintf(w, "Released:      %s\n", info.LastUpdated)
				fmt.Fprintf(w, "Tested up to:  %s\n", orDash(info.Tested))
				fmt.Fprintf(w, "Requires:      %s\n", orDash(info.Requires))
				fmt.Fprintf(w, "Requires PHP:  %s\n", orDash(info.RequiresPHP))
				fmt.Fprintf(w, "Downloads:     %d\n", info.Downloaded)
				fmt.Fprintf(w, "Package:       %s\n", info.DownloadLink)
				if info.Sections.Changelog == "" {
					return nil
				}
				changelog, err := renderMarkdown(info.Sections.Changelog, wordWrap)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "\n%s", changelog)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&wordWrap, "wrap", 80, "Wrap the changelog at this width")
	return cmd
}

// renderMarkdown renders markdown for the terminal without colours.
func renderMarkdown(markdown string, wordWrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return r.Render(markdown)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
