package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	updater "github.com/snider/plugin-updater"
)

type downloadResult struct {
	Repo    string `json:"repo"`
	Version string `json:"version"`
	Path    string `json:"path"`
	Applied bool   `json:"applied"`
}

func newDownloadCmd(opts *globalOptions) *cobra.Command {
	var (
		file  string
		apply string
	)

	cmd := &cobra.Command{
		Use:   "download owner/repo",
		Short: "Download the latest release package",
		Long: `Downloads the first asset of the latest release. Private repositories are
authenticated with the stored access token. With --apply the package is
treated as a single executable and atomically replaces the given file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (apply == "") {
				return errors.New("exactly one of --file or --apply is required")
			}

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

			result := downloadResult{Repo: c.RepoPath()}
			var release *updater.ReleaseRecord
			if apply != "" {
				release, err = updater.ApplyBinary(ctx, c, apply)
				result.Path = apply
				result.Applied = true
			} else {
				release, err = downloadToFile(cmd, c, file)
				result.Path = file
			}
			if err != nil {
				return err
			}
			result.Version = release.Version

			return render(cmd.OutOrStdout(), opts.output, result, func(w io.Writer) error {
				verb := "downloaded to"
				if result.Applied {
					verb = "applied to"
				}
				_, err := fmt.Fprintf(w, "%s %s %s %s\n", result.Repo, result.Version, verb, result.Path)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write the package to this file")
	cmd.Flags().StringVar(&apply, "apply", "", "Replace this executable with the package")
	return cmd
}

func downloadToFile(cmd *cobra.Command, c *updater.Coordinator, path string) (*updater.ReleaseRecord, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	release, err := updater.Download(cmd.Context(), c, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return release, nil
}
