package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/selfupdate"
)

// ErrNoRelease is returned when there is no release to download.
var ErrNoRelease = errors.New("no release available")

// DownloadClient returns the http client used for package downloads. It can
// be replaced in tests.
var DownloadClient = func(c *Coordinator) *http.Client {
	return &http.Client{Transport: c.Transport(nil)}
}

// Download fetches the latest release package and writes it to w. It arms
// the download headers first, so private release assets are authenticated.
func Download(ctx context.Context, c *Coordinator, w io.Writer) (*ReleaseRecord, error) {
	c.PreDownload(ctx)
	release := c.LatestRelease(ctx)
	if release == nil {
		return nil, ErrNoRelease
	}

	body, err := openPackage(ctx, c, release.DownloadURL)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Debug("failed to close package body", "error", err)
		}
	}(body)

	if _, err := io.Copy(w, body); err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}
	return release, nil
}

// ApplyBinary downloads a single-file package and atomically replaces
// targetPath with it. A failed replacement is rolled back.
func ApplyBinary(ctx context.Context, c *Coordinator, targetPath string) (*ReleaseRecord, error) {
	c.PreDownload(ctx)
	release := c.LatestRelease(ctx)
	if release == nil {
		return nil, ErrNoRelease
	}

	body, err := openPackage(ctx, c, release.DownloadURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	err = selfupdate.Apply(body, selfupdate.Options{TargetPath: targetPath})
	if err != nil {
		if rerr := selfupdate.RollbackError(err); rerr != nil {
			return nil, fmt.Errorf("failed to rollback from failed update: %v", rerr)
		}
		return nil, fmt.Errorf("update failed: %w", err)
	}

	c.logger.Info("package applied", "target", targetPath, "version", release.Version)
	return release, nil
}

func openPackage(ctx context.Context, c *Coordinator, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := DownloadClient(c).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download package: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download package: status code %d", resp.StatusCode)
	}
	return resp.Body, nil
}
