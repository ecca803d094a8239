package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Plugin is what the host knows about the installed plugin.
type Plugin struct {
	// Basename is the host's plugin identifier, e.g. "my-plugin/my-plugin.php".
	Basename    string `json:"basename"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	URI         string `json:"uri"`
	Description string `json:"description"`
	AuthorName  string `json:"author_name"`
	AuthorURI   string `json:"author_uri"`
	// InstallDir is the plugin's canonical install directory.
	InstallDir string `json:"install_dir"`
	Active     bool   `json:"active"`
}

// Slug is the first path segment of the basename.
func (p Plugin) Slug() string {
	slug, _, _ := strings.Cut(p.Basename, "/")
	return slug
}

// PluginSource loads the installed plugin's properties from the host.
type PluginSource interface {
	Plugin(ctx context.Context) (Plugin, error)
}

// PluginSourceFunc adapts a function to PluginSource.
type PluginSourceFunc func(ctx context.Context) (Plugin, error)

// Plugin calls f.
func (f PluginSourceFunc) Plugin(ctx context.Context) (Plugin, error) {
	return f(ctx)
}

// StaticPlugin returns a PluginSource that always yields p.
func StaticPlugin(p Plugin) PluginSource {
	return PluginSourceFunc(func(context.Context) (Plugin, error) {
		return p, nil
	})
}

// Mover relocates an unpacked package into its final directory.
type Mover interface {
	Move(ctx context.Context, src, dst string) error
}

// DirMover moves directories with rename, keeping a backup of the
// destination until the move succeeded.
type DirMover struct{}

// Move replaces dst with src. On failure the previous dst is restored.
func (DirMover) Move(_ context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", dst, err)
	}

	backup := dst + ".old"
	hadDst := false
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to clear stale backup: %w", err)
		}
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("failed to back up %s: %w", dst, err)
		}
		hadDst = true
	}

	if err := os.Rename(src, dst); err != nil {
		if hadDst {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}

	if hadDst {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// InstallResult is reported back to the host after a package was moved.
type InstallResult struct {
	Destination string `json:"destination"`
	// Activate tells the host to re-activate the plugin, which was active before the update.
	Activate bool `json:"activate"`
}
