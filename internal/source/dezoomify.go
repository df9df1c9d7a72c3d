package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Dezoomify fetches tiled page scans by shelling out to the external
// dezoomify-rs tool. It satisfies TileFetcher.
//
// The tool stitches zoom tiles into one image file. Output goes to a
// temp path first so destPath appears only when complete, matching the
// FetchPage atomicity contract.
type Dezoomify struct {
	// Path is the dezoomify-rs executable; resolved via $PATH when not
	// absolute.
	Path string

	Log *slog.Logger
}

// Fetch implements TileFetcher.
func (d *Dezoomify) Fetch(ctx context.Context, tileURL, destPath string) error {
	tmp := filepath.Join(filepath.Dir(destPath), "."+filepath.Base(destPath)+".part")
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, d.Path, "-l", tileURL, tmp)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("dezoomify %s: %w: %s", tileURL, err, bytes.TrimSpace(out))
	}
	if d.Log != nil {
		d.Log.Debug("dezoomify finished", "url", tileURL, "dest", destPath)
	}

	return os.Rename(tmp, destPath)
}
