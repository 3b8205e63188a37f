package github

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v81/github"
	"github.com/klauspost/compress/gzip"
)

// maxSnapshotFileSize caps a single extracted file to guard against
// decompression bombs in hostile tarballs.
const maxSnapshotFileSize = 10 << 20

// Snapshot downloads the default-branch tarball of owner/repo and extracts
// it into a fresh temporary directory. Only the current revision is fetched,
// never history. The returned cleanup func removes the directory and must be
// called on every exit path of the caller.
func (c *Client) Snapshot(ctx context.Context, owner, repo string) (string, func(), error) {
	archiveURL, _, err := c.Repositories.GetArchiveLink(
		ctx, owner, repo, github.Tarball, &github.RepositoryContentGetOptions{}, 5,
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: archive link for %s/%s: %v", ErrSourceUnavailable, owner, repo, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("build archive request: %w", err)
	}

	resp, err := c.Client.Client().Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: download tarball: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: tarball download returned %s", ErrSourceUnavailable, resp.Status)
	}

	dir, err := os.MkdirTemp("", "askrepo-snapshot-")
	if err != nil {
		return "", nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if err := extractTarball(resp.Body, dir); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("extract tarball: %w", err)
	}

	return dir, cleanup, nil
}

// extractTarball unpacks a gzipped tarball into dest, stripping the
// "<owner>-<repo>-<sha>/" prefix GitHub puts on every entry.
func extractTarball(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		rel := stripArchiveRoot(hdr.Name)
		if rel == "" {
			continue
		}
		target, err := secureJoin(dest, rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxSnapshotFileSize {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", rel, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("create file %s: %w", rel, err)
			}
			_, err = io.Copy(f, io.LimitReader(tr, maxSnapshotFileSize))
			closeErr := f.Close()
			if err != nil {
				return fmt.Errorf("write file %s: %w", rel, err)
			}
			if closeErr != nil {
				return fmt.Errorf("close file %s: %w", rel, closeErr)
			}
		default:
			// Symlinks and specials are irrelevant for indexing.
		}
	}
}

// stripArchiveRoot removes the single top-level directory of the archive
// entry name. Entries at the root itself map to "".
func stripArchiveRoot(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// secureJoin joins rel onto dest, rejecting traversal outside dest.
func secureJoin(dest, rel string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry escapes snapshot dir: %s", rel)
	}
	return target, nil
}
