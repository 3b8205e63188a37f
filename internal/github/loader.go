package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxDocumentSize skips files too large to be useful embedding input.
const maxDocumentSize = 1 << 20

// Document is one file of a repository snapshot: slash-separated relative
// path plus text content. Documents are transient; they live only for the
// duration of an ingestion run.
type Document struct {
	Path    string
	Content string
}

// allowedExtensions is the allow-list of source/text file types worth
// indexing. Everything else (binaries, images, lockfiles) is skipped.
var allowedExtensions = map[string]bool{
	".go": true, ".mod": true,
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
	".py": true, ".rb": true, ".php": true,
	".java": true, ".kt": true, ".scala": true,
	".rs": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cs": true, ".swift": true,
	".sh": true, ".bash": true, ".sql": true,
	".md": true, ".txt": true, ".rst": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".scss": true,
	".vue": true, ".svelte": true,
	".proto": true, ".graphql": true, ".tf": true,
}

// allowedBasenames admits well-known extensionless files.
var allowedBasenames = map[string]bool{
	"dockerfile": true,
	"makefile":   true,
	"gemfile":    true,
	"rakefile":   true,
	"procfile":   true,
}

// skippedDirs are version-control metadata, dependency trees and build
// output. Their contents never improve retrieval.
var skippedDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "vendor": true, "bower_components": true,
	"dist": true, "build": true, "target": true, "out": true,
	"__pycache__": true, ".venv": true, "venv": true,
	".idea": true, ".vscode": true, ".next": true, ".cache": true,
}

// Loader turns a remote repository into a normalized set of text documents.
type Loader struct {
	client *Client
	logger *slog.Logger
}

// NewLoader creates a Loader backed by the given GitHub client.
func NewLoader(client *Client, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{client: client, logger: logger}
}

// ParseRemote extracts owner and repo from a GitHub remote URL such as
// "https://github.com/owner/repo" or "https://github.com/owner/repo.git".
// A scheme-less "github.com/owner/repo" is accepted as well.
func ParseRemote(remote string) (owner, repo string, err error) {
	trimmed := strings.TrimSpace(remote)
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrBadRemote, remote)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return "", "", fmt.Errorf("%w: host %q", ErrBadRemote, u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadRemote, remote)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Load fetches a single-revision snapshot of the remote repository and
// returns its relevant text documents, sorted by path. The temporary
// snapshot directory is removed before Load returns, on success and failure
// alike. A fetch failure fails the whole load; no partial snapshot is used.
func (l *Loader) Load(ctx context.Context, remote string) ([]Document, error) {
	owner, repo, err := ParseRemote(remote)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := l.client.Snapshot(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	docs, err := collectDocuments(dir)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("loaded snapshot", "remote", remote, "documents", len(docs))
	return docs, nil
}

// collectDocuments walks an extracted snapshot and reads every allow-listed
// file as text.
func collectDocuments(root string) ([]Document, error) {
	var docs []Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := strings.ToLower(d.Name())
		if d.IsDir() {
			if skippedDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowedExtensions[filepath.Ext(name)] && !allowedBasenames[name] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > maxDocumentSize {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		content := sanitizeText(raw)
		if content == "" {
			return nil
		}
		docs = append(docs, Document{
			Path:    filepath.ToSlash(rel),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk snapshot: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// sanitizeText strips NUL bytes, which are invalid in the downstream text
// storage representation and would corrupt persisted payloads.
func sanitizeText(raw []byte) string {
	return string(bytes.ReplaceAll(raw, []byte{0}, nil))
}

// ReadFile fetches a single file through the contents API without taking a
// snapshot. It returns the document and the blob SHA as a revision token.
func (l *Loader) ReadFile(ctx context.Context, owner, repo, path string) (*Document, string, error) {
	fileContent, _, _, err := l.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: get %s: %v", ErrSourceUnavailable, path, err)
	}
	if fileContent == nil {
		return nil, "", fmt.Errorf("no file content returned for %s", path)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, "", fmt.Errorf("decode content of %s: %w", path, err)
	}

	return &Document{
		Path:    path,
		Content: sanitizeText(content),
	}, fileContent.GetSHA(), nil
}
