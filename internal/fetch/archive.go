package fetch

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/groksyncd/internal/spec"
)

// fetchArchive acquires an archive origin. When the target directory exists
// and the persisted archive origin matches the desired one field by field,
// nothing is downloaded and no change is reported. Otherwise the archive is
// downloaded, verified against its declared digest and extracted; any
// failure removes both the archive file and the target directory before the
// error propagates.
func (e *Engine) fetchArchive(ctx context.Context, project spec.Project, persisted *spec.Project) (bool, error) {
	archive := project.Archive
	targetDir := e.cfg.SourceDir(project.Name)

	extension, err := resolveExtension(archive)
	if err != nil {
		return false, &DownloadError{Project: project.Name, Err: err}
	}

	if dirExists(targetDir) {
		if persisted != nil && persisted.Archive.Equal(archive) {
			e.logger.Debug("archive origin unchanged, keeping existing tree", "dir", targetDir)
			return false, nil
		}
		if err := os.RemoveAll(targetDir); err != nil {
			return false, &DownloadError{Project: project.Name, Err: fmt.Errorf("failed to remove stale directory: %w", err)}
		}
	}

	archivePath := e.cfg.ArchivePath(project.Name, extension)
	if err := e.downloadVerifyExtract(ctx, archive, extension, archivePath, targetDir); err != nil {
		// Roll back anything the failed attempt may have left behind.
		_ = os.Remove(archivePath)
		_ = os.RemoveAll(targetDir)
		e.logger.Error("failed to download and extract archive", "name", project.Name, "error", err)
		return false, &DownloadError{Project: project.Name, Err: err}
	}

	return true, nil
}

func (e *Engine) downloadVerifyExtract(ctx context.Context, archive *spec.ArchiveOrigin, extension, archivePath, targetDir string) error {
	if err := e.download(ctx, archive.URL, archivePath); err != nil {
		return err
	}

	if archive.Digest != nil {
		if err := verifyDigest(archivePath, archive.Digest); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	lower := strings.ToLower(strings.TrimPrefix(extension, "."))
	switch {
	case lower == "zip":
		return extractZip(archivePath, targetDir)
	case lower == "tar" || strings.HasPrefix(lower, "tar."):
		return extractTar(archivePath, targetDir)
	default:
		return fmt.Errorf("unsupported archive format: %s", extension)
	}
}

// download streams the archive to archivePath.
func (e *Engine) download(ctx context.Context, rawURL, archivePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	e.logger.Debug("downloading archive", "url", rawURL, "dest", archivePath)
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download %s: unexpected status %s", rawURL, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}

	return nil
}

// verifyDigest compares the file's hash against the declared digest.
// Hex comparison is case-insensitive.
func verifyDigest(path string, digest *spec.Digest) error {
	var h hash.Hash
	switch digest.Algorithm {
	case spec.HashSHA1:
		h = sha1.New()
	case spec.HashSHA256:
		h = sha256.New()
	default:
		return fmt.Errorf("unsupported digest algorithm: %s", digest.Algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive for verification: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash archive: %w", err)
	}

	computed := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(computed, digest.Value) {
		return fmt.Errorf("hash mismatch: expected %s, got %s", digest.Value, computed)
	}
	return nil
}

// resolveExtension returns the archive's file extension without a leading
// dot, using the explicit field when set and the URL path otherwise.
// Compound tar suffixes (.tar.gz, .tar.zst, ...) are kept intact.
func resolveExtension(archive *spec.ArchiveOrigin) (string, error) {
	if archive.Extension != "" {
		return strings.TrimPrefix(archive.Extension, "."), nil
	}

	urlPath := archive.URL
	if u, err := url.Parse(archive.URL); err == nil && u.Path != "" {
		urlPath = u.Path
	}

	base := path.Base(urlPath)
	parts := strings.Split(base, ".")
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("cannot determine file extension from URL: %s", archive.URL)
	}

	suffixes := parts[1:]
	if len(suffixes) >= 2 && suffixes[len(suffixes)-2] == "tar" {
		return suffixes[len(suffixes)-2] + "." + suffixes[len(suffixes)-1], nil
	}
	return suffixes[len(suffixes)-1], nil
}
