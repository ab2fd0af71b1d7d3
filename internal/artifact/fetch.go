package artifact

import (
	"archive/zip"
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nerrad567/embedded-vault/internal/distribution"
)

// maxSumsSize caps the sums file read.
const maxSumsSize = 1 << 20

// get issues a GET with the configured user agent and checks for 200.
func (s *Store) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// download streams url into dir/name, returning the path, hex SHA-256 and
// size. The file only appears under its final name once complete.
func (s *Store) download(ctx context.Context, url, dir, name string) (string, string, int64, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", "", 0, fmt.Errorf("creating download directory: %w", err)
	}

	resp, err := s.get(ctx, url)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", "", 0, fmt.Errorf("creating download file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if err != nil {
		return "", "", 0, &DownloadError{URL: url, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", "", 0, fmt.Errorf("closing download file: %w", err)
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		return "", "", 0, fmt.Errorf("moving download into place: %w", err)
	}
	ok = true
	return final, hex.EncodeToString(hash.Sum(nil)), size, nil
}

// verify compares digest with the published sum for d's archive.
func (s *Store) verify(ctx context.Context, d distribution.Descriptor, digest string) error {
	url := s.cfg.BaseURL + d.ChecksumsPath()
	resp, err := s.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	want, err := findChecksum(io.LimitReader(resp.Body, maxSumsSize), d.ArchiveName())
	if err != nil {
		return err
	}
	if !strings.EqualFold(want, digest) {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, d.ArchiveName(), digest, want)
	}
	s.logger.Debug("checksum verified", "artifact", d.String())
	return nil
}

// findChecksum scans sha256sum-style lines ("<hex>  <name>") for name.
func findChecksum(r io.Reader, name string) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == name {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading checksums: %w", err)
	}
	return "", fmt.Errorf("%w: %s", ErrChecksumNotFound, name)
}

// extractExecutable copies the entry named exe out of the zip archive into
// dir and makes it executable. Only the entry's base name is used.
func extractExecutable(archive, exe, dir string) (string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && path.Base(f.Name) == exe {
			entry = f
			break
		}
	}
	if entry == nil {
		return "", fmt.Errorf("%w: %s in %s", ErrExecutableNotInArchive, exe, filepath.Base(archive))
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}

	src, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", entry.Name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, exe+".*.part")
	if err != nil {
		return "", fmt.Errorf("creating executable: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("extracting %s: %w", entry.Name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("closing executable: %w", err)
	}
	if err := os.Chmod(tmpPath, exePermissions); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("making executable: %w", err)
	}

	final := filepath.Join(dir, exe)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("moving executable into place: %w", err)
	}
	return final, nil
}
