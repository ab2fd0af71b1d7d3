package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/embedded-vault/internal/distribution"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/database"
)

// Defaults applied by NewStore.
const (
	DefaultBaseURL         = "https://releases.hashicorp.com/vault/"
	DefaultUserAgent       = "Mozilla/5.0 (compatible; Embedded Vault; +https://github.com/golovnin/embedded-vault)"
	DefaultDownloadTimeout = 5 * time.Minute

	dirPermissions = 0o750
	exePermissions = 0o755
)

// Logger defines the logging interface for the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Store. Zero values take the defaults above.
type Config struct {
	// BaseURL is the release root; archive paths are appended to it.
	BaseURL string

	// Dir is the store directory.
	Dir string

	// UserAgent is sent with every request.
	UserAgent string

	// VerifyChecksums checks archives against the published sums file.
	VerifyChecksums bool

	// DownloadTimeout bounds each HTTP request.
	DownloadTimeout time.Duration

	// Client performs the requests. Defaults to a client with DownloadTimeout.
	Client *http.Client
}

// Artifact is an indexed executable.
type Artifact struct {
	Descriptor   distribution.Descriptor `json:"descriptor"`
	Executable   string                  `json:"executable"`
	SourceURL    string                  `json:"source_url"`
	SHA256       string                  `json:"sha256"`
	Size         int64                   `json:"size"`
	DownloadedAt time.Time               `json:"downloaded_at"`
	LastUsedAt   time.Time               `json:"last_used_at,omitempty"`
}

// Store resolves executables, downloading them on first use.
type Store struct {
	cfg    Config
	db     *database.DB
	client *http.Client
	group  singleflight.Group
	logger Logger
}

// NewStore creates a store over an open, migrated index database.
func NewStore(cfg Config, db *database.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("artifact: index database is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("artifact: store directory is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.DownloadTimeout}
	}
	if err := os.MkdirAll(cfg.Dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	return &Store{
		cfg:    cfg,
		db:     db,
		client: client,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Resolve returns the path of the executable for version on the given
// GOOS/GOARCH, downloading it when it is not cached.
func (s *Store) Resolve(ctx context.Context, version, goos, goarch string) (string, error) {
	d, err := distribution.Resolve(version, goos, goarch)
	if err != nil {
		return "", err
	}
	a, err := s.ResolveDescriptor(ctx, d)
	if err != nil {
		return "", err
	}
	return a.Executable, nil
}

// ResolveDescriptor is Resolve for an already mapped descriptor.
func (s *Store) ResolveDescriptor(ctx context.Context, d distribution.Descriptor) (Artifact, error) {
	if a, err := s.Lookup(ctx, d); err == nil {
		if _, statErr := os.Stat(a.Executable); statErr == nil {
			s.touch(ctx, d)
			s.logger.Debug("artifact cache hit", "artifact", d.String(), "path", a.Executable)
			return a, nil
		}
		s.logger.Warn("indexed executable missing, downloading again", "artifact", d.String(), "path", a.Executable)
	} else if !errors.Is(err, ErrNotCached) {
		return Artifact{}, err
	}

	// The flight outlives any one caller, so it runs on its own deadline and
	// every caller stops waiting when its own ctx is done.
	flight := s.group.DoChan(d.String(), func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DownloadTimeout)
		defer cancel()
		// A flight that finished between the lookup above and here already
		// indexed the file.
		if a, err := s.Lookup(flightCtx, d); err == nil {
			if _, statErr := os.Stat(a.Executable); statErr == nil {
				return a, nil
			}
		}
		return s.fetch(flightCtx, d)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
	if res.Err != nil {
		return Artifact{}, res.Err
	}
	if res.Shared {
		s.logger.Debug("joined in-flight download", "artifact", d.String())
	}
	return res.Val.(Artifact), nil
}

// fetch downloads, verifies, extracts and indexes d.
func (s *Store) fetch(ctx context.Context, d distribution.Descriptor) (Artifact, error) {
	started := time.Now()
	url := s.cfg.BaseURL + d.Path()
	s.logger.Info("downloading vault", "artifact", d.String(), "url", url)

	archive, digest, size, err := s.download(ctx, url, filepath.Join(s.cfg.Dir, "downloads"), d.ArchiveName())
	if err != nil {
		return Artifact{}, err
	}
	defer func() {
		if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not remove downloaded archive", "path", archive, "error", err)
		}
	}()

	if s.cfg.VerifyChecksums {
		if err := s.verify(ctx, d, digest); err != nil {
			return Artifact{}, err
		}
	}

	dir := filepath.Join(s.cfg.Dir, "extracted", d.Version, d.Target())
	exe, err := extractExecutable(archive, d.Executable, dir)
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		Descriptor:   d,
		Executable:   exe,
		SourceURL:    url,
		SHA256:       digest,
		Size:         size,
		DownloadedAt: time.Now().UTC(),
		LastUsedAt:   time.Now().UTC(),
	}
	if err := s.record(ctx, a); err != nil {
		return Artifact{}, err
	}

	s.logger.Info("vault ready in store",
		"artifact", d.String(),
		"path", exe,
		"bytes", size,
		"duration", time.Since(started),
	)
	return a, nil
}

// Lookup returns the indexed artifact for d, or ErrNotCached.
func (s *Store) Lookup(ctx context.Context, d distribution.Descriptor) (Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT archive_name, source_url, sha256, size_bytes, executable, downloaded_at, last_used_at
		FROM artifacts WHERE version = ? AND platform = ? AND arch = ?`,
		d.Version, d.Platform, d.Arch,
	)

	a := Artifact{Descriptor: d}
	var archiveName, downloadedAt string
	var lastUsed sql.NullString
	err := row.Scan(&archiveName, &a.SourceURL, &a.SHA256, &a.Size, &a.Executable, &downloadedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotCached
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("querying artifact index: %w", err)
	}
	a.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt) //nolint:errcheck // written by record
	if lastUsed.Valid {
		a.LastUsedAt, _ = time.Parse(time.RFC3339, lastUsed.String) //nolint:errcheck // written by touch
	}
	return a, nil
}

// List returns every indexed artifact ordered by version and target.
func (s *Store) List(ctx context.Context) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, platform, arch, source_url, sha256, size_bytes, executable, downloaded_at
		FROM artifacts ORDER BY version, platform, arch`)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var version, platform, arch, downloadedAt string
		if err := rows.Scan(&version, &platform, &arch, &a.SourceURL, &a.SHA256, &a.Size, &a.Executable, &downloadedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact row: %w", err)
		}
		a.Descriptor = distribution.Descriptor{
			Version:    version,
			Platform:   platform,
			Arch:       arch,
			Executable: filepath.Base(a.Executable),
			Archive:    distribution.ArchiveZip,
		}
		a.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt) //nolint:errcheck // written by record
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}
	return out, nil
}

// Remove deletes the extracted executable for d and its index row.
func (s *Store) Remove(ctx context.Context, d distribution.Descriptor) error {
	a, err := s.Lookup(ctx, d)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(a.Executable)); err != nil {
		return fmt.Errorf("removing %s: %w", a.Executable, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM artifacts WHERE version = ? AND platform = ? AND arch = ?",
		d.Version, d.Platform, d.Arch,
	); err != nil {
		return fmt.Errorf("deleting artifact row: %w", err)
	}
	s.logger.Info("artifact removed", "artifact", d.String())
	return nil
}

func (s *Store) record(ctx context.Context, a Artifact) error {
	d := a.Descriptor
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts
			(version, platform, arch, archive_name, source_url, sha256, size_bytes, executable, downloaded_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (version, platform, arch) DO UPDATE SET
			archive_name = excluded.archive_name,
			source_url = excluded.source_url,
			sha256 = excluded.sha256,
			size_bytes = excluded.size_bytes,
			executable = excluded.executable,
			downloaded_at = excluded.downloaded_at,
			last_used_at = excluded.last_used_at`,
		d.Version, d.Platform, d.Arch, d.ArchiveName(), a.SourceURL, a.SHA256, a.Size, a.Executable,
		a.DownloadedAt.Format(time.RFC3339), a.LastUsedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording artifact: %w", err)
	}
	return nil
}

// touch updates last_used_at. Failures only cost bookkeeping.
func (s *Store) touch(ctx context.Context, d distribution.Descriptor) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE artifacts SET last_used_at = ? WHERE version = ? AND platform = ? AND arch = ?",
		time.Now().UTC().Format(time.RFC3339), d.Version, d.Platform, d.Arch,
	)
	if err != nil {
		s.logger.Warn("could not update artifact last use", "artifact", d.String(), "error", err)
	}
}
