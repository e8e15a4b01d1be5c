package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"PredServe/internal/domain/models"
	pkghttp "PredServe/pkg/http"
	applogger "PredServe/pkg/logger"
)

// Store resolves model artifacts from a local directory, fetching remote
// paths over HTTP into the directory on first use. Every read is verified
// against the registry checksum before it is handed to the loader.
type Store struct {
	dir    string
	client *pkghttp.Client
	l      *applogger.Logger
}

// NewStore creates an artifact store rooted at dir.
func NewStore(dir string, client *pkghttp.Client) *Store {
	return &Store{dir: dir, client: client}
}

// SetLogger injects a structured logger.
func (s *Store) SetLogger(l *applogger.Logger) { s.l = l }

// Verify resolves the artifact, checks its sha256 against checksum and
// returns its size in bytes.
func (s *Store) Verify(ctx context.Context, path, checksum string) (int64, error) {
	b, err := s.read(ctx, path)
	if err != nil {
		return 0, err
	}
	if err := checkSum(b, checksum); err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// Bytes returns the verified raw artifact for a registry record.
// Failures are wrapped so callers can poison a single cache entry.
func (s *Store) Bytes(ctx context.Context, rec *models.ModelRecord) ([]byte, error) {
	b, err := s.read(ctx, rec.ArtifactPath)
	if err != nil {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: err}
	}
	if err := checkSum(b, rec.Checksum); err != nil {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: err}
	}
	return b, nil
}

func (s *Store) read(ctx context.Context, path string) ([]byte, error) {
	if isRemote(path) {
		return s.fetch(ctx, path)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.dir, full)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return b, nil
}

// fetch downloads a remote artifact, caching it under dir keyed by the
// URL's sha256 so repeated loads hit disk.
func (s *Store) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	key := sha256.Sum256([]byte(rawURL))
	cached := filepath.Join(s.dir, "remote-"+hex.EncodeToString(key[:8])+".json")
	if b, err := os.ReadFile(cached); err == nil {
		return b, nil
	}

	var body []byte
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    rawURL,
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	if err := os.WriteFile(cached, body, 0o644); err != nil && s.l != nil {
		s.l.Warn("artifact disk cache write failed",
			applogger.String("url", rawURL),
			applogger.Error(err),
		)
	}
	if s.l != nil {
		s.l.Info("artifact fetched",
			applogger.String("url", rawURL),
			applogger.Int("bytes", len(body)),
		)
	}
	return body, nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func checkSum(b []byte, want string) error {
	sum := sha256.Sum256(b)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch: got %s want %s", got, want)
	}
	return nil
}
