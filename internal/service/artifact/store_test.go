package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func writeArtifact(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), body, 0o644))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestVerifyLocalArtifact(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`{"features":["a"],"weights":[1]}`)
	checksum := writeArtifact(t, dir, "model.json", body)
	s := NewStore(dir, nil)

	size, err := s.Verify(context.Background(), "model.json", checksum)
	require.NoError(t, err)
	require.Equal(t, int64(len(body)), size)

	// Checksums compare case-insensitively.
	_, err = s.Verify(context.Background(), "model.json", toUpper(checksum))
	require.NoError(t, err)
}

func TestVerifyChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", []byte("payload"))
	s := NewStore(dir, nil)

	_, err := s.Verify(context.Background(), "model.json", hex.EncodeToString(make([]byte, 32)))
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestVerifyMissingFile(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.Verify(context.Background(), "absent.json", "deadbeef")
	require.Error(t, err)
}

func TestBytesWrapsFailuresPerModel(t *testing.T) {
	dir := t.TempDir()
	body := []byte("artifact")
	checksum := writeArtifact(t, dir, "model.json", body)
	s := NewStore(dir, nil)

	rec := &models.ModelRecord{
		ModelID:      "m1",
		Version:      "1.0.0",
		ArtifactPath: "model.json",
		Checksum:     checksum,
	}
	got, err := s.Bytes(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, body, got)

	rec.Checksum = hex.EncodeToString(make([]byte, 32))
	_, err = s.Bytes(context.Background(), rec)
	var loadErr *models.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, "m1", loadErr.ModelID)
	require.Equal(t, "1.0.0", loadErr.Version)
}

func TestAbsolutePathBypassesDir(t *testing.T) {
	outside := t.TempDir()
	body := []byte("elsewhere")
	checksum := writeArtifact(t, outside, "model.json", body)

	s := NewStore(t.TempDir(), nil)
	size, err := s.Verify(context.Background(), filepath.Join(outside, "model.json"), checksum)
	require.NoError(t, err)
	require.Equal(t, int64(len(body)), size)
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
