package blobstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsMissingLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	require.Error(t, err)
}

func TestCreateLayoutThenOpen(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateLayout(dir)
	require.NoError(t, err)

	_, err = Open(dir)
	require.NoError(t, err)
}

func TestPutBlobThenGetBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateLayout(dir)
	require.NoError(t, err)

	want := []byte("puzzlefs blob content")
	dgst, size, err := store.PutBlob(want)
	require.NoError(t, err)
	require.EqualValues(t, len(want), size)

	rc, err := store.GetBlob(dgst)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGetBlobMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateLayout(dir)
	require.NoError(t, err)

	_, err = store.GetBlob(digest.FromBytes([]byte("never written")))
	require.Error(t, err)
}

func TestFillFromChunkHonorsOffsetAndShortRead(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateLayout(dir)
	require.NoError(t, err)

	dgst, _, err := store.PutBlob([]byte("0123456789"))
	require.NoError(t, err)

	out := make([]byte, 4)
	n, err := store.FillFromChunk(dgst, 7, out, nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "789", string(out[:n]))
}

func TestFillFromChunkVerityMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateLayout(dir)
	require.NoError(t, err)

	dgst, _, err := store.PutBlob([]byte("genuine content"))
	require.NoError(t, err)

	wrong := digest.FromBytes([]byte("forged content"))
	_, err = store.FillFromChunk(dgst, 0, make([]byte, 7), &wrong)
	require.Error(t, err)
}

func TestValidateRejectsWrongLayoutVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, blobDirectory, blobAlgorithm), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, refDirectory), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, layoutFile), []byte(`{"imageLayoutVersion":"9.9.9"}`), 0o644))

	_, err := Open(dir)
	require.Error(t, err)
}
