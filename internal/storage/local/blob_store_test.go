package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olam-creations/lefilonao-sub001/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "docs")
		s, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, s)
		require.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "dce/24-123456/abc.pdf", "application/pdf", bytes.NewReader([]byte("%PDF-1.7")))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")

	data, err := os.ReadFile(filepath.Join(dir, "dce", "24-123456", "abc.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "dce", "24-123456"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "../escape.pdf", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path traversal")
	_, err = s.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
