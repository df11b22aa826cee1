package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveReadDelete(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	t.Run("creates parent directories", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "reports/2024/march.xlsx", []byte("v1")))
		assert.FileExists(t, filepath.Join(tempDir, "reports", "2024", "march.xlsx"))
		assert.True(t, fs.Exists(ctx, "reports/2024/march.xlsx"))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "reports/2024/march.xlsx", []byte("v2")))
		content, err := fs.Read(ctx, "reports/2024/march.xlsx")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), content)

		entries, err := os.ReadDir(filepath.Join(tempDir, "reports", "2024"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, fs.Delete(ctx, "reports/2024/march.xlsx"))
		require.NoError(t, fs.Delete(ctx, "reports/2024/march.xlsx"))
		assert.False(t, fs.Exists(ctx, "reports/2024/march.xlsx"))
	})
}

func TestLocalFileStorage_ValidatePath(t *testing.T) {
	fs := NewLocalFileStorage(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	assert.Error(t, fs.Save(ctx, "../escape.txt", []byte("x")))
	_, err := fs.Read(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.False(t, fs.Exists(ctx, "../outside"))
	_, err = fs.List(ctx, "..")
	assert.Error(t, err)
}

func TestLocalFileStorage_List(t *testing.T) {
	fs := NewLocalFileStorage(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	files, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, fs.Save(ctx, "reports/b.xlsx", []byte("b")))
	require.NoError(t, fs.Save(ctx, "reports/a.xlsx", []byte("a")))
	require.NoError(t, fs.Save(ctx, "reports/nested/c.xlsx", []byte("c")))

	files, err = fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/a.xlsx", "reports/b.xlsx"}, files)
}
