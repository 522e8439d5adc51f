package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "export")
	s, err := Open(ctx, logs.NewTestingLog(t), root, Options{})
	require.NoError(t, err)
	require.Equal(t, root, s.Location())

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, WriteFile(ctx, s, "train/labels/a.txt", strings.NewReader("0 0.5 0.5 1 1\n")))
	require.NoError(t, WriteFile(ctx, s, "train/images/a.jpg", strings.NewReader("jpeg")))
	require.NoError(t, WriteFile(ctx, s, "dataset.yaml", strings.NewReader("names: {}\n")))

	b, err := ReadFile(ctx, s, "train/labels/a.txt")
	require.NoError(t, err)
	require.Equal(t, "0 0.5 0.5 1 1\n", string(b))

	names, err = s.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"dataset.yaml", "train/images/a.jpg", "train/labels/a.txt"}, names)
	names, err = s.List(ctx, "train/labels/")
	require.NoError(t, err)
	require.Equal(t, []string{"train/labels/a.txt"}, names)

	// Overwrite truncates
	require.NoError(t, WriteFile(ctx, s, "train/labels/a.txt", strings.NewReader("")))
	b, err = ReadFile(ctx, s, "train/labels/a.txt")
	require.NoError(t, err)
	require.Empty(t, b)

	require.NoError(t, s.DeleteFile(ctx, "dataset.yaml"))
	names, err = s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, names, 2)
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "/etc/passwd", "../x", "a/../../x"} {
		_, err := s.WriteFile(ctx, name)
		require.True(t, errors.Is(err, ErrInvalidName), "%v", name)
	}
	// ".." inside a name is fine, as long as it is not a path element
	require.NoError(t, WriteFile(ctx, s, "a..b.txt", strings.NewReader("x")))
}

func TestOpenLocations(t *testing.T) {
	_, err := Open(context.Background(), logs.NewTestingLog(t), "ftp://host/x", Options{})
	require.Error(t, err)

	bucket, prefix := splitBucket("my-bucket/datasets/v1/")
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "datasets/v1", prefix)
	bucket, prefix = splitBucket("my-bucket")
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "", prefix)
	require.Equal(t, "datasets/v1/train/a.txt", objectKey("datasets/v1", "train/a.txt"))
	require.Equal(t, "train/a.txt", objectKey("", "train/a.txt"))
}
