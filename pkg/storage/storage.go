// Package storage is a small blob store abstraction, so that a dataset can be exported
// to a local directory, Google Cloud Storage, or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

var ErrInvalidName = errors.New("Invalid file name")

// Storage is an abstraction of a blob store (eg S3).
// Names are slash separated, and relative to the root of the store.
type Storage interface {
	// When finished, you must close the WriteCloser. For remote stores, the upload happens on Close.
	WriteFile(ctx context.Context, name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(ctx context.Context, name string) (*File, error)

	DeleteFile(ctx context.Context, name string) error

	// List returns the names of all files whose name starts with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Location is a human readable description of the store, eg "gs://bucket/datasets/v1"
	Location() string
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Options for remote stores
type Options struct {
	S3Region   string // If empty, the AWS SDK default chain decides
	S3Endpoint string // For MinIO and other S3 compatible stores
}

// Open returns the store for a location.
// "gs://bucket/prefix" is Google Cloud Storage, "s3://bucket/prefix" is S3,
// and anything else is a local directory.
func Open(ctx context.Context, log logs.Log, location string, opts Options) (Storage, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(location, "gs://"))
		return NewStorageGCS(ctx, log, bucket, prefix)
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(location, "s3://"))
		return NewStorageS3(ctx, log, bucket, prefix, opts)
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("Unsupported storage location '%v'", location)
	}
	return NewStorageFS(log, location)
}

func splitBucket(s string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(s, "/")
	return bucket, strings.Trim(prefix, "/")
}

// Returns an error if name could escape the root of the store
func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w '%v'", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("%w '%v'", ErrInvalidName, name)
		}
	}
	return nil
}

// Join a key prefix and a name
func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func WriteFile(ctx context.Context, s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(ctx, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(ctx context.Context, s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}
