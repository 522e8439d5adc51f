package storage

import (
	"context"
	"io"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
	"google.golang.org/api/iterator"
)

// StorageGCS is a Google Cloud Storage-based blob store
type StorageGCS struct {
	bucketName string
	prefix     string
	bucket     *gcs.BucketHandle
	log        logs.Log
}

// NewStorageGCS uses the application default credentials
func NewStorageGCS(ctx context.Context, log logs.Log, bucketName, prefix string) (*StorageGCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &StorageGCS{
		bucketName: bucketName,
		prefix:     prefix,
		bucket:     client.Bucket(bucketName),
		log:        log,
	}, nil
}

func (s *StorageGCS) WriteFile(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.bucket.Object(objectKey(s.prefix, name)).NewWriter(ctx), nil
}

func (s *StorageGCS) ReadFile(ctx context.Context, name string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(objectKey(s.prefix, name)).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return &File{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *StorageGCS) DeleteFile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return s.bucket.Object(objectKey(s.prefix, name)).Delete(ctx)
}

func (s *StorageGCS) List(ctx context.Context, prefix string) ([]string, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: root + prefix})
	names := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimPrefix(attrs.Name, root))
	}
	sort.Strings(names)
	return names, nil
}

func (s *StorageGCS) Location() string {
	return "gs://" + objectKey(s.bucketName, s.prefix)
}
