package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cyclopcam/logs"
)

// StorageS3 is an S3-based blob store
type StorageS3 struct {
	bucketName string
	prefix     string
	client     *s3.Client
	log        logs.Log
}

func NewStorageS3(ctx context.Context, log logs.Log, bucketName, prefix string, opts Options) (*StorageS3, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.S3Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to load AWS config: %w", err)
	}
	s3Opts := []func(*s3.Options){}
	if opts.S3Endpoint != "" {
		endpoint := opts.S3Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}
	return &StorageS3{
		bucketName: bucketName,
		prefix:     prefix,
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		log:        log,
	}, nil
}

// s3Writer buffers the whole object, and uploads it on Close
type s3Writer struct {
	ctx    context.Context
	s      *StorageS3
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.s.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.s.bucketName),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		return fmt.Errorf("Failed to upload s3://%v/%v: %w", w.s.bucketName, w.key, err)
	}
	return nil
}

func (s *StorageS3) WriteFile(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &s3Writer{ctx: ctx, s: s, key: objectKey(s.prefix, name)}, nil
}

func (s *StorageS3) ReadFile(ctx context.Context, name string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey(s.prefix, name)),
	})
	if err != nil {
		return nil, err
	}
	f := &File{
		Reader: out.Body,
		Size:   aws.ToInt64(out.ContentLength),
	}
	if out.LastModified != nil {
		f.ModifiedAt = *out.LastModified
	}
	return f, nil
}

func (s *StorageS3) DeleteFile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey(s.prefix, name)),
	})
	return err
}

func (s *StorageS3) List(ctx context.Context, prefix string) ([]string, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(root + prefix),
	})
	names := []string{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), root))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *StorageS3) Location() string {
	return "s3://" + objectKey(s.bucketName, s.prefix)
}
