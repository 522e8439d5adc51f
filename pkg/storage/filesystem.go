package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cyclopcam/logs"
)

// StorageFS is a filesystem-based blob store
type StorageFS struct {
	Root string
	log  logs.Log
}

func NewStorageFS(log logs.Log, root string) (*StorageFS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create root directory %v (relative path %v): %w", absRoot, root, err)
	}
	return &StorageFS{
		Root: absRoot,
		log:  log,
	}, nil
}

func (s *StorageFS) WriteFile(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (s *StorageFS) ReadFile(ctx context.Context, name string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.Root, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &File{
		Reader:     file,
		ModifiedAt: st.ModTime(),
		Size:       st.Size(),
	}, nil
}

func (s *StorageFS) DeleteFile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return os.Remove(filepath.Join(s.Root, filepath.FromSlash(name)))
}

func (s *StorageFS) List(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return names, nil
	} else if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *StorageFS) Location() string {
	return s.Root
}
