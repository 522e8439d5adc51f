// Package archive extracts zip, tar and tar.gz archives into a directory
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Format is the container format of an archive
type Format string

const (
	FormatUnknown Format = ""
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGz   Format = "tar.gz"
)

// FormatError is returned when an archive is unsupported, corrupt, or contains
// an entry that would be written outside of the destination directory.
type FormatError struct {
	Path    string
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Invalid archive %v: %v: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("Invalid archive %v: %v", e.Path, e.Message)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	tarMagic      = []byte("ustar")
)

// Detect returns the format of the archive, judging first by its leading bytes,
// and then by its filename extension.
func Detect(archivePath string) (Format, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	case len(head) >= 262 && bytes.Equal(head[257:262], tarMagic):
		return FormatTar, nil
	}

	// Pre-POSIX tar files have no magic
	lower := strings.ToLower(archivePath)
	if strings.HasSuffix(lower, ".tar") && n > 0 {
		return FormatTar, nil
	}
	return FormatUnknown, nil
}

// Extract unpacks archivePath into destDir, creating destDir if necessary.
// Existing files are overwritten, so extracting the same archive twice produces the same tree.
// Symbolic links and other special entries are skipped.
// Cancellation is checked between entries.
func Extract(ctx context.Context, archivePath, destDir string) error {
	format, err := Detect(archivePath)
	if err != nil {
		return fmt.Errorf("Failed to read archive %v: %w", archivePath, err)
	}
	if format == FormatUnknown {
		return &FormatError{Path: archivePath, Message: "unsupported archive type"}
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	switch format {
	case FormatZip:
		return extractZip(ctx, archivePath, destDir)
	case FormatTarGz:
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return &FormatError{Path: archivePath, Message: "corrupt gzip stream", Err: err}
		}
		defer gz.Close()
		return extractTar(ctx, archivePath, gz, destDir)
	default:
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()
		return extractTar(ctx, archivePath, f, destDir)
	}
}

func extractZip(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &FormatError{Path: archivePath, Message: "corrupt zip file", Err: err}
	}
	defer r.Close()

	for _, zf := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return &FormatError{Path: archivePath, Message: err.Error()}
		}
		mode := zf.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}
		src, err := zf.Open()
		if err != nil {
			return &FormatError{Path: archivePath, Message: fmt.Sprintf("cannot read '%v'", zf.Name), Err: err}
		}
		err = writeFile(archivePath, target, src, mode.Perm())
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(ctx context.Context, archivePath string, src io.Reader, destDir string) error {
	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return &FormatError{Path: archivePath, Message: "corrupt tar stream", Err: err}
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return &FormatError{Path: archivePath, Message: err.Error()}
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(archivePath, target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

// Errors from reading src are reported as FormatError, because they mean the archive is truncated or corrupt.
// Errors from writing are returned unchanged.
func writeFile(archivePath, target string, src io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, &sourceReader{src}); err != nil {
		if se, ok := err.(*sourceError); ok {
			return &FormatError{Path: archivePath, Message: fmt.Sprintf("cannot read '%v'", filepath.Base(target)), Err: se.err}
		}
		return err
	}
	return f.Close()
}

// Returns destDir/name, or an error if name would resolve to a location outside of destDir
func safeJoin(destDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("entry with empty name")
	}
	target := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry '%v' escapes the destination directory", name)
	}
	return target, nil
}

type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }

// sourceReader tags read errors, so that writeFile can tell them apart from write errors
type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &sourceError{err}
	}
	return n, err
}
