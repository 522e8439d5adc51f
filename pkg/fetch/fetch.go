// Package fetch downloads files over HTTP, with optional SHA-256 verification,
// and can extract the downloaded archives.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/archive"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// DefaultChunkSize is the size of each read from the response body
const DefaultChunkSize = 32 * 1024

// Some dataset hosts reject requests that don't look like they come from a browser
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "gzip, deflate, zstd",
}

// Options control a single download
type Options struct {
	Force  bool   // Download even if the destination file already exists
	SHA256 string // If not empty, the expected hex digest of the downloaded content
}

// Client downloads files. A Client is safe for concurrent use, provided that
// concurrent downloads do not share a destination path.
type Client struct {
	HTTP      *http.Client
	Log       logs.Log
	Observer  Observer
	ChunkSize int
	Header    http.Header
}

func NewClient(log logs.Log) *Client {
	header := http.Header{}
	for k, v := range browserHeaders {
		header.Set(k, v)
	}
	return &Client{
		HTTP:      &http.Client{},
		Log:       log,
		Observer:  NewLogObserver(log),
		ChunkSize: DefaultChunkSize,
		Header:    header,
	}
}

// Fetch downloads url into dest, and returns dest.
// If dest is already a regular file, and opts.Force is false, then no request is made,
// and the existing file is trusted without re-checking its digest.
// Content is streamed into dest + ".part", which is renamed over dest only after
// the transfer is complete and the digest (if any) matches. On any failure the
// partial file is removed, and dest is left untouched.
func (c *Client) Fetch(ctx context.Context, url, dest string, opts Options) (string, error) {
	if dest == "" {
		return "", &ConfigurationError{Path: dest, Message: "destination path is empty"}
	}
	expected := strings.ToLower(strings.TrimSpace(opts.SHA256))
	if expected != "" {
		if b, err := hex.DecodeString(expected); err != nil || len(b) != sha256.Size {
			return "", &ConfigurationError{Path: dest, Message: fmt.Sprintf("invalid sha256 digest '%v'", opts.SHA256)}
		}
	}

	name := filepath.Base(dest)
	st, err := os.Stat(dest)
	if err == nil {
		if !st.Mode().IsRegular() {
			return "", &ConfigurationError{Path: dest, Message: "destination exists and is not a regular file"}
		}
		if !opts.Force {
			c.observer().Skipped(name)
			return dest, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &ConfigurationError{Path: dest, Message: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", &ConfigurationError{Path: dest, Message: err.Error()}
	}

	partFile := dest + ".part"
	written, err := c.download(ctx, url, partFile, name, expected)
	c.observer().Finished(name, written, err)
	if err != nil {
		os.Remove(partFile)
		if ie, ok := err.(*IntegrityError); ok {
			ie.Path = dest
		}
		return "", err
	}
	if err := os.Rename(partFile, dest); err != nil {
		os.Remove(partFile)
		return "", fmt.Errorf("Failed to move %v into place: %w", partFile, err)
	}
	return dest, nil
}

// FetchAndExtract downloads url into dir/filename, and extracts that archive into dir.
// The download is skipped if the archive is already present (see Fetch), but extraction
// always runs, and overwrites whatever is in dir. Returns dir.
func (c *Client) FetchAndExtract(ctx context.Context, url, filename, dir string, opts Options) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &ConfigurationError{Path: dir, Message: err.Error()}
	}
	archivePath, err := c.Fetch(ctx, url, filepath.Join(dir, filename), opts)
	if err != nil {
		return "", err
	}
	c.Log.Infof("Extracting %v", archivePath)
	if err := archive.Extract(ctx, archivePath, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Client) download(ctx context.Context, url, partFile, name, expected string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, &ConfigurationError{Path: url, Message: err.Error()}
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &TransportError{URL: url, StatusCode: resp.StatusCode, Summary: failedResponseSummary(resp, 100)}
	}

	body, total, err := decodeBody(resp)
	if err != nil {
		return 0, &TransportError{URL: url, StatusCode: resp.StatusCode, Summary: err.Error(), Err: err}
	}
	defer body.Close()

	file, err := os.Create(partFile)
	if err != nil {
		return 0, &ConfigurationError{Path: partFile, Message: err.Error()}
	}
	defer file.Close()

	c.observer().Started(name, total)
	hasher := sha256.New()
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	written := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return written, &TransportError{URL: url, Err: err}
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("Failed to write %v: %w", partFile, err)
			}
			hasher.Write(buf[:n])
			written += int64(n)
			c.observer().Progress(name, written, total)
		}
		if rerr == io.EOF {
			break
		} else if rerr != nil {
			if ctx.Err() != nil {
				rerr = ctx.Err()
			}
			return written, &TransportError{URL: url, Err: rerr}
		}
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("Failed to write %v: %w", partFile, err)
	}

	if expected != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != expected {
			return written, &IntegrityError{Expected: expected, Actual: actual}
		}
	}
	return written, nil
}

// Because we set Accept-Encoding ourselves, net/http does not decompress for us.
// Returns the decoded body, and its length if known (otherwise -1).
func decodeBody(resp *http.Response) (io.ReadCloser, int64, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return io.NopCloser(resp.Body), resp.ContentLength, nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		return r, -1, nil
	case "deflate":
		r, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		return r, -1, nil
	case "zstd":
		r, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, 0, err
		}
		return r.IOReadCloser(), -1, nil
	}
	return nil, 0, fmt.Errorf("Unsupported Content-Encoding '%v'", encoding)
}

func (c *Client) observer() Observer {
	if c.Observer == nil {
		return NopObserver{}
	}
	return c.Observer
}
