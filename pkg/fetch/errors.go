package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ConfigurationError is returned when the local target of a download is unusable,
// for example when the destination path is an existing directory.
type ConfigurationError struct {
	Path    string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %v", e.Path, e.Message)
}

// TransportError is any network level failure: connection errors, timeouts,
// non-2xx responses, and cancellation while the body is being read.
type TransportError struct {
	URL        string
	StatusCode int // Zero if we never received a response
	Summary    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Failed to download %v: %v", e.URL, e.Summary)
	}
	return fmt.Sprintf("Failed to download %v: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when the SHA-256 of downloaded content does not match the expected digest.
// The downloaded content is discarded, so Path does not exist when this error is returned.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("Checksum mismatch for %v: expected sha256 %v, got %v", e.Path, e.Expected, e.Actual)
}

// Returns a short description of a failed response, including the start of the body
func failedResponseSummary(resp *http.Response, maxBodyLen int) string {
	txt := resp.Status
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxBodyLen)))
		if s := strings.TrimSpace(string(body)); s != "" {
			txt += " " + s
		}
	}
	return txt
}
