package network

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DefaultServerURL is the public cross-copy server.
	DefaultServerURL = "https://www.cross-copy.net"
	// DefaultRequestTimeout bounds every request except listener watches.
	DefaultRequestTimeout = 30 * time.Second
	// MaxResponseSize is the maximum accepted size of a text or JSON reply (10 MB).
	MaxResponseSize = 10 * 1024 * 1024
	// maxErrorBodySize limits how much of a failed reply is kept in StatusError.
	maxErrorBodySize = 512

	dataPathPrefix = "/data/"
)

var (
	// ErrInvalidServerURL indicates the configured server URL cannot be used.
	ErrInvalidServerURL = errors.New("network: invalid server url")
	// ErrEmptyPhrase indicates a request was made without a phrase.
	ErrEmptyPhrase = errors.New("network: phrase must not be empty")
	// ErrResponseTooLarge indicates the server reply exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("network: response exceeds max size")
	// ErrNotFileReference indicates data passed to Download is not a shared file path.
	ErrNotFileReference = errors.New("network: data is not a file reference")
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsFileReference reports whether shared data points at a file uploaded to
// the server rather than carrying text.
func IsFileReference(data string) bool {
	return strings.HasPrefix(data, dataPathPrefix) && len(data) > len(dataPathPrefix)
}

// FileReference is the shared data for a file uploaded under phrase.
func FileReference(phrase, name string) string {
	return dataPathPrefix + phrase + "/" + name
}

func prefixedFilename(fileID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		base = "file.bin"
	}
	return fileID + "_" + base
}
