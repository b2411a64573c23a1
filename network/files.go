package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"crosscopy/models"
)

// Upload stores the file at localPath on the server under phrase and shares a
// reference to it. The returned item keeps localPath as its ItemPath.
func (c *Client) Upload(ctx context.Context, phrase, localPath string) (models.DataItem, error) {
	if phrase == "" {
		return models.DataItem{}, ErrEmptyPhrase
	}

	file, err := os.Open(localPath)
	if err != nil {
		return models.DataItem{}, fmt.Errorf("open upload source: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return models.DataItem{}, fmt.Errorf("stat upload source: %w", err)
	}
	if info.IsDir() {
		return models.DataItem{}, fmt.Errorf("upload source %q is a directory", localPath)
	}

	name := prefixedFilename(shortID(), filepath.Base(localPath))
	target := c.endpoint("", "data", url.PathEscape(phrase), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, file)
	if err != nil {
		return models.DataItem{}, fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	if _, _, err := c.do(c.options.HTTPClient, req); err != nil {
		return models.DataItem{}, fmt.Errorf("upload %q: %w", name, err)
	}

	item, err := c.Share(ctx, phrase, FileReference(phrase, name))
	if err != nil {
		return models.DataItem{}, err
	}
	item.ItemPath = localPath
	return item, nil
}

// Download fetches the file referenced by dataPath into destDir and returns the
// local path. An existing file with the same name is never overwritten.
func (c *Client) Download(ctx context.Context, dataPath, destDir string) (string, error) {
	if !IsFileReference(dataPath) {
		return "", ErrNotFileReference
	}

	rawPath := strings.TrimPrefix(dataPath, "/")
	segments := strings.Split(rawPath, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	target := c.endpoint("", segments...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", req.URL.Redacted(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	finalPath := filepath.Join(destDir, localFilename(path.Base(dataPath)))
	if _, err := os.Stat(finalPath); err == nil {
		finalPath = filepath.Join(destDir, prefixedFilename(shortID(), filepath.Base(finalPath)))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat download target: %w", err)
	}

	tempPath := finalPath + ".part"
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("write download file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close download file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("finalize download file: %w", err)
	}
	return finalPath, nil
}

func localFilename(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "file.bin"
	}
	return name
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
