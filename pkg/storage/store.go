package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
)

// Store keeps video bytes and hands out retrievable handles. A handle is an
// opaque string valid for Fetch and URL; callers never interpret it.
type Store interface {
	Put(r io.Reader, ext string) (handle string, err error)
	PutFromURL(ctx context.Context, srcURL string) (handle string, err error)
	// Fetch copies the object behind handle into destPath.
	Fetch(handle, destPath string) error
	// URL returns a download URL a client can retrieve the object from.
	URL(handle string) string
}

// LocalStore keeps media on the local filesystem under a root directory.
// Handles are date-partitioned relative paths.
type LocalStore struct {
	root       string
	httpClient *http.Client
}

func NewLocalStore(cfg *config.Config) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.Storage.MediaPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &LocalStore{
		root:       cfg.Storage.MediaPath,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *LocalStore) Put(r io.Reader, ext string) (string, error) {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	handle := path.Join(time.Now().Format("20060102"), uuid.NewString()+ext)
	fullPath := filepath.Join(s.root, filepath.FromSlash(handle))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create storage file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write storage file: %w", err)
	}

	return handle, nil
}

func (s *LocalStore) PutFromURL(ctx context.Context, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", srcURL, resp.StatusCode)
	}

	ext := path.Ext(strings.SplitN(path.Base(srcURL), "?", 2)[0])
	if ext == "" {
		ext = ".mp4"
	}

	handle, err := s.Put(resp.Body, ext)
	if err != nil {
		return "", err
	}

	logger.Debugf("Stored remote video %s as %s", srcURL, handle)
	return handle, nil
}

func (s *LocalStore) Fetch(handle, destPath string) error {
	src, err := os.Open(filepath.Join(s.root, filepath.FromSlash(handle)))
	if err != nil {
		return fmt.Errorf("failed to open stored object %s: %w", handle, err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy stored object %s: %w", handle, err)
	}

	return nil
}

func (s *LocalStore) URL(handle string) string {
	return "/api/v1/videos/download/" + handle
}

// FilePath resolves a handle to its absolute path for direct serving.
func (s *LocalStore) FilePath(handle string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(handle))

	// Reject handles that escape the media root.
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid handle %q", handle)
	}

	return full, nil
}
