package storage

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for blob names that could escape the store.
var ErrInvalidName = errors.New("storage: invalid blob name")

// BlobStore keeps blobs as flat files in one directory and knows the public
// URL they are served under.
type BlobStore struct {
	dir     string
	baseURL string
}

// NewBlobStore creates dir if needed. baseURL is the URL prefix the store's
// handler is mounted at, e.g. "http://localhost:8080/blobs".
func NewBlobStore(dir, baseURL string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	return &BlobStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Path returns the file path for name.
func (s *BlobStore) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Put writes r to name atomically and returns the number of bytes written.
func (s *BlobStore) Put(name string, r io.Reader) (int64, error) {
	p, err := s.Path(name)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing blob %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("storing blob %s: %w", name, err)
	}
	return n, nil
}

// Open opens name for reading.
func (s *BlobStore) Open(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Exists reports whether name is stored.
func (s *BlobStore) Exists(name string) bool {
	p, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// URL returns the unsigned public URL of name.
func (s *BlobStore) URL(name string) string {
	return s.baseURL + "/" + url.PathEscape(name)
}

// BlobName extracts the blob name from a blob URL.
func BlobName(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, location)
	}
	return name, nil
}

// SignedURL appends token to location as the sig query parameter.
func SignedURL(location, token string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing location: %w", err)
	}
	q := u.Query()
	q.Set(SignatureParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
