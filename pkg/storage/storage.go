// Package storage provides unified access to local and S3 locations for
// input tables and written reports.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Storage provides a unified interface for reading and writing data.
type Storage interface {
	// Reader returns a reader for the given path and its size.
	Reader(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// Writer returns a writer for the given path. Data is committed on Close.
	Writer(ctx context.Context, path string) (io.WriteCloser, error)

	// Stat returns file info.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// List returns the files directly under a directory or key prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Scheme returns the storage scheme (file, s3).
	Scheme() string
}

// FileInfo holds file metadata. Path is a location Open accepts.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Name returns the base name of the file.
func (fi FileInfo) Name() string {
	return path.Base(filepath.ToSlash(fi.Path))
}

// Open returns the storage for a location and the path to pass to it.
func Open(ctx context.Context, location string, s3cfg S3Config) (Storage, string, error) {
	scheme, bucket, key := ParsePath(location)
	switch scheme {
	case "file":
		return &LocalStorage{}, key, nil
	case "s3":
		if bucket == "" {
			return nil, "", svcerr.InvalidParams(fmt.Sprintf("missing bucket in %s", location))
		}
		cfg := s3cfg
		cfg.Bucket = bucket
		s, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return s, key, nil
	default:
		return nil, "", svcerr.InvalidParams(fmt.Sprintf("unsupported storage scheme: %s", scheme))
	}
}

// ParsePath extracts scheme, bucket and key from a location. Plain paths
// and Windows drive letters are local files.
func ParsePath(location string) (scheme, bucket, key string) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return "file", "", location
	}
	if u.Scheme == "file" {
		return "file", "", u.Path
	}
	return u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/")
}

// IsRemote reports whether a location is not on the local filesystem.
func IsRemote(location string) bool {
	scheme, _, _ := ParsePath(location)
	return scheme != "file"
}

// Join appends elem to a location, keeping its scheme.
func Join(location string, elem ...string) string {
	scheme, bucket, key := ParsePath(location)
	if scheme == "file" {
		return filepath.Join(append([]string{key}, elem...)...)
	}
	return scheme + "://" + bucket + "/" + strings.TrimPrefix(path.Join(append([]string{key}, elem...)...), "/")
}

// --- Local Storage ---

// LocalStorage handles local file operations.
type LocalStorage struct{}

func (s *LocalStorage) Scheme() string { return "file" }

func (s *LocalStorage) Reader(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, localErr(err, path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, localErr(err, path)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, svcerr.New(svcerr.CodeInvalidFormat, "path is a directory").WithContext("path", path)
	}

	return f, info.Size(), nil
}

func (s *LocalStorage) Writer(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, localErr(err, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, localErr(err, path)
	}
	return f, nil
}

func (s *LocalStorage) Stat(ctx context.Context, path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, localErr(err, path)
	}
	return &FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// List returns the regular files in a directory sorted by name.
func (s *LocalStorage) List(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, localErr(err, dir)
	}

	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		out = append(out, FileInfo{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func localErr(err error, path string) error {
	if os.IsNotExist(err) {
		return svcerr.FileNotFound(path)
	}
	return svcerr.Wrap(err, svcerr.CodeFilePermission, "file access failed").WithContext("path", path)
}
