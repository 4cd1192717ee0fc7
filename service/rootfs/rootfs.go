// Package rootfs gives the kernel open-by-path access to program images and
// data files through an abstract file service, so the same code path serves
// file://, mem:// and embedded schemes.
package rootfs

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

// Service resolves kernel paths against a base URL.
type Service struct {
	fs      afs.Service
	baseURL string
}

// New creates a root filesystem rooted at baseURL.
func New(fs afs.Service, baseURL string) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL}
}

// resolve joins a kernel path with the base URL.
func (s *Service) resolve(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.baseURL == "" {
		return path
	}
	return url.Join(s.baseURL, path)
}

// ReadAll fetches the full contents of a file by kernel path.
func (s *Service) ReadAll(ctx context.Context, path string) ([]byte, error) {
	location := s.resolve(path)
	ok, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return data, nil
}

// List returns the names of the entries under a directory path.
func (s *Service) List(ctx context.Context, path string) ([]string, error) {
	location := s.resolve(path)
	objects, err := s.fs.List(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", location, err)
	}
	names := make([]string, 0, len(objects))
	for _, object := range objects {
		// The listing includes the directory itself; skip it.
		if strings.TrimSuffix(object.URL(), "/") == strings.TrimSuffix(location, "/") {
			continue
		}
		name := object.Name()
		if object.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

// Open returns a byte-stream handle positioned at the start of the file.
func (s *Service) Open(ctx context.Context, path string) (*File, error) {
	data, err := s.ReadAll(ctx, path)
	if err != nil {
		return nil, err
	}
	return &File{name: path, reader: bytes.NewReader(data), size: len(data)}, nil
}

// File is an open read-only handle; it satisfies the process resource
// contract (reads succeed, writes are rejected).
type File struct {
	name   string
	reader *bytes.Reader
	size   int
}

// Name returns the kernel path the file was opened under.
func (f *File) Name() string {
	return f.name
}

// Size returns the file length in bytes.
func (f *File) Size() int {
	return f.size
}

func (f *File) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

func (f *File) Write([]byte) (int, error) {
	return 0, fmt.Errorf("rootfs: %s is read-only", f.name)
}
