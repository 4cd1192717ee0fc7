// Package registry holds the boot-time application list. The manifest is a
// YAML document fetched through the abstract file service; images referenced
// by it are fetched and parsed lazily, then cached.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/vos-lab/vos/service/loader"
)

// App is one manifest entry.
type App struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type manifest struct {
	Apps []App `yaml:"apps"`
}

// Service is the in-memory application registry.
type Service struct {
	fs          afs.Service
	manifestURL string

	mu     sync.RWMutex
	apps   []App
	images map[string]*loader.Image
}

// New creates a registry reading its manifest from manifestURL.
func New(fs afs.Service, manifestURL string) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, manifestURL: manifestURL, images: make(map[string]*loader.Image)}
}

// Load fetches and decodes the manifest. Called once at boot.
func (s *Service) Load(ctx context.Context) error {
	if s.manifestURL == "" {
		return nil
	}
	data, err := s.fs.DownloadWithURL(ctx, s.manifestURL)
	if err != nil {
		return fmt.Errorf("load app manifest %s: %w", s.manifestURL, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode app manifest %s: %w", s.manifestURL, err)
	}
	s.mu.Lock()
	s.apps = m.Apps
	s.mu.Unlock()
	return nil
}

// Names lists the registered application names in manifest order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.apps))
	for _, app := range s.apps {
		names = append(names, app.Name)
	}
	return names
}

// Find returns the parsed image for a registered application name.
func (s *Service) Find(ctx context.Context, name string) (*loader.Image, error) {
	s.mu.RLock()
	if img, ok := s.images[name]; ok {
		s.mu.RUnlock()
		return img, nil
	}
	var entry *App
	for i := range s.apps {
		if s.apps[i].Name == name {
			entry = &s.apps[i]
			break
		}
	}
	s.mu.RUnlock()
	if entry == nil {
		return nil, fmt.Errorf("app %q not found in registry", name)
	}

	location := entry.URL
	if url.Scheme(location, "") == "" && s.manifestURL != "" {
		base, _ := url.Split(s.manifestURL, "")
		location = url.Join(base, location)
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetch app %q from %s: %w", name, location, err)
	}
	img, err := loader.Parse(name, data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.images[name] = img
	s.mu.Unlock()
	return img, nil
}
