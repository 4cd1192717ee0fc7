package manager

import (
	"context"
	"fmt"
)

// Read reads from a descriptor of the running process.
func (m *Manager) Read(fd uint8, buf []byte) (int, error) {
	return m.Current().Data().Resources().Read(fd, buf)
}

// Write writes to a descriptor of the running process.
func (m *Manager) Write(fd uint8, buf []byte) (int, error) {
	return m.Current().Data().Resources().Write(fd, buf)
}

// OpenFile opens a path through the root filesystem and registers the handle
// in the running process's descriptor table.
func (m *Manager) OpenFile(ctx context.Context, path string) (uint8, error) {
	if m.fs == nil {
		return 0, fmt.Errorf("open %s: no root filesystem", path)
	}
	file, err := m.fs.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	return m.Current().Data().Resources().Open(file), nil
}

// ListDir lists a directory through the root filesystem.
func (m *Manager) ListDir(ctx context.Context, path string) ([]string, error) {
	if m.fs == nil {
		return nil, fmt.Errorf("list %s: no root filesystem", path)
	}
	return m.fs.List(ctx, path)
}

// CloseFile releases a descriptor of the running process.
func (m *Manager) CloseFile(fd uint8) bool {
	return m.Current().Data().Resources().Close(fd)
}
