package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
)

const manifestYAML = `apps:
  - name: shell
    url: shell.yaml
  - name: counter
    url: mem://localhost/elsewhere/counter.yaml
`

const shellImage = `entry: 0x401000
segments:
  - addr: 0x401000
    size: 0x1000
`

func setup(t *testing.T) (context.Context, afs.Service, *Service) {
	t.Helper()
	ctx := context.Background()
	fs := afs.New()
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps/manifest.yaml", 0644, strings.NewReader(manifestYAML)))
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps/shell.yaml", 0644, strings.NewReader(shellImage)))
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/elsewhere/counter.yaml", 0644, strings.NewReader(shellImage)))
	return ctx, fs, New(fs, "mem://localhost/apps/manifest.yaml")
}

func TestLoadAndNames(t *testing.T) {
	ctx, _, svc := setup(t)
	assert.NoError(t, svc.Load(ctx))
	assert.Equal(t, []string{"shell", "counter"}, svc.Names())
}

func TestLoadMissingManifest(t *testing.T) {
	svc := New(afs.New(), "mem://localhost/absent/manifest.yaml")
	assert.Error(t, svc.Load(context.Background()))
}

func TestFindResolvesRelativeURL(t *testing.T) {
	ctx, _, svc := setup(t)
	assert.NoError(t, svc.Load(ctx))

	img, err := svc.Find(ctx, "shell")
	assert.NoError(t, err)
	assert.Equal(t, "shell", img.Name)
	assert.EqualValues(t, 0x401000, img.Entry)
}

func TestFindAbsoluteURL(t *testing.T) {
	ctx, _, svc := setup(t)
	assert.NoError(t, svc.Load(ctx))

	img, err := svc.Find(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, "counter", img.Name)
}

func TestFindCachesImages(t *testing.T) {
	ctx, fs, svc := setup(t)
	assert.NoError(t, svc.Load(ctx))

	first, err := svc.Find(ctx, "shell")
	assert.NoError(t, err)

	// The source going away does not invalidate an already parsed image.
	assert.NoError(t, fs.Delete(ctx, "mem://localhost/apps/shell.yaml"))
	second, err := svc.Find(ctx, "shell")
	assert.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFindUnknownApp(t *testing.T) {
	ctx, _, svc := setup(t)
	assert.NoError(t, svc.Load(ctx))
	_, err := svc.Find(ctx, "vim")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
