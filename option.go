package vos

import (
	"io"

	"github.com/viant/afs"

	"github.com/vos-lab/vos/service/loader"
)

// Option configures a Kernel.
type Option func(k *Kernel)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(k *Kernel) { k.config = config }
}

// WithFrameCount sizes the simulated physical memory.
func WithFrameCount(frames int) Option {
	return func(k *Kernel) { k.config.Memory.Frames = frames }
}

// WithRootFS sets the base URL the root filesystem resolves paths against.
func WithRootFS(baseURL string) Option {
	return func(k *Kernel) { k.config.Boot.RootFS = baseURL }
}

// WithManifestURL sets the application manifest location.
func WithManifestURL(manifestURL string) Option {
	return func(k *Kernel) { k.config.Boot.ManifestURL = manifestURL }
}

// WithFileService sets the abstract file service backing the root filesystem
// and the registry; useful for mem:// backed tests.
func WithFileService(fs afs.Service) Option {
	return func(k *Kernel) { k.fileService = fs }
}

// WithKernelImage loads a boot image into the kernel address space so its
// code ranges are accounted and torn down like any other process's.
func WithKernelImage(img *loader.Image) Option {
	return func(k *Kernel) { k.kernelImage = img }
}

// WithConsole sets the streams wired into descriptors 0/1/2.
func WithConsole(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(k *Kernel) {
		k.stdin, k.stdout, k.stderr = stdin, stdout, stderr
	}
}

// WithIdleFunc sets the scheduler's idle hook.
func WithIdleFunc(fn func()) Option {
	return func(k *Kernel) { k.idleFunc = fn }
}

// WithTracing enables span emission to the given output file (empty writes
// to stdout).
func WithTracing(output string) Option {
	return func(k *Kernel) {
		k.config.Tracing.Enabled = true
		k.config.Tracing.Output = output
	}
}
