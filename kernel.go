package vos

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/viant/afs"

	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/runtime/vm"
	"github.com/vos-lab/vos/service/loader"
	"github.com/vos-lab/vos/service/manager"
	"github.com/vos-lab/vos/service/memory"
	"github.com/vos-lab/vos/service/registry"
	"github.com/vos-lab/vos/service/rootfs"
	"github.com/vos-lab/vos/service/syscall"
	"github.com/vos-lab/vos/tracing"
)

// Version identifies the kernel build in traces and the boot banner.
const Version = "0.1.0"

// Kernel wires the allocator, the kernel address space, the process manager
// and the syscall dispatcher into one bootable unit.
type Kernel struct {
	config  *Config
	session string

	fileService afs.Service
	kernelImage *loader.Image

	stdin          io.Reader
	stdout, stderr io.Writer
	idleFunc       func()

	alloc      *memory.Allocator
	manager    *manager.Manager
	dispatcher *syscall.Dispatcher
	apps       *registry.Service
	fs         *rootfs.Service
}

// New assembles a kernel. The kernel process occupies pid 1 and is Running
// when New returns; user processes are spawned afterwards.
func New(options ...Option) (*Kernel, error) {
	k := &Kernel{
		config:  DefaultConfig(),
		session: uuid.New().String(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range options {
		opt(k)
	}
	if err := k.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if k.config.Tracing.Enabled {
		if err := tracing.Init("vos", Version, k.config.Tracing.Output); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}
	if k.fileService == nil {
		k.fileService = afs.New()
	}

	k.alloc = memory.NewAllocator(k.config.Memory.Frames)
	kernelPT, err := memory.NewPageTable(k.alloc)
	if err != nil {
		return nil, fmt.Errorf("allocate kernel page table: %w", err)
	}

	var code []memory.PageRange
	if k.kernelImage != nil {
		ranges, _, err := loader.MapInto(kernelPT, k.alloc, k.kernelImage, false)
		if err != nil {
			return nil, fmt.Errorf("map kernel image: %w", err)
		}
		code = ranges
	}
	space, err := vm.NewKernel(kernelPT, k.alloc, code)
	if err != nil {
		return nil, fmt.Errorf("init kernel address space: %w", err)
	}

	data := proc.NewProcessData(k.stdin, k.stdout, k.stderr)
	kproc := proc.NewWithID(proc.KernelID, "kernel", 0, space, data)
	kproc.Resume()

	k.fs = rootfs.New(k.fileService, k.config.Boot.RootFS)
	k.apps = registry.New(k.fileService, k.config.Boot.ManifestURL)
	k.manager = manager.New(kproc, k.alloc,
		manager.WithRegistry(k.apps),
		manager.WithRootFS(k.fs),
		manager.WithConsole(k.stdin, k.stdout, k.stderr),
		manager.WithIdleFunc(k.idleFunc),
	)
	k.dispatcher = syscall.NewDispatcher(k.manager)
	return k, nil
}

// Boot loads the application manifest and logs the boot banner.
func (k *Kernel) Boot(ctx context.Context) error {
	if err := k.apps.Load(ctx); err != nil {
		return err
	}
	log.Printf("vos %s booted, session %s, %d frames free, apps: %v",
		Version, k.session, k.alloc.FreeCount(), k.apps.Names())
	return nil
}

// Session returns the boot session identifier.
func (k *Kernel) Session() string {
	return k.session
}

// Manager exposes the process manager.
func (k *Kernel) Manager() *manager.Manager {
	return k.manager
}

// Allocator exposes the frame allocator.
func (k *Kernel) Allocator() *memory.Allocator {
	return k.alloc
}

// Dispatch executes one syscall against the live register context.
func (k *Kernel) Dispatch(ctx context.Context, args *syscall.Args, regs *proc.Context) (uint64, error) {
	return k.dispatcher.Dispatch(ctx, args, regs)
}

// Tick is the timer interrupt: preempts the running process and dispatches
// the next ready one into regs.
func (k *Kernel) Tick(regs *proc.Context) proc.ID {
	return k.manager.Switch(regs)
}

// HandlePageFault delegates a fault to the running process's address space.
func (k *Kernel) HandlePageFault(addr uint64, code manager.PageFaultCode) bool {
	return k.manager.HandlePageFault(addr, code)
}

// Spawn starts a program by path.
func (k *Kernel) Spawn(ctx context.Context, path string) (proc.ID, error) {
	return k.manager.SpawnPath(ctx, path)
}

// ProcessList renders the process table for diagnostics.
func (k *Kernel) ProcessList() string {
	return k.manager.ProcessList()
}
