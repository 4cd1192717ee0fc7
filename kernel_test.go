package vos_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"

	"github.com/vos-lab/vos"
	"github.com/vos-lab/vos/runtime/proc"
	"github.com/vos-lab/vos/service/manager"
	"github.com/vos-lab/vos/service/syscall"
)

const bootManifest = `apps:
  - name: shell
    url: shell.yaml
`

const bootImage = `entry: 0x401000
segments:
  - addr: 0x401000
    size: 0x1000
`

func bootKernel(t *testing.T, stdout *bytes.Buffer) *vos.Kernel {
	t.Helper()
	ctx := context.Background()
	fs := afs.New()
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps/manifest.yaml", 0644, strings.NewReader(bootManifest)))
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps/shell.yaml", 0644, strings.NewReader(bootImage)))

	kernel, err := vos.New(
		vos.WithFrameCount(512),
		vos.WithFileService(fs),
		vos.WithRootFS("mem://localhost/apps"),
		vos.WithManifestURL("mem://localhost/apps/manifest.yaml"),
		vos.WithConsole(strings.NewReader(""), stdout, stdout),
	)
	assert.NoError(t, err)
	assert.NoError(t, kernel.Boot(ctx))
	return kernel
}

func TestKernelBootAndSpawn(t *testing.T) {
	var out bytes.Buffer
	kernel := bootKernel(t, &out)
	assert.NotEmpty(t, kernel.Session())
	assert.Equal(t, []string{"shell"}, kernel.Manager().Apps())

	shell, err := kernel.Spawn(context.Background(), "shell")
	assert.NoError(t, err)
	assert.True(t, kernel.Manager().StillAlive(shell))

	var regs proc.Context
	assert.Equal(t, shell, kernel.Tick(&regs))
	assert.EqualValues(t, 0x401000, regs.InstructionPointer)
}

func TestKernelForkWaitExitScenario(t *testing.T) {
	var out bytes.Buffer
	kernel := bootKernel(t, &out)
	ctx := context.Background()

	shell, err := kernel.Spawn(ctx, "shell")
	assert.NoError(t, err)

	var regs proc.Context
	kernel.Tick(&regs)

	ret, err := kernel.Dispatch(ctx, &syscall.Args{Op: syscall.OpFork}, &regs)
	assert.NoError(t, err)
	child := proc.ID(ret)
	assert.Equal(t, shell, kernel.Manager().CurrentPid())

	// Parent waits; the child runs, then exits; the parent resumes with the
	// exit code.
	_, err = kernel.Dispatch(ctx, &syscall.Args{Op: syscall.OpWaitPid, Arg0: uint64(child)}, &regs)
	assert.NoError(t, err)
	assert.Equal(t, child, kernel.Manager().CurrentPid())

	ret, err = kernel.Dispatch(ctx, &syscall.Args{Op: syscall.OpExit, Arg0: 0}, &regs)
	assert.NoError(t, err)
	assert.Equal(t, shell, kernel.Manager().CurrentPid())
	assert.EqualValues(t, 0, ret)
	assert.False(t, kernel.Manager().StillAlive(child))
}

func TestKernelPageFaultDelegation(t *testing.T) {
	var out bytes.Buffer
	kernel := bootKernel(t, &out)
	ctx := context.Background()

	shell, err := kernel.Spawn(ctx, "shell")
	assert.NoError(t, err)

	var regs proc.Context
	assert.Equal(t, shell, kernel.Tick(&regs))

	// Push the stack pointer below the mapped page and fault it in.
	below := regs.StackPointer - 3*0x1000
	assert.True(t, kernel.HandlePageFault(below, 0))
	assert.False(t, kernel.HandlePageFault(below, manager.PageFaultProtection))
}

func TestConfigValidate(t *testing.T) {
	cfg := vos.DefaultConfig()
	assert.NoError(t, cfg.Validate())
	cfg.Memory.Frames = 2
	assert.Error(t, cfg.Validate())

	_, err := vos.New(vos.WithFrameCount(1))
	assert.Error(t, err)
}

func TestProcessListing(t *testing.T) {
	var out bytes.Buffer
	kernel := bootKernel(t, &out)
	_, err := kernel.Spawn(context.Background(), "shell")
	assert.NoError(t, err)

	listing := kernel.ProcessList()
	assert.Contains(t, listing, "kernel")
	assert.Contains(t, listing, "shell")
}
