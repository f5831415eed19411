// Package hostos detects the operating system of a host and exposes a
// small set of file primitives rendered in that system's command syntax.
//
// Detection runs each registered Variant's probe in order through an
// executor and binds the first match to it:
//
//	d := hostos.NewDetector(executor.NewFactory(sshConfig, 0))
//	h, err := d.Detect(ctx, "web-1.example.com")
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//	res, err := h.Fetch(ctx, "https://mirror.example.com/nginx.zip", "/tmp")
//
// Primitives report ordinary command failure through the returned
// executor.Result. Errors are reserved for delivery failures.
package hostos

import (
	"context"
	"fmt"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
)

// HostOS binds one executor to the command table of its detected variant.
type HostOS struct {
	variant Variant
	exec    executor.Executor
}

// New binds exec to variant without probing.
func New(variant Variant, exec executor.Executor) *HostOS {
	return &HostOS{variant: variant, exec: exec}
}

// Variant returns the detected variant.
func (h *HostOS) Variant() Variant {
	return h.variant
}

// Platform returns the repository platform of the detected variant.
func (h *HostOS) Platform() string {
	return h.variant.Platform
}

// Host returns the executor's target.
func (h *HostOS) Host() string {
	return h.exec.Target()
}

// Executor returns the bound executor.
func (h *HostOS) Executor() executor.Executor {
	return h.exec
}

// Fetch downloads uri into destDir, naming the file after the last
// element of the URI path.
func (h *HostOS) Fetch(ctx context.Context, uri, destDir string) (*executor.Result, error) {
	return h.exec.Execute(ctx, render(h.variant.Commands.Fetch, Destination(uri, destDir), uri))
}

// Unzip extracts archive into targetDir. flags are passed to unzip as given.
func (h *HostOS) Unzip(ctx context.Context, archive, targetDir, flags string) (*executor.Result, error) {
	if flags != "" {
		flags += " "
	}
	return h.exec.Execute(ctx, fmt.Sprintf(h.variant.Commands.Unzip, flags, Quote(archive), Quote(targetDir)))
}

// Move renames src to dst.
func (h *HostOS) Move(ctx context.Context, src, dst string) (*executor.Result, error) {
	return h.exec.Execute(ctx, render(h.variant.Commands.Move, src, dst))
}

// Mkdir creates dir. It fails if dir already exists.
func (h *HostOS) Mkdir(ctx context.Context, dir string) (*executor.Result, error) {
	return h.exec.Execute(ctx, render(h.variant.Commands.Mkdir, dir))
}

// Touch creates path or updates its modification time.
func (h *HostOS) Touch(ctx context.Context, path string) (*executor.Result, error) {
	return h.exec.Execute(ctx, render(h.variant.Commands.Touch, path))
}

// Upload copies a local file onto the host when the executor supports it.
func (h *HostOS) Upload(ctx context.Context, localPath, remotePath string) error {
	up, ok := h.exec.(executor.Uploader)
	if !ok {
		return engine.NewTransportError(engine.ErrCodeConnection,
			fmt.Sprintf("executor for %s cannot upload files", h.Host()), nil).WithHost(h.Host())
	}
	return up.Upload(ctx, localPath, remotePath)
}

// Close releases the executor.
func (h *HostOS) Close() error {
	return h.exec.Close()
}

func (h *HostOS) String() string {
	return fmt.Sprintf("%s@%s", h.variant.Name, h.Host())
}
