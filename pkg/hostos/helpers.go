package hostos

import (
	"context"

	"github.com/openfroyo/deploy/pkg/executor"
)

// Each helper detects the OS of host, runs one primitive and releases the
// connection. An empty host means the local machine.

// Fetch downloads uri into destDir on host.
func Fetch(ctx context.Context, d *Detector, host, uri, destDir string) (*executor.Result, error) {
	return run(ctx, d, host, func(h *HostOS) (*executor.Result, error) {
		return h.Fetch(ctx, uri, destDir)
	})
}

// Unzip extracts archive into targetDir on host.
func Unzip(ctx context.Context, d *Detector, host, archive, targetDir, flags string) (*executor.Result, error) {
	return run(ctx, d, host, func(h *HostOS) (*executor.Result, error) {
		return h.Unzip(ctx, archive, targetDir, flags)
	})
}

// Move renames src to dst on host.
func Move(ctx context.Context, d *Detector, host, src, dst string) (*executor.Result, error) {
	return run(ctx, d, host, func(h *HostOS) (*executor.Result, error) {
		return h.Move(ctx, src, dst)
	})
}

// Mkdir creates dir on host.
func Mkdir(ctx context.Context, d *Detector, host, dir string) (*executor.Result, error) {
	return run(ctx, d, host, func(h *HostOS) (*executor.Result, error) {
		return h.Mkdir(ctx, dir)
	})
}

// Touch creates or refreshes path on host.
func Touch(ctx context.Context, d *Detector, host, path string) (*executor.Result, error) {
	return run(ctx, d, host, func(h *HostOS) (*executor.Result, error) {
		return h.Touch(ctx, path)
	})
}

func run(ctx context.Context, d *Detector, host string, fn func(*HostOS) (*executor.Result, error)) (*executor.Result, error) {
	h, err := d.Detect(ctx, host)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return fn(h)
}
