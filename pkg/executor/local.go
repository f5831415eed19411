package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/deploy/pkg/engine"
)

const defaultShell = "/bin/sh"

// Local runs commands on the current machine.
type Local struct {
	shell   string
	timeout time.Duration
}

var (
	_ Executor = (*Local)(nil)
	_ Uploader = (*Local)(nil)
)

// NewLocal creates a local executor. A positive timeout bounds commands
// whose context carries no deadline.
func NewLocal(timeout time.Duration) *Local {
	return &Local{shell: defaultShell, timeout: timeout}
}

// Target implements Executor.
func (l *Local) Target() string {
	return LocalTarget
}

// Close implements Executor.
func (l *Local) Close() error {
	return nil
}

// Execute runs command with "/bin/sh -c".
func (l *Local) Execute(ctx context.Context, command string) (*Result, error) {
	runCtx := ctx
	if _, ok := ctx.Deadline(); !ok && l.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, l.shell, "-c", command)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", command).Msg("executing local command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, engine.NewTransportError(engine.ErrCodeConnection, "local command interrupted", ctx.Err()).WithHost(LocalTarget)
		}
		return nil, engine.NewTransportError(engine.ErrCodeConnection,
			fmt.Sprintf("local command timed out after %s", l.timeout), nil).WithHost(LocalTarget)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, engine.NewTransportError(engine.ErrCodeConnection, "failed to start local command", err).WithHost(LocalTarget)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("command", command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("local command completed")

	return result, nil
}

// Upload copies localPath to remotePath on the same machine, creating
// parent directories and keeping the permission bits.
func (l *Local) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(localPath, remotePath); err != nil {
		return engine.NewTransportError(engine.ErrCodeConnection, "local copy failed", err).WithHost(LocalTarget)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}
