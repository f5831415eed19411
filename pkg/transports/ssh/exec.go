package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ErrCommandTimeout is wrapped when a command outlives Config.CommandTimeout.
var ErrCommandTimeout = errors.New("command timed out")

// Run executes cmd in a new session. The remote exit status is returned in
// the result; errors are reserved for session and connection failures and
// for cancellation. When ctx carries no deadline the configured command
// timeout applies.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	client, err := c.conn("exec")
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if _, ok := ctx.Deadline(); !ok && c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	log.Debug().Str("host", c.config.Host).Str("command", cmd).Msg("executing command")

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	result := &ExecResult{Command: cmd, StartedAt: time.Now()}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			_ = session.Signal(ssh.SIGKILL)
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
		} else {
			runErr = fmt.Errorf("%w after %s", ErrCommandTimeout, c.config.CommandTimeout)
		}
		return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	case runErr = <-done:
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd).
		Int("exit_code", result.ExitCode).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Msg("command completed")

	return result, nil
}
