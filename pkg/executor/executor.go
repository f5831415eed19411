// Package executor runs shell commands on a target host, either on the
// local machine or over SSH.
//
// A command that runs and exits non-zero is not an error: the Result
// carries the exit code and output. Errors are returned only when the
// command could not be delivered (connection, session, timeout) or the
// caller's context ended. Delivery failures are engine transport errors.
package executor

import (
	"context"
	"time"
)

// LocalTarget is the target name reported by the local executor.
const LocalTarget = "localhost"

// Executor runs commands on one host.
type Executor interface {
	// Execute runs command through the host's POSIX shell.
	Execute(ctx context.Context, command string) (*Result, error)

	// Target names the host commands run on.
	Target() string

	// Close releases the connection, if any.
	Close() error
}

// Uploader is implemented by executors that can copy a local file onto
// their host.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// Connector opens an executor for a host name.
type Connector interface {
	Open(ctx context.Context, host string) (Executor, error)
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if the command exited with status 0.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Failed returns true if the command exited with a non-zero status.
func (r *Result) Failed() bool {
	return !r.Succeeded()
}
