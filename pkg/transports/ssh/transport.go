package ssh

import (
	"context"
	"time"
)

// Transport is the remote access surface used by the deploy executors.
type Transport interface {
	// Connect establishes the connection to the remote host.
	Connect(ctx context.Context) error

	// Close tears down the connection.
	Close() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// Run executes a shell command. A non-zero exit status is reported in
	// the result, not as an error.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// Upload copies a local file to the remote host, creating parent
	// directories as needed.
	Upload(ctx context.Context, localPath, remotePath string) (*TransferResult, error)

	// Info returns details about the current connection.
	Info() ConnectionInfo
}

// ConnectionInfo contains information about an active connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	JumpHost     string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	Command    string
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// TransferResult describes a completed upload.
type TransferResult struct {
	BytesTransferred int64
	Duration         time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
