package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/transports/ssh"
)

// Remote runs commands on another host over an SSH transport.
type Remote struct {
	host      string
	transport ssh.Transport
}

var (
	_ Executor = (*Remote)(nil)
	_ Uploader = (*Remote)(nil)
)

// NewRemote connects to the host described by config.
func NewRemote(ctx context.Context, config *ssh.Config) (*Remote, error) {
	client, err := ssh.NewClient(config)
	if err != nil {
		return nil, engine.NewTransportError(engine.ErrCodeConnection, "invalid ssh configuration", err).WithHost(hostOf(config))
	}
	if err := client.Connect(ctx); err != nil {
		return nil, transportError(config.Host, "connect", err)
	}
	return &Remote{host: config.Host, transport: client}, nil
}

// NewRemoteWithTransport wraps an already connected transport.
func NewRemoteWithTransport(host string, transport ssh.Transport) *Remote {
	return &Remote{host: host, transport: transport}
}

// Target implements Executor.
func (r *Remote) Target() string {
	return r.host
}

// Execute implements Executor.
func (r *Remote) Execute(ctx context.Context, command string) (*Result, error) {
	res, err := r.transport.Run(ctx, command)
	if err != nil {
		return nil, transportError(r.host, "execute", err)
	}
	return &Result{
		Command:  command,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}, nil
}

// Upload implements Uploader over SFTP.
func (r *Remote) Upload(ctx context.Context, localPath, remotePath string) error {
	if _, err := r.transport.Upload(ctx, localPath, remotePath); err != nil {
		return transportError(r.host, "upload", err)
	}
	return nil
}

// Close implements Executor.
func (r *Remote) Close() error {
	return r.transport.Close()
}

func transportError(host, op string, err error) error {
	msg := fmt.Sprintf("%s on %s failed", op, host)
	var terr *ssh.TransportError
	if errors.As(err, &terr) && terr.IsAuthError {
		msg = fmt.Sprintf("authentication to %s failed", host)
	}
	return engine.NewTransportError(engine.ErrCodeConnection, msg, err).WithHost(host)
}

func hostOf(config *ssh.Config) string {
	if config == nil {
		return ""
	}
	return config.Host
}
