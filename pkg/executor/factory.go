package executor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/transports/ssh"
)

// Factory picks the executor for a host: local for an empty host name or
// one that resolves only to loopback addresses, SSH otherwise.
type Factory struct {
	// SSH is the connection template for remote hosts; Host is replaced
	// with the target host.
	SSH *ssh.Config

	// Hosts holds per-host connection settings that replace the template.
	// An entry with an empty Host connects to the map key.
	Hosts map[string]*ssh.Config

	// CommandTimeout bounds local commands without a deadline. Remote
	// commands use ssh.Config.CommandTimeout.
	CommandTimeout time.Duration

	// LookupHost resolves host names. Defaults to net.DefaultResolver.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

var _ Connector = (*Factory)(nil)

// NewFactory creates a factory using template for every remote host.
func NewFactory(template *ssh.Config, commandTimeout time.Duration) *Factory {
	return &Factory{
		SSH:            template,
		Hosts:          make(map[string]*ssh.Config),
		CommandTimeout: commandTimeout,
	}
}

// IsLocal reports whether host designates this machine. Names that fail to
// resolve are treated as remote so the SSH dial reports the failure.
func (f *Factory) IsLocal(ctx context.Context, host string) bool {
	host = strings.TrimSpace(host)
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.IsLoopback()
	}

	lookup := f.LookupHost
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		log.Debug().Err(err).Str("host", host).Msg("host did not resolve, treating as remote")
		return false
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil || !ip.IsLoopback() {
			return false
		}
	}
	return true
}

// Open implements Connector.
func (f *Factory) Open(ctx context.Context, host string) (Executor, error) {
	if f.IsLocal(ctx, host) {
		return NewLocal(f.CommandTimeout), nil
	}

	config, err := f.configFor(host)
	if err != nil {
		return nil, err
	}
	return NewRemote(ctx, config)
}

func (f *Factory) configFor(host string) (*ssh.Config, error) {
	if c, ok := f.Hosts[host]; ok && c != nil {
		if c.Host != "" {
			return c.ForHost(c.Host), nil
		}
		return c.ForHost(host), nil
	}
	if f.SSH == nil {
		return nil, engine.NewTransportError(engine.ErrCodeConnection,
			fmt.Sprintf("no ssh settings for remote host %s", host), nil).WithHost(host)
	}
	return f.SSH.ForHost(host), nil
}
