package ssh

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over a single SSH connection. Every command
// and upload opens its own session on that connection.
type Client struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	jump        *ssh.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stop        chan struct{}
}

var _ Transport = (*Client)(nil)

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("invalid config: nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes an SSH connection to the remote host. Calling it on
// a live connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	target := c.config.Address()
	if jumpAddr := c.config.JumpAddress(); jumpAddr != "" {
		log.Debug().Str("jump", jumpAddr).Str("target", target).Msg("connecting through jump host")

		jump, err := dial(ctx, nil, jumpAddr, clientConfig)
		if err != nil {
			return classifyConnectError("connect-jump", err)
		}
		client, err := dial(ctx, jump, target, clientConfig)
		if err != nil {
			_ = jump.Close()
			return classifyConnectError("connect", err)
		}
		c.jump = jump
		c.client = client
	} else {
		log.Debug().Str("address", target).Msg("establishing SSH connection")

		client, err := dial(ctx, nil, target, clientConfig)
		if err != nil {
			return classifyConnectError("connect", err)
		}
		c.client = client
	}

	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt
	c.stop = make(chan struct{})

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(c.client, c.stop)
	}

	log.Info().Str("address", target).Msg("SSH connection established")
	return nil
}

// dial opens a TCP connection, directly or through an existing client, and
// performs the SSH handshake within the configured timeout.
func dial(ctx context.Context, via *ssh.Client, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if via != nil {
		conn, err = via.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

func classifyConnectError(op string, err error) error {
	return &TransportError{
		Op:          op,
		Err:         err,
		IsTemporary: !strings.Contains(err.Error(), "unable to authenticate"),
		IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
	}
}

// Close closes the SSH connection and releases all resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")
	if err := c.closeLocked(); err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

func (c *Client) closeLocked() error {
	close(c.stop)
	err := c.client.Close()
	if c.jump != nil {
		_ = c.jump.Close()
	}
	c.client = nil
	c.jump = nil
	return err
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// keepAlive sends periodic keepalive requests until stop is closed or too
// many requests fail in a row.
func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Str("host", c.config.Host).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.config.Host).Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
		c.touch()
	}
}

// Info returns information about the current connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		JumpHost:     c.config.JumpAddress(),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// conn returns the live SSH client for a session.
func (c *Client) conn(op string) (*ssh.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("not connected")}
	}
	c.touch()
	return client, nil
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}
