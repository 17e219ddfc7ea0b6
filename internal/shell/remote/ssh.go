// Package remote applies rendered topologies on remote hosts over SSH. The
// rendered document is piped to docker compose on the target, so the remote
// host needs nothing beyond a Docker engine and the compose plugin.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Runner
// =============================================================================

// Host identifies an SSH target.
type Host struct {
	Addr string
	Port int
	User string
}

// Config configures the SSH runner.
type Config struct {
	ConnectTimeout time.Duration // Default: 10 seconds
	CommandTimeout time.Duration // Default: 5 minutes (compose up pulls images)
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 5 * time.Minute,
	}
}

// Runner executes compose operations on a remote host.
type Runner struct {
	host   Host
	signer ssh.Signer
	config Config
	logger *slog.Logger

	mu     sync.Mutex // protects client
	client *ssh.Client
}

// NewRunner creates a runner authenticating with the given private key.
func NewRunner(host Host, privateKey []byte, config Config, logger *slog.Logger) (*Runner, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}
	if host.Port == 0 {
		host.Port = 22
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		host:   host,
		signer: signer,
		config: config,
		logger: logger,
	}, nil
}

// connect establishes the SSH connection if not already connected.
func (r *Runner) connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		_, _, err := r.client.SendRequest("keepalive@stackctl", true, nil)
		if err == nil {
			return nil
		}
		r.client.Close()
		r.client = nil
	}

	config := &ssh.ClientConfig{
		User:            r.host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.config.ConnectTimeout,
	}

	addr := net.JoinHostPort(r.host.Addr, strconv.Itoa(r.host.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	r.client = client
	return nil
}

// Close closes the SSH connection.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// =============================================================================
// Compose Operations
// =============================================================================

// Up pipes the rendered document to compose and starts the project.
func (r *Runner) Up(ctx context.Context, project string, rendered []byte) (string, error) {
	r.logger.Info("remote apply", "host", r.host.Addr, "project", project)
	return r.run(ctx, upCommand(project), rendered)
}

// Down tears the project down on the remote host.
func (r *Runner) Down(ctx context.Context, project string, rendered []byte, removeVolumes bool) (string, error) {
	r.logger.Info("remote teardown", "host", r.host.Addr, "project", project)
	return r.run(ctx, downCommand(project, removeVolumes), rendered)
}

// Status lists the project's containers on the remote host.
func (r *Runner) Status(ctx context.Context, project string) (string, error) {
	return r.run(ctx, statusCommand(project), nil)
}

func upCommand(project string) string {
	return fmt.Sprintf("docker compose -p %s -f - up -d --remove-orphans", project)
}

func downCommand(project string, removeVolumes bool) string {
	cmd := fmt.Sprintf("docker compose -p %s -f - down --remove-orphans", project)
	if removeVolumes {
		cmd += " --volumes"
	}
	return cmd
}

func statusCommand(project string) string {
	return fmt.Sprintf("docker compose -p %s ps --all", project)
}

// run executes one command, feeding stdin when given, honoring the timeout.
func (r *Runner) run(ctx context.Context, cmd string, stdin []byte) (string, error) {
	if err := r.connect(ctx); err != nil {
		return "", err
	}

	r.mu.Lock()
	session, err := r.client.NewSession()
	r.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		return stdout.String(), ctx.Err()
	case <-time.After(r.config.CommandTimeout):
		return stdout.String(), fmt.Errorf("timeout running %q on %s", cmd, r.host.Addr)
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("remote command %q failed: %w: %s", cmd, err, stderr.String())
		}
	}

	return stdout.String(), nil
}
