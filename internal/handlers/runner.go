package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/satlink/internal/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var ErrRunnerConfig = errors.New("handlers: runner misconfigured")

// Output is what an external process left behind.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Command string
	Output  Output
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Output.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Output.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Output.ExitCode, msg)
}

// Runner starts external collaborators such as the camera capture script.
type Runner interface {
	Run(ctx context.Context, cmd string, args ...string) (Output, error)
}

// NewRunner builds the runner named by cfg.Kind.
func NewRunner(cfg config.RunnerConfig) (Runner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "local":
		return LocalRunner{}, nil
	case "ssh":
		return SSHRunner{
			Host:                        cfg.Host,
			Port:                        cfg.Port,
			User:                        cfg.User,
			KeyPath:                     cfg.KeyPath,
			KnownHostsPath:              cfg.KnownHostsPath,
			InsecureSkipHostKeyChecking: cfg.InsecureSkipHostKeyChecking,
			Timeout:                     cfg.Timeout,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrRunnerConfig, cfg.Kind)
	}
}

// remoteCommand renders cmd and args as one POSIX shell line with every
// word single-quoted.
func remoteCommand(cmd string, args []string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, quoteWord(cmd))
	for _, arg := range args {
		words = append(words, quoteWord(arg))
	}
	return strings.Join(words, " ")
}

func quoteWord(w string) string {
	return "'" + strings.ReplaceAll(w, "'", `'"'"'`) + "'"
}

// LocalRunner runs processes on this host.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, cmd string, args ...string) (Output, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, cmd, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, &ExitError{Command: cmd, Output: out}
	}
	out.ExitCode = -1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		out.ExitCode = 127
	}
	return out, err
}

// SSHRunner runs processes on a companion host over SSH.
type SSHRunner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (r SSHRunner) Run(ctx context.Context, cmd string, args ...string) (Output, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return Output{ExitCode: -1}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Output{ExitCode: -1}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(remoteCommand(cmd, args)) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		<-done
		return Output{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err = <-done:
	}

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return out, &ExitError{Command: cmd, Output: out}
	}
	out.ExitCode = -1
	return out, err
}

// dial connects and authenticates. Cancelling ctx aborts the handshake.
func (r SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	addr, err := r.target()
	if err != nil {
		return nil, err
	}
	clientCfg, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s@%s: %w", r.User, addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ssh handshake %s@%s: %w", r.User, addr, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// target resolves the companion address. Port wins over a port embedded
// in Host; neither falls back to 22.
func (r SSHRunner) target() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", fmt.Errorf("%w: ssh host is empty", ErrRunnerConfig)
	}
	port := strings.TrimSpace(r.Port)
	if h, p, err := net.SplitHostPort(host); err == nil {
		host = h
		if port == "" {
			port = p
		}
	}
	if port == "" {
		port = "22"
	}
	return net.JoinHostPort(host, port), nil
}

func (r SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if strings.TrimSpace(r.User) == "" {
		return nil, fmt.Errorf("%w: ssh user is empty", ErrRunnerConfig)
	}
	auth, err := r.keyAuth()
	if err != nil {
		return nil, err
	}
	hostKeys, err := r.hostKeys()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         r.Timeout,
	}, nil
}

func (r SSHRunner) keyAuth() (ssh.AuthMethod, error) {
	if r.KeyPath == "" {
		return nil, fmt.Errorf("%w: ssh key path is empty", ErrRunnerConfig)
	}
	pem, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	var signer ssh.Signer
	if len(r.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, r.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", r.KeyPath, err)
	}
	return ssh.PublicKeys(signer), nil
}

func (r SSHRunner) hostKeys() (ssh.HostKeyCallback, error) {
	if r.InsecureSkipHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts_path unset and no home dir: %w", ErrRunnerConfig, err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}
