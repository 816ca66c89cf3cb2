// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

// BackendName identifies the SSH backend
const BackendName = "ssh"

// Client is the native handle of an SSH connection
type Client struct {
	SSH *cryptossh.Client

	agentConn net.Conn
}

// Command is one remote command
type Command struct {
	Cmd   string `json:"cmd"`
	Stdin string `json:"stdin,omitempty"`
}

// Output is the result of a successful command
type Output struct {
	Stdout     string  `json:"stdout"`
	Stderr     string  `json:"stderr"`
	ExitStatus int     `json:"exit_status"`
	DurationMS float64 `json:"duration_ms"`
}

// Connection is the lifecycle-managed SSH connection
type Connection = sdk.Connection[*Client, Command, *Output]

// Driver implements the SSH primitives over golang.org/x/crypto/ssh
type Driver struct {
	cfg    *Config
	dialer func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithDialer replaces the TCP dialer
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) DriverOption {
	return func(d *Driver) { d.dialer = dial }
}

// NewDriver creates the SSH driver for cfg
func NewDriver(cfg *Config, opts ...DriverOption) *Driver {
	d := &Driver{cfg: cfg, now: time.Now}
	d.dialer = (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New validates cfg and returns a lifecycle-managed SSH connection
func New(cfg *Config, driverOpts []DriverOption, opts ...sdk.Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sdk.New[*Client, Command, *Output](cfg.ConnectionConfig, NewDriver(cfg, driverOpts...), opts...)
}

// Backend implements base.Driver
func (d *Driver) Backend() string { return BackendName }

func (d *Driver) addr() string {
	return net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
}

func (d *Driver) connectError(kind base.ErrorKind, msg string, cause error) *base.ConnectionError {
	return base.NewConnectionError(d.cfg.Name, "connect", kind, msg, cause).
		WithDetail("host", d.cfg.Host).
		WithDetail("port", d.cfg.Port).
		WithDetail("auth_method", string(d.cfg.AuthMethod))
}

// ConnectImpl dials the host and completes the SSH handshake
func (d *Driver) ConnectImpl(ctx context.Context) (*Client, error) {
	client := &Client{}

	var auth cryptossh.AuthMethod
	switch d.cfg.AuthMethod {
	case AuthPassword:
		auth = cryptossh.Password(d.cfg.Password)
	case AuthPublicKey:
		signer, err := d.cfg.Signer()
		if err != nil {
			return nil, err
		}
		auth = cryptossh.PublicKeys(signer)
	case AuthAgent:
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "unix", d.cfg.agentSocket())
		if err != nil {
			return nil, d.connectError(base.KindAuthConfig, "failed to reach ssh agent", err)
		}
		client.agentConn = conn
		auth = cryptossh.PublicKeysCallback(agent.NewClient(conn).Signers)
	default:
		return nil, d.connectError(base.KindAuthConfig, "unsupported authentication method", nil)
	}

	hostKeyCallback := cryptossh.InsecureIgnoreHostKey()
	if d.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(d.cfg.KnownHostsFile)
		if err != nil {
			client.closeAgent()
			return nil, d.connectError(base.KindValidation, "failed to load known hosts", err)
		}
		hostKeyCallback = cb
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            d.cfg.Username,
		Auth:            []cryptossh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.cfg.Timeout,
	}

	addr := d.addr()
	netConn, err := d.dialer(ctx, "tcp", addr)
	if err != nil {
		client.closeAgent()
		return nil, d.connectError(dialKind(err), fmt.Sprintf("dial %s failed", addr), err)
	}

	// The handshake has no context parameter; bound it with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	} else if d.cfg.Timeout > 0 {
		_ = netConn.SetDeadline(d.now().Add(d.cfg.Timeout))
	}

	sshConn, chans, reqs, err := cryptossh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		_ = netConn.Close()
		client.closeAgent()
		return nil, d.connectError(handshakeKind(err), fmt.Sprintf("ssh handshake with %s failed", addr), err)
	}
	_ = netConn.SetDeadline(time.Time{})

	client.SSH = cryptossh.NewClient(sshConn, chans, reqs)
	return client, nil
}

// ExecuteImpl runs cmd in a fresh session. A non-zero exit, or any stderr
// output when FailOnStderr is set, is an ExecutionError.
func (d *Driver) ExecuteImpl(ctx context.Context, client *Client, cmd Command) (*Output, error) {
	if strings.TrimSpace(cmd.Cmd) == "" {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, "empty command", nil)
	}

	session, err := client.SSH.NewSession()
	if err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindTransport, "failed to open session", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	start := d.now()
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd.Cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(cryptossh.SIGKILL)
		_ = session.Close()
		<-done
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindOf(ctx.Err()), "command interrupted", ctx.Err()).
			WithDetail("command", cmd.Cmd)
	}

	out := &Output{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: float64(d.now().Sub(start)) / float64(time.Millisecond),
	}

	var exitErr *cryptossh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitStatus = exitErr.ExitStatus()
		return nil, d.commandFailed(cmd, out, fmt.Sprintf("command exited with status %d", out.ExitStatus), err)
	default:
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindTransport, "command did not complete", err).
			WithDetail("command", cmd.Cmd)
	}

	if d.cfg.FailOnStderr && out.Stderr != "" {
		return nil, d.commandFailed(cmd, out, "command wrote to stderr", nil)
	}
	return out, nil
}

func (d *Driver) commandFailed(cmd Command, out *Output, msg string, cause error) error {
	stderr := out.Stderr
	if len(stderr) > 500 {
		stderr = stderr[:500] + "..."
	}
	return base.NewExecutionError(d.cfg.Name, "execute", base.KindCommandFailed, msg, cause).
		WithDetail("command", cmd.Cmd).
		WithDetail("exit_status", out.ExitStatus).
		WithDetail("stderr", stderr)
}

// DisconnectImpl closes the SSH client and any agent connection
func (d *Driver) DisconnectImpl(ctx context.Context, client *Client) error {
	if client == nil {
		return nil
	}
	client.closeAgent()
	if client.SSH == nil {
		return nil
	}
	if err := client.SSH.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) closeAgent() {
	if c.agentConn != nil {
		_ = c.agentConn.Close()
		c.agentConn = nil
	}
}

func dialKind(err error) base.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return base.KindTimeout
	}
	if k := base.KindOf(err); k == base.KindTimeout || k == base.KindCanceled {
		return k
	}
	return base.KindTransport
}

func handshakeKind(err error) base.ErrorKind {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return base.KindAuthConfig
	}
	return dialKind(err)
}
