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
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

const (
	testUser     = "deploy"
	testPassword = "hunter2"
)

type testServer struct {
	addr    string
	hostKey cryptossh.PublicKey
}

func generateKey(t *testing.T) (ed25519.PrivateKey, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return priv, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// startServer runs an in-process SSH server that accepts the test password
// and any of the authorized keys. Supported commands:
//
//	echo <text>   writes text to stdout
//	warn <text>   writes text to stderr
//	exit <n>      exits with status n
//	cat           copies stdin to stdout
//	hang          blocks until the channel closes
func startServer(t *testing.T, authorized ...cryptossh.PublicKey) *testServer {
	t.Helper()

	hostPriv, _ := generateKey(t)
	hostSigner, err := cryptossh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &cryptossh.ServerConfig{
		PasswordCallback: func(conn cryptossh.ConnMetadata, password []byte) (*cryptossh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &cryptossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
		PublicKeyCallback: func(conn cryptossh.ConnMetadata, key cryptossh.PublicKey) (*cryptossh.Permissions, error) {
			for _, k := range authorized {
				if cryptossh.FingerprintSHA256(k) == cryptossh.FingerprintSHA256(key) {
					return &cryptossh.Permissions{}, nil
				}
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		conns   []net.Conn
		connsMu sync.Mutex
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			connsMu.Lock()
			conns = append(conns, netConn)
			connsMu.Unlock()
			go serveConn(netConn, config)
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		connsMu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		connsMu.Unlock()
		<-done
	})

	return &testServer{addr: listener.Addr().String(), hostKey: hostSigner.PublicKey()}
}

func serveConn(netConn net.Conn, config *cryptossh.ServerConfig) {
	sshConn, chans, reqs, err := cryptossh.NewServerConn(netConn, config)
	if err != nil {
		_ = netConn.Close()
		return
	}
	defer func() { _ = sshConn.Close() }()
	go cryptossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(cryptossh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch cryptossh.Channel, requests <-chan *cryptossh.Request) {
	defer func() { _ = ch.Close() }()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := cryptossh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		verb, arg, _ := strings.Cut(payload.Command, " ")
		status := 0
		switch verb {
		case "echo":
			_, _ = io.WriteString(ch, arg+"\n")
		case "warn":
			_, _ = io.WriteString(ch.Stderr(), arg+"\n")
		case "exit":
			status, _ = strconv.Atoi(arg)
			_, _ = io.WriteString(ch.Stderr(), "failing\n")
		case "cat":
			_, _ = io.Copy(ch, ch)
		case "hang":
			for r := range requests {
				if r.WantReply {
					_ = r.Reply(false, nil)
				}
			}
			return
		default:
			_, _ = io.WriteString(ch.Stderr(), "command not found\n")
			status = 127
		}
		_, _ = ch.SendRequest("exit-status", false, cryptossh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func (s *testServer) config(t *testing.T) *Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	b := base.NewConfigBuilder("test-ssh", host).
		WithCredentials(testUser, testPassword).
		WithMaxRetries(0).
		WithRetryInterval(time.Millisecond).
		WithTimeout(5 * time.Second).
		MustBuild()
	cfg := NewConfig(b)
	cfg.Port = port
	return cfg
}

func newConn(t *testing.T, cfg *Config) *Connection {
	t.Helper()
	conn, err := New(cfg, nil, sdk.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })
	return conn
}

func TestPasswordConnectAndExecute(t *testing.T) {
	srv := startServer(t)
	conn := newConn(t, srv.config(t))

	out, err := conn.Execute(context.Background(), Command{Cmd: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Empty(t, out.Stderr)
	assert.Equal(t, 0, out.ExitStatus)
	assert.Equal(t, base.StatusConnected, conn.Status())

	require.NoError(t, conn.Disconnect(context.Background()))
	assert.Equal(t, base.StatusDisconnected, conn.Status())
}

func TestWrongPasswordIsAuthError(t *testing.T) {
	srv := startServer(t)
	cfg := srv.config(t)
	cfg.Password = "nope"
	conn := newConn(t, cfg)

	_, err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, base.KindAuthConfig, base.KindOf(err))
	assert.Equal(t, base.StatusError, conn.Status())
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	b := base.NewConfigBuilder("closed", "127.0.0.1").
		WithCredentials(testUser, testPassword).
		WithMaxRetries(0).
		MustBuild()
	cfg := NewConfig(b)
	cfg.Port = addr.Port
	conn := newConn(t, cfg)

	_, err = conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, base.KindTransport, base.KindOf(err))
}

func TestPublicKeyAuth(t *testing.T) {
	priv, pemBytes := generateKey(t)
	signer, err := cryptossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	srv := startServer(t, signer.PublicKey())

	t.Run("inline key", func(t *testing.T) {
		cfg := srv.config(t)
		cfg.AuthMethod = AuthPublicKey
		cfg.Password = ""
		cfg.PrivateKey = string(pemBytes)

		out, err := newConn(t, cfg).Execute(context.Background(), Command{Cmd: "echo key"})
		require.NoError(t, err)
		assert.Equal(t, "key\n", out.Stdout)
	})

	t.Run("encrypted key file", func(t *testing.T) {
		block, err := cryptossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("open sesame"))
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

		cfg := srv.config(t)
		cfg.AuthMethod = AuthPublicKey
		cfg.KeyFile = path
		cfg.Passphrase = "open sesame"

		_, err = newConn(t, cfg).Connect(context.Background())
		require.NoError(t, err)
	})

	t.Run("encrypted key without passphrase", func(t *testing.T) {
		block, err := cryptossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("open sesame"))
		require.NoError(t, err)

		cfg := srv.config(t)
		cfg.AuthMethod = AuthPublicKey
		cfg.PrivateKey = string(pem.EncodeToMemory(block))

		err = cfg.Validate()
		require.Error(t, err)
		assert.Equal(t, base.KindAuthConfig, base.KindOf(err))
	})
}

func TestAgentAuth(t *testing.T) {
	priv, _ := generateKey(t)
	signer, err := cryptossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	srv := startServer(t, signer.PublicKey())

	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: priv}))

	dir, err := os.MkdirTemp("", "agent")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "agent.sock")
	listener, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			c, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = c.Close() }()
				_ = agent.ServeAgent(keyring, c)
			}()
		}
	}()

	cfg := srv.config(t)
	cfg.AuthMethod = AuthAgent
	cfg.AgentSocket = sock

	out, err := newConn(t, cfg).Execute(context.Background(), Command{Cmd: "echo agent"})
	require.NoError(t, err)
	assert.Equal(t, "agent\n", out.Stdout)
}

func TestKnownHosts(t *testing.T) {
	srv := startServer(t)

	write := func(t *testing.T, key cryptossh.PublicKey) string {
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{srv.addr}, key)
		require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
		return path
	}

	t.Run("matching key", func(t *testing.T) {
		cfg := srv.config(t)
		cfg.KnownHostsFile = write(t, srv.hostKey)
		_, err := newConn(t, cfg).Connect(context.Background())
		require.NoError(t, err)
	})

	t.Run("mismatched key", func(t *testing.T) {
		other, _ := generateKey(t)
		otherSigner, err := cryptossh.NewSignerFromKey(other)
		require.NoError(t, err)

		cfg := srv.config(t)
		cfg.KnownHostsFile = write(t, otherSigner.PublicKey())
		_, err = newConn(t, cfg).Connect(context.Background())
		require.Error(t, err)
	})
}

func TestCommandFailures(t *testing.T) {
	srv := startServer(t)

	t.Run("non-zero exit", func(t *testing.T) {
		conn := newConn(t, srv.config(t))
		_, err := conn.Execute(context.Background(), Command{Cmd: "exit 3"})
		require.Error(t, err)

		ee, ok := base.AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, base.KindCommandFailed, ee.Kind)
		assert.Equal(t, 3, ee.Details["exit_status"])
		assert.Equal(t, "exit 3", ee.Details["command"])
		assert.Equal(t, base.StatusError, conn.Status())
		assert.False(t, conn.IsConnected())
	})

	t.Run("stderr fails by default", func(t *testing.T) {
		conn := newConn(t, srv.config(t))
		_, err := conn.Execute(context.Background(), Command{Cmd: "warn careful"})
		require.Error(t, err)
		assert.Equal(t, base.KindCommandFailed, base.KindOf(err))
		assert.Equal(t, 0, base.DetailsOf(err)["exit_status"])
	})

	t.Run("stderr allowed", func(t *testing.T) {
		cfg := srv.config(t)
		cfg.FailOnStderr = false
		out, err := newConn(t, cfg).Execute(context.Background(), Command{Cmd: "warn careful"})
		require.NoError(t, err)
		assert.Equal(t, "careful\n", out.Stderr)
	})

	t.Run("reconnects after failure", func(t *testing.T) {
		conn := newConn(t, srv.config(t))
		_, err := conn.Execute(context.Background(), Command{Cmd: "exit 1"})
		require.Error(t, err)

		out, err := conn.Execute(context.Background(), Command{Cmd: "echo again"})
		require.NoError(t, err)
		assert.Equal(t, "again\n", out.Stdout)
		assert.Equal(t, int64(2), conn.Metrics().TotalConnections)
	})
}

func TestStdin(t *testing.T) {
	srv := startServer(t)
	out, err := newConn(t, srv.config(t)).Execute(context.Background(), Command{Cmd: "cat", Stdin: "piped input"})
	require.NoError(t, err)
	assert.Equal(t, "piped input", out.Stdout)
}

func TestExecuteHonorsContext(t *testing.T) {
	srv := startServer(t)
	conn := newConn(t, srv.config(t))
	_, err := conn.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = conn.Execute(ctx, Command{Cmd: "hang"})
	require.Error(t, err)
	assert.Equal(t, base.KindTimeout, base.KindOf(err))
}

func TestValidate(t *testing.T) {
	b := base.NewConfigBuilder("v", "example.com").WithCredentials("u", "p").MustBuild()

	tests := []struct {
		name   string
		mutate func(*Config)
		kind   base.ErrorKind
	}{
		{"password ok", func(c *Config) {}, ""},
		{"missing password", func(c *Config) { c.Password = "" }, base.KindAuthConfig},
		{"missing username", func(c *Config) { c.Username = "" }, base.KindAuthConfig},
		{"missing host", func(c *Config) { c.Host = "" }, base.KindValidation},
		{"bad port", func(c *Config) { c.Port = 70000 }, base.KindValidation},
		{"publickey without key", func(c *Config) { c.AuthMethod = AuthPublicKey }, base.KindAuthConfig},
		{"publickey garbage", func(c *Config) {
			c.AuthMethod = AuthPublicKey
			c.PrivateKey = "not a key"
		}, base.KindAuthConfig},
		{"agent with socket", func(c *Config) {
			c.AuthMethod = AuthAgent
			c.AgentSocket = "/tmp/agent.sock"
		}, ""},
		{"unknown method", func(c *Config) { c.AuthMethod = "kerberos" }, base.KindAuthConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(b)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, base.KindOf(err))
		})
	}
}

func TestFromSettings(t *testing.T) {
	b := base.NewConfigBuilder("s", "example.com").WithCredentials("u", "p").MustBuild()
	cfg, err := FromSettings(b, map[string]string{
		"port":           "2222",
		"fail_on_stderr": "false",
	})
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.Port)
	assert.False(t, cfg.FailOnStderr)
	assert.Equal(t, AuthPassword, cfg.AuthMethod)

	_, err = FromSettings(b, map[string]string{"port": "ssh"})
	assert.ErrorIs(t, err, base.ErrInvalidConfig)
}
