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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/manish59/Pangolin/connections/base"
)

// DefaultPort is the standard SSH port
const DefaultPort = 22

// AuthMethod selects how the client authenticates
type AuthMethod string

const (
	AuthPassword  AuthMethod = "password"
	AuthPublicKey AuthMethod = "publickey"
	AuthAgent     AuthMethod = "agent"
)

// Config extends the base connection config for SSH hosts
type Config struct {
	base.ConnectionConfig

	AuthMethod AuthMethod
	Port       int

	// PrivateKey holds PEM key material; KeyFile is read when it is empty.
	PrivateKey string
	KeyFile    string
	Passphrase string

	// AgentSocket defaults to $SSH_AUTH_SOCK
	AgentSocket string

	// KnownHostsFile enables host key verification. Without it any host key
	// is accepted.
	KnownHostsFile string

	FailOnStderr bool
}

// NewConfig wraps a base config with SSH defaults
func NewConfig(cfg base.ConnectionConfig) *Config {
	return &Config{
		ConnectionConfig: cfg,
		AuthMethod:       AuthPassword,
		Port:             DefaultPort,
		FailOnStderr:     true,
	}
}

func (c *Config) authError(msg string, cause error) *base.ConnectionError {
	return base.NewConnectionError(c.Name, "validate", base.KindAuthConfig, msg, cause).
		WithDetail("auth_method", string(c.AuthMethod))
}

// Validate checks the base config and the settings of the auth method
func (c *Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation, "host is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation,
			fmt.Sprintf("invalid port %d", c.Port), nil)
	}
	if c.Username == "" {
		return c.authError("username is required for "+string(c.AuthMethod)+" authentication", nil)
	}

	switch c.AuthMethod {
	case AuthPassword:
		if c.Password == "" {
			return c.authError("password is required for password authentication", nil)
		}
	case AuthPublicKey:
		if c.PrivateKey == "" && c.KeyFile == "" {
			return c.authError("private_key or key_file is required for publickey authentication", nil)
		}
		if _, err := c.Signer(); err != nil {
			return err
		}
	case AuthAgent:
		if c.agentSocket() == "" {
			return c.authError("agent socket not set and SSH_AUTH_SOCK is empty", nil)
		}
	default:
		return c.authError(fmt.Sprintf("unsupported authentication method %q", c.AuthMethod), nil)
	}
	return nil
}

// Signer parses the configured private key, decrypting it with the
// passphrase when one is set.
func (c *Config) Signer() (cryptossh.Signer, error) {
	pemBytes := []byte(c.PrivateKey)
	if len(pemBytes) == 0 {
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, c.authError("failed to read key file", err).WithDetail("key_file", c.KeyFile)
		}
		pemBytes = data
	}

	var (
		signer cryptossh.Signer
		err    error
	)
	if c.Passphrase != "" {
		signer, err = cryptossh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(c.Passphrase))
	} else {
		signer, err = cryptossh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		var missing *cryptossh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, c.authError("private key is encrypted and no passphrase was given", err)
		}
		return nil, c.authError("failed to parse private key", err)
	}
	return signer, nil
}

func (c *Config) agentSocket() string {
	if c.AgentSocket != "" {
		return c.AgentSocket
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

// FromSettings builds a Config from flat string settings
func FromSettings(b base.ConnectionConfig, settings map[string]string) (*Config, error) {
	c := NewConfig(b)
	for key, value := range settings {
		switch key {
		case "auth_method":
			c.AuthMethod = AuthMethod(strings.ToLower(value))
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: port: %v", base.ErrInvalidConfig, err)
			}
			c.Port = port
		case "private_key":
			c.PrivateKey = value
		case "key_file", "key_filename":
			c.KeyFile = value
		case "passphrase":
			c.Passphrase = value
		case "agent_socket", "agent_path":
			c.AgentSocket = value
		case "known_hosts_file":
			c.KnownHostsFile = value
		case "fail_on_stderr":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("%w: fail_on_stderr: %v", base.ErrInvalidConfig, err)
			}
			c.FailOnStderr = v
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
