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

package kubernetes

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/manish59/Pangolin/connections/base"
)

const (
	// DefaultNamespace is used when neither the request nor the config names one
	DefaultNamespace = "default"
	// DefaultPort is the API server port used when the host has none
	DefaultPort = 6443
)

// AuthMethod selects how the client authenticates to the API server
type AuthMethod string

const (
	AuthConfig      AuthMethod = "config"
	AuthToken       AuthMethod = "token"
	AuthCertificate AuthMethod = "certificate"
	AuthBasic       AuthMethod = "basic"
)

// Config extends the base connection config for Kubernetes clusters
type Config struct {
	base.ConnectionConfig

	AuthMethod AuthMethod

	// Used by AuthConfig
	KubeconfigPath string
	Context        string
	InCluster      bool

	APIToken       string
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string

	Namespace string
	Port      int
}

// NewConfig wraps a base config with Kubernetes defaults
func NewConfig(cfg base.ConnectionConfig) *Config {
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	return &Config{
		ConnectionConfig: cfg,
		AuthMethod:       AuthConfig,
		Namespace:        DefaultNamespace,
		Port:             DefaultPort,
	}
}

func (c *Config) authError(msg string) error {
	return base.NewConnectionError(c.Name, "validate", base.KindAuthConfig, msg, nil).
		WithDetail("auth_method", string(c.AuthMethod))
}

// Validate checks the base config and the fields required by the auth method
func (c *Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}

	switch c.AuthMethod {
	case AuthConfig:
		if c.KubeconfigPath == "" && !c.InCluster {
			return c.authError("either kubeconfig_path must be provided or in_cluster must be true for config authentication")
		}
		return nil
	case AuthToken:
		if c.APIToken == "" {
			return c.authError("api_token is required for token authentication")
		}
	case AuthCertificate:
		if c.ClientCertPath == "" || c.ClientKeyPath == "" {
			return c.authError("client_cert_path and client_key_path are required for certificate authentication")
		}
	case AuthBasic:
		if c.Username == "" || c.Password == "" {
			return c.authError("username and password are required for basic authentication")
		}
	default:
		return c.authError(fmt.Sprintf("unsupported authentication method %q", c.AuthMethod))
	}

	if c.Host == "" {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation,
			"host is required for "+string(c.AuthMethod)+" authentication", nil)
	}
	return nil
}

// ServerURL returns the API server URL, adding https and the port when the
// host carries neither.
func (c *Config) ServerURL() string {
	host := c.Host
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return "https://" + host
}

// RestConfig builds the client-go configuration for the auth method
func (c *Config) RestConfig() (*rest.Config, error) {
	var (
		rc  *rest.Config
		err error
	)

	switch c.AuthMethod {
	case AuthConfig:
		if c.InCluster {
			rc, err = rest.InClusterConfig()
		} else {
			rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: c.KubeconfigPath}
			overrides := &clientcmd.ConfigOverrides{CurrentContext: c.Context}
			rc, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		}
		if err != nil {
			return nil, base.NewConnectionError(c.Name, "connect", base.KindAuthConfig, "failed to load kubeconfig", err).
				WithDetail("kubeconfig_path", c.KubeconfigPath).
				WithDetail("in_cluster", c.InCluster)
		}
	default:
		rc = &rest.Config{
			Host: c.ServerURL(),
			TLSClientConfig: rest.TLSClientConfig{
				Insecure: !c.SSLVerify,
				CAFile:   c.CACertPath,
			},
		}
		switch c.AuthMethod {
		case AuthToken:
			rc.BearerToken = c.APIToken
		case AuthCertificate:
			rc.TLSClientConfig.CertFile = c.ClientCertPath
			rc.TLSClientConfig.KeyFile = c.ClientKeyPath
		case AuthBasic:
			rc.Username = c.Username
			rc.Password = c.Password
		}
		// client-go refuses a CA bundle combined with insecure mode.
		if rc.TLSClientConfig.Insecure {
			rc.TLSClientConfig.CAFile = ""
		}
	}

	if c.Timeout > 0 {
		rc.Timeout = c.Timeout
	}
	return rc, nil
}

// FromSettings builds a Config from flat string settings
func FromSettings(b base.ConnectionConfig, settings map[string]string) (*Config, error) {
	c := NewConfig(b)
	for key, value := range settings {
		var err error
		switch key {
		case "auth_method":
			c.AuthMethod = AuthMethod(strings.ToLower(value))
		case "kubeconfig_path":
			c.KubeconfigPath = value
		case "context":
			c.Context = value
		case "in_cluster":
			c.InCluster, err = strconv.ParseBool(value)
		case "api_token":
			c.APIToken = value
		case "ca_cert_path":
			c.CACertPath = value
		case "client_cert_path":
			c.ClientCertPath = value
		case "client_key_path":
			c.ClientKeyPath = value
		case "namespace":
			c.Namespace = value
		case "port":
			c.Port, err = strconv.Atoi(value)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: setting %s: %v", base.ErrInvalidConfig, key, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
