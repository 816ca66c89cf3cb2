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

package base

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied by NewConfigBuilder
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 5 * time.Second
	DefaultRetryBackoff  = 1.5
)

// ConnectionConfig holds the settings shared by every backend. It is built
// once through ConfigBuilder and passed by value afterwards.
type ConnectionConfig struct {
	Name          string            `json:"name"`
	Host          string            `json:"host"`
	Timeout       time.Duration     `json:"timeout"`
	MaxRetries    int               `json:"max_retries"`
	RetryInterval time.Duration     `json:"retry_interval"`
	RetryBackoff  float64           `json:"retry_backoff"`
	RetryJitter   bool              `json:"retry_jitter"`
	Username      string            `json:"username,omitempty"`
	Password      string            `json:"-"`
	SSLEnabled    bool              `json:"ssl_enabled"`
	SSLVerify     bool              `json:"ssl_verify"`
	Options       map[string]string `json:"options,omitempty"`
}

// Validate checks the invariants every lifecycle relies on
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry_interval must be > 0, got %s", ErrInvalidConfig, c.RetryInterval)
	}
	if c.RetryBackoff < 1.0 {
		return fmt.Errorf("%w: retry_backoff must be >= 1.0, got %g", ErrInvalidConfig, c.RetryBackoff)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option returns a backend option and whether it was set
func (c ConnectionConfig) Option(key string) (string, bool) {
	v, ok := c.Options[key]
	return v, ok
}

// Summary returns the non-secret subset of the config used in debug output.
// Credentials and free-form options are never included.
func (c ConnectionConfig) Summary() map[string]interface{} {
	return map[string]interface{}{
		"name":           c.Name,
		"host":           c.Host,
		"timeout":        c.Timeout.Seconds(),
		"max_retries":    c.MaxRetries,
		"retry_interval": c.RetryInterval.Seconds(),
		"retry_backoff":  c.RetryBackoff,
		"retry_jitter":   c.RetryJitter,
		"ssl_enabled":    c.SSLEnabled,
		"ssl_verify":     c.SSLVerify,
	}
}

// ConfigBuilder assembles a ConnectionConfig with defaults applied
type ConfigBuilder struct {
	cfg ConnectionConfig
}

// NewConfigBuilder starts a config with the package defaults
func NewConfigBuilder(name, host string) *ConfigBuilder {
	return &ConfigBuilder{cfg: ConnectionConfig{
		Name:          name,
		Host:          host,
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryInterval: DefaultRetryInterval,
		RetryBackoff:  DefaultRetryBackoff,
		RetryJitter:   true,
		SSLEnabled:    true,
		SSLVerify:     true,
		Options:       make(map[string]string),
	}}
}

// WithTimeout sets the per-operation timeout
func (b *ConfigBuilder) WithTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Timeout = d
	return b
}

// WithMaxRetries sets how many times connect retries after the first attempt
func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.cfg.MaxRetries = n
	return b
}

// WithRetryInterval sets the delay after the first failed attempt
func (b *ConfigBuilder) WithRetryInterval(d time.Duration) *ConfigBuilder {
	b.cfg.RetryInterval = d
	return b
}

// WithRetryBackoff sets the multiplier applied to the delay per attempt
func (b *ConfigBuilder) WithRetryBackoff(multiplier float64) *ConfigBuilder {
	b.cfg.RetryBackoff = multiplier
	return b
}

// WithRetryJitter toggles the random [0.5, 1.5) delay factor
func (b *ConfigBuilder) WithRetryJitter(enabled bool) *ConfigBuilder {
	b.cfg.RetryJitter = enabled
	return b
}

// WithCredentials sets username and password
func (b *ConfigBuilder) WithCredentials(username, password string) *ConfigBuilder {
	b.cfg.Username = username
	b.cfg.Password = password
	return b
}

// WithSSL sets whether TLS is used and whether certificates are verified
func (b *ConfigBuilder) WithSSL(enabled, verify bool) *ConfigBuilder {
	b.cfg.SSLEnabled = enabled
	b.cfg.SSLVerify = verify
	return b
}

// WithOption sets one backend option
func (b *ConfigBuilder) WithOption(key, value string) *ConfigBuilder {
	b.cfg.Options[key] = value
	return b
}

// WithOptions merges opts into the backend options
func (b *ConfigBuilder) WithOptions(opts map[string]string) *ConfigBuilder {
	for k, v := range opts {
		b.cfg.Options[k] = v
	}
	return b
}

// Build validates and returns an independent copy of the config
func (b *ConfigBuilder) Build() (ConnectionConfig, error) {
	cfg := b.cfg
	cfg.Options = make(map[string]string, len(b.cfg.Options))
	for k, v := range b.cfg.Options {
		cfg.Options[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

// MustBuild is Build for static configs in tests and examples
func (b *ConfigBuilder) MustBuild() ConnectionConfig {
	cfg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return cfg
}
