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

// Package config loads connection definitions from YAML files and the
// environment, and resolves their credentials from a secret store.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manish59/Pangolin/connections/base"
)

// Backends accepted in the backend field
var Backends = []string{"api", "aws", "database", "kubernetes", "ssh"}

// File is the root of a connections file
type File struct {
	Version     string                     `yaml:"version"`
	Connections map[string]*ConnectionSpec `yaml:"connections"`
}

// ConnectionSpec describes one named connection. Unset optional fields keep
// the builder defaults; backend-specific keys go in Settings.
type ConnectionSpec struct {
	Name    string `yaml:"-" ignored:"true"`
	Backend string `yaml:"backend" split_words:"true"`
	Enabled *bool  `yaml:"enabled,omitempty" split_words:"true"`
	Host    string `yaml:"host,omitempty" split_words:"true"`

	Timeout       *time.Duration `yaml:"timeout,omitempty" split_words:"true"`
	MaxRetries    *int           `yaml:"max_retries,omitempty" split_words:"true"`
	RetryInterval *time.Duration `yaml:"retry_interval,omitempty" split_words:"true"`
	RetryBackoff  *float64       `yaml:"retry_backoff,omitempty" split_words:"true"`
	RetryJitter   *bool          `yaml:"retry_jitter,omitempty" split_words:"true"`

	Username   string `yaml:"username,omitempty" split_words:"true"`
	Password   string `yaml:"password,omitempty" split_words:"true"`
	SSLEnabled *bool  `yaml:"ssl_enabled,omitempty" split_words:"true"`
	SSLVerify  *bool  `yaml:"ssl_verify,omitempty" split_words:"true"`

	// SecretRef names a secret whose keys fill in credentials and settings
	SecretRef string            `yaml:"secret_ref,omitempty" split_words:"true"`
	Settings  map[string]string `yaml:"settings,omitempty" split_words:"true"`
}

// IsEnabled reports whether the connection should be built. Absent means yes.
func (s *ConnectionSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate checks the fields every backend needs
func (s *ConnectionSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: connection name is required", base.ErrInvalidConfig)
	}
	if s.Backend == "" {
		return fmt.Errorf("%w: connection %q must specify a backend", base.ErrInvalidConfig, s.Name)
	}
	i := sort.SearchStrings(Backends, s.Backend)
	if i == len(Backends) || Backends[i] != s.Backend {
		return fmt.Errorf("%w: connection %q has unknown backend %q (want one of %s)",
			base.ErrInvalidConfig, s.Name, s.Backend, strings.Join(Backends, ", "))
	}
	return nil
}

// BaseConfig builds the shared connection config, applying only the fields
// the ConnectionSpec sets over the builder defaults.
func (s *ConnectionSpec) BaseConfig() (base.ConnectionConfig, error) {
	b := base.NewConfigBuilder(s.Name, s.Host).
		WithCredentials(s.Username, s.Password).
		WithOptions(s.Settings)
	if s.Timeout != nil {
		b.WithTimeout(*s.Timeout)
	}
	if s.MaxRetries != nil {
		b.WithMaxRetries(*s.MaxRetries)
	}
	if s.RetryInterval != nil {
		b.WithRetryInterval(*s.RetryInterval)
	}
	if s.RetryBackoff != nil {
		b.WithRetryBackoff(*s.RetryBackoff)
	}
	if s.RetryJitter != nil {
		b.WithRetryJitter(*s.RetryJitter)
	}
	enabled, verify := true, true
	if s.SSLEnabled != nil {
		enabled = *s.SSLEnabled
	}
	if s.SSLVerify != nil {
		verify = *s.SSLVerify
	}
	b.WithSSL(enabled, verify)
	return b.Build()
}

// Clone returns a copy whose Settings map can be modified independently
func (s *ConnectionSpec) Clone() *ConnectionSpec {
	c := *s
	c.Settings = make(map[string]string, len(s.Settings))
	for k, v := range s.Settings {
		c.Settings[k] = v
	}
	return &c
}

// LoadFile reads, expands and validates a connections file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references in data and decodes it
func Parse(data []byte) (*File, error) {
	expanded := expandEnvVars(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", base.ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate names every connection after its key and checks each one
func (f *File) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("%w: config file must specify a version", base.ErrInvalidConfig)
	}
	for _, name := range f.Names() {
		spec := f.Connections[name]
		if spec == nil {
			return fmt.Errorf("%w: connection %q is empty", base.ErrInvalidConfig, name)
		}
		spec.Name = name
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Names lists the connection names in sorted order
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Connections))
	for name := range f.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled returns the enabled specs in name order
func (f *File) Enabled() []*ConnectionSpec {
	var specs []*ConnectionSpec
	for _, name := range f.Names() {
		if spec := f.Connections[name]; spec.IsEnabled() {
			specs = append(specs, spec)
		}
	}
	return specs
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR}, $VAR and ${VAR:-default}. Undefined
// variables without a default become empty.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		def := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			def = name[idx+2:]
			name = name[:idx]
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return def
	})
}
