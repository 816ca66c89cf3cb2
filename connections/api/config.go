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

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/manish59/Pangolin/connections/base"
)

const (
	// DefaultMaxResponseSize is the maximum response body size (10MB)
	DefaultMaxResponseSize = 10 * 1024 * 1024
	// DefaultUserAgent is sent when no User-Agent header is configured
	DefaultUserAgent = "Pangolin-APIClient/1.0"
)

// AuthMethod selects how requests are authenticated
type AuthMethod string

const (
	AuthNone   AuthMethod = "none"
	AuthBasic  AuthMethod = "basic"
	AuthBearer AuthMethod = "bearer"
	AuthJWT    AuthMethod = "jwt"
	AuthAPIKey AuthMethod = "api_key"
	AuthOAuth2 AuthMethod = "oauth2"
	AuthDigest AuthMethod = "digest"
	AuthHMAC   AuthMethod = "hmac"
)

// HeaderRequirement states whether a header must be present
type HeaderRequirement string

const (
	HeaderRequired    HeaderRequirement = "required"
	HeaderOptional    HeaderRequirement = "optional"
	HeaderConditional HeaderRequirement = "conditional"
)

// HeaderDefinition describes an API header and its constraints
type HeaderDefinition struct {
	Name          string            `json:"name" yaml:"name"`
	Requirement   HeaderRequirement `json:"requirement" yaml:"requirement"`
	DefaultValue  string            `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	AllowedValues []string          `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	Pattern       string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Config extends the base connection config for HTTP APIs
type Config struct {
	base.ConnectionConfig

	AuthMethod AuthMethod
	AuthToken  string

	APIKey         string
	APIKeyName     string
	APIKeyLocation string // "header" or "query"

	HMACKey       string
	HMACSecret    string
	HMACAlgorithm string // sha1, sha256 or sha512

	OAuthClientID     string
	OAuthClientSecret string
	OAuthScope        string

	DefaultHeaders    map[string]string
	HeaderDefinitions []HeaderDefinition

	MaxResponseSize int64
}

// NewConfig wraps a base config with API defaults
func NewConfig(cfg base.ConnectionConfig) *Config {
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	return &Config{
		ConnectionConfig: cfg,
		AuthMethod:       AuthNone,
		APIKeyLocation:   "header",
		HMACAlgorithm:    "sha256",
		DefaultHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		HeaderDefinitions: DefaultHeaderDefinitions(),
		MaxResponseSize:   DefaultMaxResponseSize,
	}
}

// DefaultHeaderDefinitions returns the definitions applied when none are configured
func DefaultHeaderDefinitions() []HeaderDefinition {
	contentTypes := []string{"application/json", "application/xml", "text/plain"}
	return []HeaderDefinition{
		{
			Name:          "Content-Type",
			Requirement:   HeaderRequired,
			DefaultValue:  "application/json",
			AllowedValues: contentTypes,
			Description:   "The content type of the request body",
		},
		{
			Name:          "Accept",
			Requirement:   HeaderRequired,
			DefaultValue:  "application/json",
			AllowedValues: contentTypes,
			Description:   "The expected response content type",
		},
		{
			Name:         "User-Agent",
			Requirement:  HeaderOptional,
			DefaultValue: DefaultUserAgent,
			Description:  "Client identification",
		},
	}
}

func (c *Config) authError(msg string, cause error) error {
	return base.NewConnectionError(c.Name, "validate", base.KindAuthConfig, msg, cause).
		WithDetail("auth_method", string(c.AuthMethod))
}

// Validate checks the base config, the host URL, the auth settings and the headers
func (c *Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}

	u, err := url.Parse(c.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation,
			"host must be an absolute http or https URL", err).WithDetail("host", c.Host)
	}

	switch c.AuthMethod {
	case AuthNone, "":
	case AuthBasic, AuthDigest:
		if c.Username == "" || c.Password == "" {
			return c.authError("username and password required for "+string(c.AuthMethod)+" authentication", nil)
		}
	case AuthBearer:
		if c.AuthToken == "" {
			return c.authError("token required for bearer authentication", nil)
		}
	case AuthJWT:
		if c.AuthToken == "" {
			return c.authError("JWT token required for JWT authentication", nil)
		}
		// Format check only; the server verifies the signature.
		if _, _, err := jwt.NewParser().ParseUnverified(c.AuthToken, jwt.MapClaims{}); err != nil {
			return c.authError("invalid JWT token format", err)
		}
	case AuthAPIKey:
		if c.APIKey == "" || c.APIKeyName == "" {
			return c.authError("API key and key name required for API key authentication", nil)
		}
		if c.APIKeyLocation != "header" && c.APIKeyLocation != "query" {
			return c.authError("api_key_location must be header or query", nil)
		}
	case AuthOAuth2:
		if c.OAuthClientID == "" || c.OAuthClientSecret == "" {
			return c.authError("client ID and secret required for OAuth2", nil)
		}
	case AuthHMAC:
		if c.HMACKey == "" || c.HMACSecret == "" {
			return c.authError("key and secret required for HMAC authentication", nil)
		}
		if _, ok := hmacHashes[strings.ToLower(c.HMACAlgorithm)]; !ok {
			return c.authError("unsupported HMAC algorithm "+c.HMACAlgorithm, nil)
		}
	default:
		return c.authError("unknown auth method", nil)
	}

	_, err = c.ResolveHeaders()
	return err
}

// ResolveHeaders merges default headers with header definition defaults
// and checks every definition's constraints.
func (c *Config) ResolveHeaders() (map[string]string, error) {
	headers := make(map[string]string, len(c.DefaultHeaders)+len(c.HeaderDefinitions))
	for k, v := range c.DefaultHeaders {
		headers[k] = v
	}

	for _, def := range c.HeaderDefinitions {
		value, ok := headers[def.Name]
		if !ok && def.DefaultValue != "" {
			value = def.DefaultValue
			headers[def.Name] = value
		}
		if value == "" {
			if def.Requirement == HeaderRequired {
				return nil, base.NewConnectionError(c.Name, "validate", base.KindValidation,
					fmt.Sprintf("header %s is required", def.Name), nil)
			}
			continue
		}
		if len(def.AllowedValues) > 0 && !contains(def.AllowedValues, value) {
			return nil, base.NewConnectionError(c.Name, "validate", base.KindValidation,
				fmt.Sprintf("header %s value %q not allowed", def.Name, value), nil).
				WithDetail("allowed_values", def.AllowedValues)
		}
		if def.Pattern != "" {
			re, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, base.NewConnectionError(c.Name, "validate", base.KindValidation,
					fmt.Sprintf("header %s has invalid pattern", def.Name), err)
			}
			if !re.MatchString(value) {
				return nil, base.NewConnectionError(c.Name, "validate", base.KindValidation,
					fmt.Sprintf("header %s value %q does not match %s", def.Name, value, def.Pattern), nil)
			}
		}
	}
	return headers, nil
}

// FullURL joins endpoint onto the host
func (c *Config) FullURL(endpoint string) string {
	if endpoint == "" {
		return c.Host
	}
	return c.Host + "/" + strings.TrimLeft(endpoint, "/")
}

// FromSettings builds a Config from flat string settings as found in
// config files and environment variables. Keys prefixed with "header."
// add default headers.
func FromSettings(b base.ConnectionConfig, settings map[string]string) (*Config, error) {
	c := NewConfig(b)
	for key, value := range settings {
		switch key {
		case "auth_method":
			c.AuthMethod = AuthMethod(strings.ToLower(value))
		case "auth_token":
			c.AuthToken = value
		case "api_key":
			c.APIKey = value
		case "api_key_name":
			c.APIKeyName = value
		case "api_key_location":
			c.APIKeyLocation = strings.ToLower(value)
		case "hmac_key":
			c.HMACKey = value
		case "hmac_secret":
			c.HMACSecret = value
		case "hmac_algorithm":
			c.HMACAlgorithm = strings.ToLower(value)
		case "oauth_client_id":
			c.OAuthClientID = value
		case "oauth_client_secret":
			c.OAuthClientSecret = value
		case "oauth_scope":
			c.OAuthScope = value
		case "max_response_size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: max_response_size must be a positive integer", base.ErrInvalidConfig)
			}
			c.MaxResponseSize = n
		default:
			if name, ok := strings.CutPrefix(key, "header."); ok {
				c.DefaultHeaders[http.CanonicalHeaderKey(name)] = value
			}
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
