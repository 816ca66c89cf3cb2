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

package aws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/manish59/Pangolin/connections/base"
)

// DefaultRegion is used when no region is configured
const DefaultRegion = "us-east-1"

// AuthMethod selects how AWS credentials are obtained
type AuthMethod string

const (
	AuthAccessKey    AuthMethod = "access_key"
	AuthProfile      AuthMethod = "profile"
	AuthInstanceRole AuthMethod = "instance_role"
	AuthWebIdentity  AuthMethod = "web_identity"
	AuthSSO          AuthMethod = "sso"
)

// Service names a supported AWS service
type Service string

const (
	ServiceS3             Service = "s3"
	ServiceSecretsManager Service = "secretsmanager"
	ServiceSTS            Service = "sts"
	ServiceEC2            Service = "ec2"
	ServiceRDS            Service = "rds"
	ServiceIAM            Service = "iam"
)

// Config extends the base connection config for AWS
type Config struct {
	base.ConnectionConfig

	AuthMethod AuthMethod
	Region     string
	Service    Service

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	ProfileName     string
	CredentialsPath string
	ConfigPath      string

	RoleARN              string
	WebIdentityTokenFile string

	SSOAccountID string
	SSORoleName  string
	SSORegion    string
	SSOStartURL  string

	AssumeRoleARN  string
	EndpointURL    string
	ForcePathStyle bool
}

// NewConfig wraps a base config with AWS defaults
func NewConfig(cfg base.ConnectionConfig) *Config {
	return &Config{
		ConnectionConfig: cfg,
		AuthMethod:       AuthAccessKey,
		Region:           DefaultRegion,
		Service:          ServiceS3,
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
	if c.Region == "" {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation, "region is required", nil)
	}
	switch c.Service {
	case ServiceS3, ServiceSecretsManager, ServiceSTS, ServiceEC2, ServiceRDS, ServiceIAM:
	default:
		return base.NewConnectionError(c.Name, "validate", base.KindUnsupported,
			fmt.Sprintf("unsupported service %q", c.Service), nil)
	}

	switch c.AuthMethod {
	case AuthAccessKey:
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return c.authError("access_key_id and secret_access_key are required for access_key authentication")
		}
	case AuthProfile:
		if c.ProfileName == "" {
			return c.authError("profile_name is required for profile authentication")
		}
	case AuthInstanceRole:
	case AuthWebIdentity:
		if c.RoleARN == "" || c.WebIdentityTokenFile == "" {
			return c.authError("role_arn and web_identity_token_file are required for web_identity authentication")
		}
	case AuthSSO:
		if c.SSOAccountID == "" || c.SSORoleName == "" || c.SSORegion == "" || c.SSOStartURL == "" {
			return c.authError("sso_account_id, sso_role_name, sso_region, and sso_start_url are required for sso authentication")
		}
	default:
		return c.authError(fmt.Sprintf("unsupported authentication method %q", c.AuthMethod))
	}
	return nil
}

// LoadAWSConfig resolves an aws.Config for the configured auth method.
// Profile and SSO sessions come from the shared config files; web identity
// and assume-role credentials are exchanged through STS.
func LoadAWSConfig(ctx context.Context, c *Config) (aws.Config, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}

	httpClient := awshttp.NewBuildableClient()
	if c.Timeout > 0 {
		httpClient = httpClient.WithTimeout(c.Timeout)
	}
	if !c.SSLVerify {
		httpClient = httpClient.WithTransportOptions(func(tr *http.Transport) {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ssl_verify=false
		})
	}
	optFns = append(optFns, awsconfig.WithHTTPClient(httpClient))

	if c.CredentialsPath != "" {
		optFns = append(optFns, awsconfig.WithSharedCredentialsFiles([]string{c.CredentialsPath}))
	}
	if c.ConfigPath != "" {
		optFns = append(optFns, awsconfig.WithSharedConfigFiles([]string{c.ConfigPath}))
	}

	switch c.AuthMethod {
	case AuthAccessKey:
		creds := credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	case AuthProfile, AuthSSO:
		if c.ProfileName != "" {
			optFns = append(optFns, awsconfig.WithSharedConfigProfile(c.ProfileName))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, base.NewConnectionError(c.Name, "connect", base.KindAuthConfig, "failed to load AWS config", err).
			WithDetail("auth_method", string(c.AuthMethod))
	}

	if c.AuthMethod == AuthWebIdentity {
		provider := stscreds.NewWebIdentityRoleProvider(sts.NewFromConfig(awsCfg), c.RoleARN,
			stscreds.IdentityTokenFile(c.WebIdentityTokenFile))
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}
	if c.AssumeRoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), c.AssumeRoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return awsCfg, nil
}

// FromSettings builds a Config from flat string settings
func FromSettings(b base.ConnectionConfig, settings map[string]string) (*Config, error) {
	c := NewConfig(b)
	for key, value := range settings {
		switch key {
		case "auth_method":
			c.AuthMethod = AuthMethod(strings.ToLower(value))
		case "region":
			c.Region = value
		case "service":
			c.Service = Service(strings.ToLower(value))
		case "access_key_id":
			c.AccessKeyID = value
		case "secret_access_key":
			c.SecretAccessKey = value
		case "session_token":
			c.SessionToken = value
		case "profile_name":
			c.ProfileName = value
		case "credentials_path":
			c.CredentialsPath = value
		case "config_path":
			c.ConfigPath = value
		case "role_arn":
			c.RoleARN = value
		case "web_identity_token_file":
			c.WebIdentityTokenFile = value
		case "sso_account_id":
			c.SSOAccountID = value
		case "sso_role_name":
			c.SSORoleName = value
		case "sso_region":
			c.SSORegion = value
		case "sso_start_url":
			c.SSOStartURL = value
		case "assume_role_arn":
			c.AssumeRoleARN = value
		case "endpoint_url":
			c.EndpointURL = value
		case "force_path_style":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("%w: force_path_style: %v", base.ErrInvalidConfig, err)
			}
			c.ForcePathStyle = v
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
