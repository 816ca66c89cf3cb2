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
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

// BackendName identifies the AWS backend
const BackendName = "aws"

// S3API is the subset of the S3 client used by the backend
type S3API interface {
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used by the backend
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, in *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// STSAPI is the subset of the STS client used by the backend
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients is the native handle of an AWS connection
type Clients struct {
	Config         aws.Config
	S3             S3API
	SecretsManager SecretsManagerAPI
	STS            STSAPI
	EC2            EC2API
	RDS            RDSAPI
	IAM            IAMAPI
}

// Request names one operation of a service. An empty Service means the
// connection's configured service.
type Request struct {
	Service   Service                `json:"service,omitempty"`
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Result is the simplified output of an operation
type Result struct {
	Service   Service     `json:"service"`
	Operation string      `json:"operation"`
	Data      interface{} `json:"data"`
}

// Connection is the lifecycle-managed AWS connection
type Connection = sdk.Connection[*Clients, Request, *Result]

// ConfigLoader resolves the aws.Config for a connection
type ConfigLoader func(ctx context.Context, cfg *Config) (aws.Config, error)

// Driver implements the AWS primitives over aws-sdk-go-v2
type Driver struct {
	cfg        *Config
	load       ConfigLoader
	newClients func(aws.Config) *Clients
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithConfigLoader replaces LoadAWSConfig
func WithConfigLoader(load ConfigLoader) DriverOption {
	return func(d *Driver) { d.load = load }
}

// WithClients replaces the service client constructors
func WithClients(fn func(aws.Config) *Clients) DriverOption {
	return func(d *Driver) { d.newClients = fn }
}

// NewDriver creates the AWS driver for cfg
func NewDriver(cfg *Config, opts ...DriverOption) *Driver {
	d := &Driver{cfg: cfg, load: LoadAWSConfig}
	d.newClients = d.buildClients
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New validates cfg and returns a lifecycle-managed AWS connection
func New(cfg *Config, driverOpts []DriverOption, opts ...sdk.Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sdk.New[*Clients, Request, *Result](cfg.ConnectionConfig, NewDriver(cfg, driverOpts...), opts...)
}

// Backend implements base.Driver
func (d *Driver) Backend() string { return BackendName }

func (d *Driver) buildClients(awsCfg aws.Config) *Clients {
	endpoint := d.cfg.EndpointURL
	return &Clients{
		Config: awsCfg,
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
			o.UsePathStyle = d.cfg.ForcePathStyle
		}),
		SecretsManager: secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		STS: sts.NewFromConfig(awsCfg, func(o *sts.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		EC2: ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		RDS: rds.NewFromConfig(awsCfg, func(o *rds.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		IAM: iam.NewFromConfig(awsCfg, func(o *iam.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
	}
}

// ConnectImpl resolves credentials, builds the service clients and probes
// the configured service with a cheap read call.
func (d *Driver) ConnectImpl(ctx context.Context) (*Clients, error) {
	awsCfg, err := d.load(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	clients := d.newClients(awsCfg)

	switch d.cfg.Service {
	case ServiceS3:
		_, err = clients.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
	case ServiceSecretsManager:
		_, err = clients.SecretsManager.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	case ServiceSTS:
		_, err = clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	case ServiceEC2:
		_, err = clients.EC2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	case ServiceRDS:
		_, err = clients.RDS.DescribeDBEngineVersions(ctx, &rds.DescribeDBEngineVersionsInput{MaxRecords: aws.Int32(rdsMinRecords)})
	case ServiceIAM:
		_, err = clients.IAM.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	}
	if err != nil {
		kind := apiErrorKind(err)
		if status := httpStatus(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			kind = base.KindAuthConfig
		}
		ce := base.NewConnectionError(d.cfg.Name, "connect", kind, "failed to verify AWS connectivity", err).
			WithDetail("service", string(d.cfg.Service)).
			WithDetail("region", d.cfg.Region)
		if code := errorCode(err); code != "" {
			ce.WithDetail("error_code", code)
		}
		return nil, ce
	}
	return clients, nil
}

// ExecuteImpl dispatches req through the operation table
func (d *Driver) ExecuteImpl(ctx context.Context, clients *Clients, req Request) (*Result, error) {
	service := req.Service
	if service == "" {
		service = d.cfg.Service
	}

	op, ok := operations[opKey{service, req.Operation}]
	if !ok {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindUnsupported,
			"unsupported operation "+string(service)+"."+req.Operation, nil).
			WithDetail("service", string(service)).
			WithDetail("operation", req.Operation).
			WithDetail("supported", SupportedOperations(service))
	}

	data, err := op(ctx, clients, params(req.Params))
	if err != nil {
		var pe *paramError
		if errors.As(err, &pe) {
			return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, pe.Error(), nil).
				WithDetail("service", string(service)).
				WithDetail("operation", req.Operation)
		}
		ee := base.NewExecutionError(d.cfg.Name, "execute", apiErrorKind(err), "AWS operation failed", err).
			WithDetail("service", string(service)).
			WithDetail("operation", req.Operation)
		if status := httpStatus(err); status != 0 {
			ee.WithDetail("status_code", status)
		}
		if code := errorCode(err); code != "" {
			ee.WithDetail("error_code", code)
		}
		return nil, ee
	}
	return &Result{Service: service, Operation: req.Operation, Data: data}, nil
}

// DisconnectImpl drops the clients. The SDK holds no long-lived sockets
// beyond the shared HTTP pool.
func (d *Driver) DisconnectImpl(ctx context.Context, clients *Clients) error {
	return nil
}

func httpStatus(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func apiErrorKind(err error) base.ErrorKind {
	switch k := base.KindOf(err); k {
	case base.KindTimeout, base.KindCanceled:
		return k
	}
	if httpStatus(err) != 0 {
		return base.KindHTTPStatus
	}
	return base.KindTransport
}
