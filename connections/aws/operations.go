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
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultMaxObjectBytes caps how much of an object get_object reads (10MB)
const DefaultMaxObjectBytes = 10 * 1024 * 1024

type opKey struct {
	service   Service
	operation string
}

type opFunc func(ctx context.Context, c *Clients, p params) (interface{}, error)

// operations binds every supported (service, operation) pair to its call.
// Anything not listed is rejected as unsupported.
var operations = map[opKey]opFunc{
	{ServiceS3, "list_buckets"}:  s3ListBuckets,
	{ServiceS3, "list_objects"}:  s3ListObjects,
	{ServiceS3, "get_object"}:    s3GetObject,
	{ServiceS3, "head_object"}:   s3HeadObject,
	{ServiceS3, "put_object"}:    s3PutObject,
	{ServiceS3, "delete_object"}: s3DeleteObject,

	{ServiceSecretsManager, "get_secret_value"}: smGetSecretValue,
	{ServiceSecretsManager, "list_secrets"}:     smListSecrets,

	{ServiceSTS, "get_caller_identity"}: stsGetCallerIdentity,

	{ServiceEC2, "describe_regions"}:   ec2DescribeRegions,
	{ServiceEC2, "describe_instances"}: ec2DescribeInstances,
	{ServiceEC2, "describe_vpcs"}:      ec2DescribeVpcs,

	{ServiceRDS, "describe_db_engine_versions"}: rdsDescribeEngineVersions,
	{ServiceRDS, "describe_db_instances"}:       rdsDescribeInstances,
	{ServiceRDS, "describe_db_clusters"}:        rdsDescribeClusters,

	{ServiceIAM, "list_account_aliases"}: iamListAccountAliases,
	{ServiceIAM, "list_users"}:           iamListUsers,
	{ServiceIAM, "get_user"}:             iamGetUser,
	{ServiceIAM, "list_roles"}:           iamListRoles,
}

// SupportedOperations lists the operations of service in name order
func SupportedOperations(service Service) []string {
	var ops []string
	for k := range operations {
		if k.service == service {
			ops = append(ops, k.operation)
		}
	}
	sort.Strings(ops)
	return ops
}

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

type params map[string]interface{}

func (p params) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p params) required(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if p.str(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &paramError{msg: "missing required parameter(s): " + strings.Join(missing, ", ")}
	}
	return nil
}

// strs reads a list parameter given as a JSON array or a comma-separated string
func (p params) strs(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// number reads a numeric parameter. JSON numbers decode as float64.
func (p params) number(key string) (int32, bool, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int32(v), true, nil
	case int:
		return int32(v), true, nil
	case int32:
		return v, true, nil
	case int64:
		return int32(v), true, nil
	}
	return 0, false, &paramError{msg: fmt.Sprintf("parameter %s must be a number", key)}
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func s3ListBuckets(ctx context.Context, c *Clients, p params) (interface{}, error) {
	out, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	buckets := make([]map[string]interface{}, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, map[string]interface{}{
			"name":          aws.ToString(b.Name),
			"creation_date": timeValue(b.CreationDate),
		})
	}
	return map[string]interface{}{"buckets": buckets}, nil
}

func s3ListObjects(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("bucket"); err != nil {
		return nil, err
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(p.str("bucket"))}
	if prefix := p.str("prefix"); prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if token := p.str("continuation_token"); token != "" {
		in.ContinuationToken = aws.String(token)
	}
	maxKeys, ok, err := p.number("max_keys")
	if err != nil {
		return nil, err
	}
	if ok {
		in.MaxKeys = aws.Int32(maxKeys)
	}

	out, err := c.S3.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, err
	}
	objects := make([]map[string]interface{}, 0, len(out.Contents))
	for _, obj := range out.Contents {
		objects = append(objects, map[string]interface{}{
			"key":           aws.ToString(obj.Key),
			"size":          aws.ToInt64(obj.Size),
			"last_modified": timeValue(obj.LastModified),
			"etag":          aws.ToString(obj.ETag),
		})
	}
	return map[string]interface{}{
		"objects":                 objects,
		"key_count":               aws.ToInt32(out.KeyCount),
		"is_truncated":            aws.ToBool(out.IsTruncated),
		"next_continuation_token": aws.ToString(out.NextContinuationToken),
	}, nil
}

func s3GetObject(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("bucket", "key"); err != nil {
		return nil, err
	}
	out, err := c.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.str("bucket")),
		Key:    aws.String(p.str("key")),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, DefaultMaxObjectBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > DefaultMaxObjectBytes {
		return nil, &paramError{msg: fmt.Sprintf("object exceeds %d bytes", DefaultMaxObjectBytes)}
	}
	return map[string]interface{}{
		"content":        string(data),
		"content_type":   aws.ToString(out.ContentType),
		"content_length": aws.ToInt64(out.ContentLength),
		"etag":           aws.ToString(out.ETag),
		"last_modified":  timeValue(out.LastModified),
	}, nil
}

func s3HeadObject(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("bucket", "key"); err != nil {
		return nil, err
	}
	out, err := c.S3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.str("bucket")),
		Key:    aws.String(p.str("key")),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"content_type":   aws.ToString(out.ContentType),
		"content_length": aws.ToInt64(out.ContentLength),
		"etag":           aws.ToString(out.ETag),
		"last_modified":  timeValue(out.LastModified),
		"metadata":       out.Metadata,
	}, nil
}

func s3PutObject(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("bucket", "key"); err != nil {
		return nil, err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(p.str("bucket")),
		Key:    aws.String(p.str("key")),
		Body:   strings.NewReader(p.str("body")),
	}
	if ct := p.str("content_type"); ct != "" {
		in.ContentType = aws.String(ct)
	}
	out, err := c.S3.PutObject(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"etag":       aws.ToString(out.ETag),
		"version_id": aws.ToString(out.VersionId),
	}, nil
}

func s3DeleteObject(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("bucket", "key"); err != nil {
		return nil, err
	}
	out, err := c.S3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.str("bucket")),
		Key:    aws.String(p.str("key")),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"deleted":    true,
		"version_id": aws.ToString(out.VersionId),
	}, nil
}

func smGetSecretValue(ctx context.Context, c *Clients, p params) (interface{}, error) {
	if err := p.required("secret_id"); err != nil {
		return nil, err
	}
	in := &secretsmanager.GetSecretValueInput{SecretId: aws.String(p.str("secret_id"))}
	if stage := p.str("version_stage"); stage != "" {
		in.VersionStage = aws.String(stage)
	}
	out, err := c.SecretsManager.GetSecretValue(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name":          aws.ToString(out.Name),
		"arn":           aws.ToString(out.ARN),
		"version_id":    aws.ToString(out.VersionId),
		"secret_string": aws.ToString(out.SecretString),
		"created_date":  timeValue(out.CreatedDate),
	}, nil
}

func smListSecrets(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &secretsmanager.ListSecretsInput{}
	if token := p.str("next_token"); token != "" {
		in.NextToken = aws.String(token)
	}
	maxResults, ok, err := p.number("max_results")
	if err != nil {
		return nil, err
	}
	if ok {
		in.MaxResults = aws.Int32(maxResults)
	}

	out, err := c.SecretsManager.ListSecrets(ctx, in)
	if err != nil {
		return nil, err
	}
	secrets := make([]map[string]interface{}, 0, len(out.SecretList))
	for _, s := range out.SecretList {
		secrets = append(secrets, map[string]interface{}{
			"name":              aws.ToString(s.Name),
			"arn":               aws.ToString(s.ARN),
			"description":       aws.ToString(s.Description),
			"last_changed_date": timeValue(s.LastChangedDate),
		})
	}
	return map[string]interface{}{
		"secrets":    secrets,
		"next_token": aws.ToString(out.NextToken),
	}, nil
}

func stsGetCallerIdentity(ctx context.Context, c *Clients, p params) (interface{}, error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"account": aws.ToString(out.Account),
		"arn":     aws.ToString(out.Arn),
		"user_id": aws.ToString(out.UserId),
	}, nil
}
