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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/manish59/Pangolin/shared/logger"
)

// DefaultSecretTTL is how long a fetched secret is served from cache
const DefaultSecretTTL = 5 * time.Minute

// ErrSecretNotFound is returned by resolvers that know the ref does not exist
var ErrSecretNotFound = errors.New("secret not found")

// SecretResolver fetches a secret as a flat key/value map
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (map[string]string, error)
}

// ResolveSecrets returns a copy of spec with its secret merged in. Secret
// keys username and password fill empty credentials; every other key fills
// a setting the ConnectionSpec does not already set.
func ResolveSecrets(ctx context.Context, spec *ConnectionSpec, r SecretResolver) (*ConnectionSpec, error) {
	out := spec.Clone()
	if spec.SecretRef == "" {
		return out, nil
	}
	if r == nil {
		return nil, fmt.Errorf("connection %q references secret %s but no secret resolver is configured",
			spec.Name, maskRef(spec.SecretRef))
	}

	secret, err := r.Resolve(ctx, spec.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", spec.Name, err)
	}
	for key, value := range secret {
		switch key {
		case "username":
			if out.Username == "" {
				out.Username = value
			}
		case "password":
			if out.Password == "" {
				out.Password = value
			}
		default:
			if _, set := out.Settings[key]; !set {
				out.Settings[key] = value
			}
		}
	}
	return out, nil
}

// SecretValueAPI is the part of the Secrets Manager client the resolver uses
type SecretValueAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecrets resolves refs (names or ARNs) against AWS Secrets Manager and
// caches each result for a fixed TTL.
type AWSSecrets struct {
	client SecretValueAPI
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]*secretCacheEntry
}

// NewAWSSecrets wraps an existing client. A zero ttl uses DefaultSecretTTL.
func NewAWSSecrets(client SecretValueAPI, ttl time.Duration, log *logger.Logger) *AWSSecrets {
	if ttl <= 0 {
		ttl = DefaultSecretTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AWSSecrets{
		client: client,
		ttl:    ttl,
		log:    log,
		now:    time.Now,
		cache:  make(map[string]*secretCacheEntry),
	}
}

// LoadAWSSecrets builds a resolver from the default AWS credential chain
func LoadAWSSecrets(ctx context.Context, region string, ttl time.Duration, log *logger.Logger) (*AWSSecrets, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecrets(secretsmanager.NewFromConfig(cfg), ttl, log), nil
}

// Resolve returns the secret as a map. A JSON object secret is decoded
// into its keys; any other string is returned under "value".
func (s *AWSSecrets) Resolve(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	entry, ok := s.cache[ref]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expiresAt) {
		s.log.Debug("", "Secret cache hit", map[string]interface{}{"secret": maskRef(ref)})
		return copyMap(entry.value), nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref)})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskRef(ref), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskRef(ref))
	}

	var value map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &value); err != nil {
		value = map[string]string{"value": *out.SecretString}
	}

	s.mu.Lock()
	s.cache[ref] = &secretCacheEntry{value: value, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	s.log.Info("", "Fetched secret", map[string]interface{}{"secret": maskRef(ref), "keys": len(value)})
	return copyMap(value), nil
}

// Invalidate drops one cached secret
func (s *AWSSecrets) Invalidate(ref string) {
	s.mu.Lock()
	delete(s.cache, ref)
	s.mu.Unlock()
}

// InvalidateAll empties the cache
func (s *AWSSecrets) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*secretCacheEntry)
	s.mu.Unlock()
}

// MemorySecrets is an in-process resolver for tests and local runs
type MemorySecrets struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

func NewMemorySecrets() *MemorySecrets {
	return &MemorySecrets{secrets: make(map[string]map[string]string)}
}

// Set stores value under ref, replacing any previous value
func (m *MemorySecrets) Set(ref string, value map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[ref] = copyMap(value)
}

func (m *MemorySecrets) Resolve(_ context.Context, ref string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.secrets[ref]; ok {
		return copyMap(v), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, maskRef(ref))
}

// maskRef keeps only the last 8 characters of a secret ref for logs
func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return "..." + ref[len(ref)-8:]
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
