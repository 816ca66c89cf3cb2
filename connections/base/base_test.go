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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBuilderDefaults(t *testing.T) {
	cfg, err := NewConfigBuilder("db", "localhost").Build()
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Name)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryInterval, cfg.RetryInterval)
	assert.Equal(t, DefaultRetryBackoff, cfg.RetryBackoff)
	assert.True(t, cfg.RetryJitter)
	assert.True(t, cfg.SSLEnabled)
	assert.True(t, cfg.SSLVerify)
}

func TestConfigBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		builder *ConfigBuilder
		wantErr bool
	}{
		{"valid", NewConfigBuilder("a", "h"), false},
		{"zero retries", NewConfigBuilder("a", "h").WithMaxRetries(0), false},
		{"backoff of one", NewConfigBuilder("a", "h").WithRetryBackoff(1.0), false},
		{"missing name", NewConfigBuilder(" ", "h"), true},
		{"negative retries", NewConfigBuilder("a", "h").WithMaxRetries(-1), true},
		{"zero interval", NewConfigBuilder("a", "h").WithRetryInterval(0), true},
		{"backoff below one", NewConfigBuilder("a", "h").WithRetryBackoff(0.9), true},
		{"negative timeout", NewConfigBuilder("a", "h").WithTimeout(-time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigBuildCopiesOptions(t *testing.T) {
	b := NewConfigBuilder("a", "h").WithOption("region", "us-east-1")
	cfg, err := b.Build()
	require.NoError(t, err)

	b.WithOption("region", "eu-west-1")
	v, ok := cfg.Option("region")
	assert.True(t, ok)
	assert.Equal(t, "us-east-1", v)
}

func TestConfigSummaryOmitsSecrets(t *testing.T) {
	cfg := NewConfigBuilder("a", "h").
		WithCredentials("admin", "hunter2").
		WithOption("token", "abc").
		MustBuild()

	summary := cfg.Summary()
	for _, key := range []string{"username", "password", "options"} {
		_, present := summary[key]
		assert.False(t, present, "summary must not contain %s", key)
	}
	for _, v := range summary {
		assert.NotEqual(t, "hunter2", v)
	}
	assert.Equal(t, "h", summary["host"])
}

func TestRunningMean(t *testing.T) {
	var m ConnectionMetrics
	samples := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 200 * time.Millisecond, 1 * time.Second}
	var sum float64
	for _, s := range samples {
		m.RecordConnect(s, time.Now())
		sum += s.Seconds()
	}
	assert.Equal(t, int64(len(samples)), m.TotalConnections)
	assert.InDelta(t, sum/float64(len(samples)), m.AvgConnectionTime, 1e-9)
	assert.False(t, m.LastConnectedAt.IsZero())
}

func TestFailedAttemptCountsError(t *testing.T) {
	var m ConnectionMetrics
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.RecordFailedAttempt(at)
	m.RecordRetry()

	assert.Equal(t, int64(1), m.FailedConnections)
	assert.Equal(t, int64(1), m.TotalErrors)
	assert.Equal(t, int64(1), m.TotalRetries)
	assert.Equal(t, at, m.LastErrorAt)
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	connErr := NewConnectionError("db", "connect", KindTransport, "connect failed", cause).
		WithDetail("attempt", 1)

	wrapped := fmt.Errorf("outer: %w", connErr)
	assert.True(t, IsConnectionError(wrapped))
	assert.False(t, IsExecutionError(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.Equal(t, 1, DetailsOf(wrapped)["attempt"])
	assert.Contains(t, connErr.Error(), "db.connect [transport]: connect failed")
	assert.False(t, connErr.Timestamp.IsZero())

	execErr := NewExecutionError("api", "execute", KindHTTPStatus, "status 500", nil)
	ee, ok := AsExecutionError(execErr)
	require.True(t, ok)
	assert.Equal(t, KindHTTPStatus, ee.Kind)
	assert.NotContains(t, execErr.Error(), "cause")
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCanceled, KindOf(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestStatusCanConnect(t *testing.T) {
	allowed := map[ConnectionStatus]bool{
		StatusInitialized:  true,
		StatusDisconnected: true,
		StatusError:        true,
	}
	for _, s := range AllStatuses() {
		assert.Equal(t, allowed[s], s.CanConnect(), s.String())
	}
}
