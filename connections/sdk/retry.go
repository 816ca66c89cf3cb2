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

package sdk

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/manish59/Pangolin/connections/base"
)

// MaxRetryDelay is the largest delay RetryDelay returns
const MaxRetryDelay = time.Duration(math.MaxInt64)

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryDelay returns the pause after failed attempt number attempt (0-based):
//
//	retry_interval * retry_backoff^attempt
//
// multiplied by a factor in [0.5, 1.5) when jitter is enabled. rnd must
// return values in [0, 1); nil falls back to math/rand. Delays too large for
// a time.Duration are clamped to MaxRetryDelay.
func RetryDelay(cfg base.ConnectionConfig, attempt int, rnd func() float64) time.Duration {
	delay := float64(cfg.RetryInterval) * math.Pow(cfg.RetryBackoff, float64(attempt))
	if cfg.RetryJitter {
		if rnd == nil {
			rnd = rand.Float64
		}
		delay *= 0.5 + rnd()
	}
	if math.IsNaN(delay) || delay >= float64(MaxRetryDelay) {
		return MaxRetryDelay
	}
	return time.Duration(delay)
}

// ContextSleep is the default Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
