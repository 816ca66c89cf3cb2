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

import "time"

// ConnectionMetrics tracks the lifecycle counters of one connection. Only
// the lifecycle manager mutates it; callers receive copies.
type ConnectionMetrics struct {
	TotalConnections    int64 `json:"total_connections"`
	FailedConnections   int64 `json:"failed_connections"`
	TotalDisconnections int64 `json:"total_disconnections"`
	TotalErrors         int64 `json:"total_errors"`
	TotalRetries        int64 `json:"total_retries"`

	// AvgConnectionTime is the running mean of successful connect durations in seconds
	AvgConnectionTime float64 `json:"avg_connection_time"`

	LastConnectedAt    time.Time `json:"last_connected_at"`
	LastDisconnectedAt time.Time `json:"last_disconnected_at"`
	LastErrorAt        time.Time `json:"last_error_at"`
}

// RecordConnect counts a successful connect and folds sample into the mean.
// The division uses the post-increment connection count.
func (m *ConnectionMetrics) RecordConnect(sample time.Duration, at time.Time) {
	m.TotalConnections++
	n := float64(m.TotalConnections)
	m.AvgConnectionTime = (m.AvgConnectionTime*(n-1) + sample.Seconds()) / n
	m.LastConnectedAt = at
}

// RecordFailedAttempt counts one failed connect attempt
func (m *ConnectionMetrics) RecordFailedAttempt(at time.Time) {
	m.FailedConnections++
	m.RecordError(at)
}

// RecordRetry counts a retry that is about to run
func (m *ConnectionMetrics) RecordRetry() {
	m.TotalRetries++
}

// RecordError counts an error of any phase
func (m *ConnectionMetrics) RecordError(at time.Time) {
	m.TotalErrors++
	m.LastErrorAt = at
}

// RecordDisconnect counts a release of the native handle
func (m *ConnectionMetrics) RecordDisconnect(at time.Time) {
	m.TotalDisconnections++
	m.LastDisconnectedAt = at
}
