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

/*
Package sdk implements the connection lifecycle shared by every backend.

# Connection

Connection wraps a base.Driver and supplies status tracking, retry with
backoff on connect, metrics and error recording:

	conn, err := sdk.New[*sql.DB, database.Query, *database.Result](cfg, driver,
	    sdk.WithLogger(logger.New("connections")))
	if err != nil {
	    return err
	}
	defer conn.Disconnect(ctx)

	res, err := conn.Execute(ctx, database.Query{Statement: "SELECT 1"})

Connect makes up to MaxRetries+1 attempts. After failed attempt i it sleeps

	retry_interval * retry_backoff^i

scaled by a uniform factor in [0.5, 1.5) when jitter is enabled. Execute
connects first when needed. When the execute primitive fails the connection
moves to the error status, the handle is released and the *base.ExecutionError
is returned; the next Execute reconnects.

# Metrics

Collector exposes every added connection to Prometheus:

	collector := sdk.NewCollector("pangolin")
	collector.Add(conn)
	prometheus.MustRegister(collector)

# Testing

MockDriver, RecordingSleeper and FakeClock drive the lifecycle without a
real backend or real sleeps. See NewMockConnection.
*/
package sdk
