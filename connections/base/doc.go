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
Package base provides the data model shared by every Pangolin connection.

# Overview

A connection moves through a fixed set of states:

	initialized -> connecting -> connected -> disconnecting -> disconnected
	                   |             |
	                   v             v
	                 error  <----  error (execute failure)

Backends plug into the lifecycle by implementing Driver:

	type Driver[H, Req, Res any] interface {
	    Backend() string
	    ConnectImpl(ctx context.Context) (H, error)
	    ExecuteImpl(ctx context.Context, handle H, req Req) (Res, error)
	    DisconnectImpl(ctx context.Context, handle H) error
	}

# Configuration

ConnectionConfig is assembled once with a builder and then passed by value:

	cfg, err := base.NewConfigBuilder("orders-db", "db.internal").
	    WithMaxRetries(2).
	    WithRetryInterval(time.Second).
	    WithRetryBackoff(2.0).
	    WithRetryJitter(false).
	    Build()

Build rejects a negative max_retries, a non-positive retry_interval and a
retry_backoff below 1.0.

# Errors

Failures surface as *ConnectionError (connect and disconnect) or
*ExecutionError (execute). Both carry a Kind such as KindAuthConfig or
KindTimeout, a Details map and a Timestamp, so callers branch on phase
first and backend detail second:

	if ee, ok := base.AsExecutionError(err); ok && ee.Kind == base.KindHTTPStatus {
	    log.Printf("status %v", ee.Details["status_code"])
	}
*/
package base
