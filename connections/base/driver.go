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

import "context"

// Driver is the set of primitives a backend supplies. H is the native
// handle, Req the operation input and Res the operation result.
//
// Primitives never touch metrics or status; the lifecycle manager owns both.
type Driver[H any, Req any, Res any] interface {
	// Backend names the backend type (api, database, ssh, aws, kubernetes)
	Backend() string

	// ConnectImpl opens a native handle. Failures should be *ConnectionError.
	ConnectImpl(ctx context.Context) (H, error)

	// ExecuteImpl runs one operation on an open handle. Failures should be *ExecutionError.
	ExecuteImpl(ctx context.Context, handle H, req Req) (Res, error)

	// DisconnectImpl releases the handle. Wrap ErrUnrecoverable to end in the error status.
	DisconnectImpl(ctx context.Context, handle H) error
}
