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

// ConnectionStatus is the lifecycle state of a connection
type ConnectionStatus string

const (
	StatusInitialized   ConnectionStatus = "initialized"
	StatusValidating    ConnectionStatus = "validating"
	StatusConnecting    ConnectionStatus = "connecting"
	StatusConnected     ConnectionStatus = "connected"
	StatusDisconnecting ConnectionStatus = "disconnecting"
	StatusDisconnected  ConnectionStatus = "disconnected"
	StatusError         ConnectionStatus = "error"
)

// AllStatuses lists every status in lifecycle order
func AllStatuses() []ConnectionStatus {
	return []ConnectionStatus{
		StatusInitialized,
		StatusValidating,
		StatusConnecting,
		StatusConnected,
		StatusDisconnecting,
		StatusDisconnected,
		StatusError,
	}
}

func (s ConnectionStatus) String() string {
	return string(s)
}

// CanConnect reports whether connect may start from this status
func (s ConnectionStatus) CanConnect() bool {
	switch s {
	case StatusInitialized, StatusDisconnected, StatusError:
		return true
	}
	return false
}
