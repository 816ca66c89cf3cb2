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

// Package main implements the pangolin CLI: inspect, check and drive the
// connections declared in a connections file.
//
// Usage:
//
//	pangolin list
//	pangolin check [name...]
//	pangolin exec <name> --request '{"statement":"SELECT 1"}'
//	pangolin serve --addr :8080
//
// Environment Variables:
//
//	PANGOLIN_CONFIG - connections file (default: pangolin.yaml)
//	PANGOLIN_LOG_LEVEL - debug, info, warn or error (default: info)
//	PANGOLIN_STORE_DSN - PostgreSQL DSN for persisted connection specs (optional)
//	PANGOLIN_SECRETS - "aws" to resolve secret_ref through AWS Secrets Manager (optional)
//	PANGOLIN_RATE_LIMIT - serve: execute calls per second per connection, 0 for unlimited
//	PANGOLIN_RATE_BURST - serve: burst for PANGOLIN_RATE_LIMIT (default: 10)
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
