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
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/manish59/Pangolin/connections/base"
)

// EnvPrefix is prepended to every per-connection variable
const EnvPrefix = "PANGOLIN"

// EnvName returns the variable prefix for a connection name:
// "orders-db" becomes PANGOLIN_ORDERS_DB.
func EnvName(name string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	b.WriteByte('_')
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FromEnv reads a single connection from PANGOLIN_<NAME>_* variables.
// Settings use envconfig's map form: key:value,key:value.
func FromEnv(name string) (*ConnectionSpec, error) {
	spec := &ConnectionSpec{}
	if err := envconfig.Process(EnvName(name), spec); err != nil {
		return nil, fmt.Errorf("%w: %v", base.ErrInvalidConfig, err)
	}
	spec.Name = name
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
