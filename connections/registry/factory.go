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

package registry

import (
	"context"
	"fmt"

	"github.com/manish59/Pangolin/connections/api"
	"github.com/manish59/Pangolin/connections/aws"
	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/database"
	"github.com/manish59/Pangolin/connections/kubernetes"
	"github.com/manish59/Pangolin/connections/sdk"
	"github.com/manish59/Pangolin/connections/ssh"
	"github.com/manish59/Pangolin/shared/logger"
)

// Factory builds connections from specs. The zero value builds with no
// secret resolver and a no-op logger.
type Factory struct {
	Secrets config.SecretResolver
	Log     *logger.Logger
	// Options are appended to every connection after the logger
	Options []sdk.Option

	API        []api.DriverOption
	Database   []database.DriverOption
	SSH        []ssh.DriverOption
	AWS        []aws.DriverOption
	Kubernetes []kubernetes.DriverOption
}

// Build resolves the ConnectionSpec's secret, validates the backend config and
// returns an unopened connection.
func (f *Factory) Build(ctx context.Context, spec *config.ConnectionSpec) (sdk.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	resolved, err := config.ResolveSecrets(ctx, spec, f.Secrets)
	if err != nil {
		return nil, err
	}
	b, err := resolved.BaseConfig()
	if err != nil {
		return nil, err
	}

	opts := make([]sdk.Option, 0, len(f.Options)+1)
	if f.Log != nil {
		opts = append(opts, sdk.WithLogger(f.Log))
	}
	opts = append(opts, f.Options...)

	switch resolved.Backend {
	case api.BackendName:
		cfg, err := api.FromSettings(b, resolved.Settings)
		if err != nil {
			return nil, err
		}
		return handle(api.New(cfg, f.API, opts...))
	case database.BackendName:
		cfg, err := database.FromSettings(b, resolved.Settings)
		if err != nil {
			return nil, err
		}
		return handle(database.New(cfg, f.Database, opts...))
	case ssh.BackendName:
		cfg, err := ssh.FromSettings(b, resolved.Settings)
		if err != nil {
			return nil, err
		}
		return handle(ssh.New(cfg, f.SSH, opts...))
	case aws.BackendName:
		cfg, err := aws.FromSettings(b, resolved.Settings)
		if err != nil {
			return nil, err
		}
		return handle(aws.New(cfg, f.AWS, opts...))
	case kubernetes.BackendName:
		cfg, err := kubernetes.FromSettings(b, resolved.Settings)
		if err != nil {
			return nil, err
		}
		return handle(kubernetes.New(cfg, f.Kubernetes, opts...))
	}
	return nil, fmt.Errorf("%w: unknown backend %q", base.ErrInvalidConfig, resolved.Backend)
}

// handle keeps a failed constructor from yielding a non-nil interface
func handle[C sdk.Handle](c C, err error) (sdk.Handle, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
