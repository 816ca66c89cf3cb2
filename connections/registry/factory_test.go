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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish59/Pangolin/connections/api"
	"github.com/manish59/Pangolin/connections/aws"
	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/database"
	"github.com/manish59/Pangolin/connections/kubernetes"
	"github.com/manish59/Pangolin/connections/ssh"
)

func TestFactoryBuildsEveryBackend(t *testing.T) {
	tests := []struct {
		name    string
		spec    config.ConnectionSpec
		backend string
	}{
		{
			name:    "api",
			spec:    config.ConnectionSpec{Host: "https://api.example.com", Settings: map[string]string{"auth_method": "api_key", "api_key": "k", "api_key_name": "X-API-Key"}},
			backend: api.BackendName,
		},
		{
			name:    "database",
			spec:    config.ConnectionSpec{Host: "db", Username: "u", Password: "p", Settings: map[string]string{"type": "postgresql", "database": "app"}},
			backend: database.BackendName,
		},
		{
			name:    "ssh",
			spec:    config.ConnectionSpec{Host: "10.0.0.1", Username: "deploy", Password: "pw"},
			backend: ssh.BackendName,
		},
		{
			name:    "aws",
			spec:    config.ConnectionSpec{Settings: map[string]string{"auth_method": "access_key", "access_key_id": "AKIA", "secret_access_key": "s", "service": "sts"}},
			backend: aws.BackendName,
		},
		{
			name:    "kubernetes",
			spec:    config.ConnectionSpec{Host: "k8s.example.com", Settings: map[string]string{"auth_method": "token", "api_token": "t"}},
			backend: kubernetes.BackendName,
		},
	}

	f := &Factory{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := tt.spec
			spec.Name = tt.name
			spec.Backend = tt.backend
			h, err := f.Build(context.Background(), &spec)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, h.Backend())
			assert.Equal(t, tt.name, h.Name())
			assert.Equal(t, base.StatusInitialized, h.Status())
		})
	}
}

func TestFactoryResolvesSecrets(t *testing.T) {
	secrets := config.NewMemorySecrets()
	secrets.Set("prod/bastion", map[string]string{"username": "deploy", "password": "from-vault"})

	f := &Factory{Secrets: secrets}
	h, err := f.Build(context.Background(), &config.ConnectionSpec{
		Name:      "bastion",
		Backend:   "ssh",
		Host:      "10.0.0.1",
		SecretRef: "prod/bastion",
	})
	require.NoError(t, err)

	conn, ok := h.(*ssh.Connection)
	require.True(t, ok)
	assert.Equal(t, "deploy", conn.Config().Username)
	assert.Equal(t, "from-vault", conn.Config().Password)
}

func TestFactoryErrors(t *testing.T) {
	f := &Factory{}
	ctx := context.Background()

	t.Run("invalid spec", func(t *testing.T) {
		h, err := f.Build(ctx, &config.ConnectionSpec{Name: "x", Backend: "ftp"})
		assert.Nil(t, h)
		assert.ErrorIs(t, err, base.ErrInvalidConfig)
	})

	t.Run("backend validation", func(t *testing.T) {
		h, err := f.Build(ctx, &config.ConnectionSpec{Name: "x", Backend: "database",
			Settings: map[string]string{"type": "mysql"}})
		assert.Nil(t, h)
		assert.Equal(t, base.KindValidation, base.KindOf(err))
	})

	t.Run("secret without resolver", func(t *testing.T) {
		_, err := f.Build(ctx, &config.ConnectionSpec{Name: "x", Backend: "api",
			Host: "https://a.example.com", SecretRef: "prod/api"})
		assert.ErrorContains(t, err, "no secret resolver")
	})
}
