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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/database"
	"github.com/manish59/Pangolin/connections/sdk"
)

func mockConn(t *testing.T, name string) (*sdk.Connection[*sdk.MockHandle, sdk.MockRequest, sdk.MockResult], *sdk.MockDriver) {
	t.Helper()
	cfg := base.NewConfigBuilder(name, "mock://"+name).
		WithMaxRetries(0).
		WithRetryInterval(time.Millisecond).
		MustBuild()
	conn, driver, _, err := sdk.NewMockConnection(cfg)
	require.NoError(t, err)
	return conn, driver
}

func TestRegisterGetList(t *testing.T) {
	r := New()
	a, _ := mockConn(t, "alpha")
	b, _ := mockConn(t, "bravo")

	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(a))

	err := r.Register(a)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	got, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())

	_, err = r.Get("charlie")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"alpha", "bravo"}, r.List())
	assert.Equal(t, 2, r.Count())

	infos := r.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, base.StatusInitialized, infos[0].Status)
}

func TestUnregisterDisconnects(t *testing.T) {
	collector := sdk.NewCollector("pangolin")
	r := New(WithCollector(collector))
	conn, driver := mockConn(t, "alpha")
	require.NoError(t, r.Register(conn))

	ctx := context.Background()
	require.NoError(t, conn.Open(ctx))
	assert.Greater(t, testutil.CollectAndCount(collector), 0)

	require.NoError(t, r.Unregister(ctx, "alpha"))
	assert.Equal(t, 1, driver.DisconnectCalls())
	assert.Equal(t, base.StatusDisconnected, conn.Status())
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, testutil.CollectAndCount(collector))

	assert.ErrorIs(t, r.Unregister(ctx, "alpha"), ErrNotFound)
}

func TestUnregisterReturnsDisconnectError(t *testing.T) {
	r := New()
	conn, driver := mockConn(t, "alpha")
	driver.SetDisconnectError(errors.New("socket already gone"))
	require.NoError(t, r.Register(conn))
	require.NoError(t, conn.Open(context.Background()))

	err := r.Unregister(context.Background(), "alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket already gone")
	assert.Equal(t, 0, r.Count(), "removed even when disconnect fails")
}

func TestDisconnectAll(t *testing.T) {
	r := New()
	ctx := context.Background()

	a, da := mockConn(t, "alpha")
	b, db := mockConn(t, "bravo")
	c, _ := mockConn(t, "charlie")
	db.SetDisconnectError(errors.New("boom"))

	for _, conn := range []*sdk.Connection[*sdk.MockHandle, sdk.MockRequest, sdk.MockResult]{a, b, c} {
		require.NoError(t, r.Register(conn))
	}
	require.NoError(t, a.Open(ctx))
	require.NoError(t, b.Open(ctx))

	err := r.DisconnectAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bravo")
	assert.NotContains(t, err.Error(), "alpha")

	assert.Equal(t, 1, da.DisconnectCalls())
	assert.Equal(t, 1, db.DisconnectCalls())
	assert.Equal(t, base.StatusDisconnected, a.Status())
	assert.Equal(t, base.StatusDisconnected, c.Status())
	assert.Equal(t, 3, r.Count(), "connections stay registered")
}

func TestRegisterSpecBuildsSQLite(t *testing.T) {
	r := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	h, err := r.RegisterSpec(ctx, &config.ConnectionSpec{
		Name:     "local",
		Backend:  "database",
		Settings: map[string]string{"type": "sqlite", "database": path},
	})
	require.NoError(t, err)
	assert.Equal(t, database.BackendName, h.Backend())

	res, err := h.Do(ctx, database.Query{Statement: "SELECT 1 AS one"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, res.(*database.Result).Columns)
	assert.True(t, h.IsConnected())

	spec, ok := r.Spec("local")
	require.True(t, ok)
	assert.Equal(t, "database", spec.Backend)

	_, err = r.RegisterSpec(ctx, spec)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	require.NoError(t, r.Unregister(ctx, "local"))
	assert.False(t, h.IsConnected())
}

func TestRegisterSpecSkipsDisabled(t *testing.T) {
	disabled := false
	r := New()
	h, err := r.RegisterSpec(context.Background(), &config.ConnectionSpec{
		Name: "off", Backend: "ssh", Enabled: &disabled,
	})
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 0, r.Count())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PANGOLIN_TEST_DB_PATH", filepath.Join(dir, "orders.db"))
	path := filepath.Join(dir, "connections.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
connections:
  orders:
    backend: database
    settings:
      type: sqlite
      database: ${PANGOLIN_TEST_DB_PATH}
  status-api:
    backend: api
    host: https://status.example.com
    settings:
      auth_method: bearer
      auth_token: t0ken
  bastion:
    backend: ssh
    enabled: false
    host: 10.0.0.1
`), 0o600))

	r := New()
	require.NoError(t, r.LoadFile(context.Background(), path))
	assert.Equal(t, []string{"orders", "status-api"}, r.List())

	h, err := r.Get("status-api")
	require.NoError(t, err)
	assert.Equal(t, "api", h.Backend())
	assert.Equal(t, base.StatusInitialized, h.Status())
}

func TestLoadFileStopsOnInvalidConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
connections:
  broken:
    backend: ssh
    host: 10.0.0.1
`), 0o600))

	err := New().LoadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
	assert.Equal(t, base.KindAuthConfig, base.KindOf(err))
}
