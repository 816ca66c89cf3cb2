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
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/sdk"
	"github.com/manish59/Pangolin/shared/logger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewStore(db, nil), mock
}

// specArg matches the stored YAML document and checks no password leaks
type specArg struct {
	contains []string
}

func (a specArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok || strings.Contains(s, "password") {
		return false
	}
	for _, want := range a.contains {
		if !strings.Contains(s, want) {
			return false
		}
	}
	return true
}

func TestStoreInitSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(schemaSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.InitSchema(context.Background()))
}

func TestStoreSaveOmitsPassword(t *testing.T) {
	s, mock := newMockStore(t)
	timeout := 15 * time.Second
	spec := &config.ConnectionSpec{
		Name:      "orders",
		Backend:   "database",
		Host:      "db.internal",
		Username:  "app",
		Password:  "hunter2",
		Timeout:   &timeout,
		SecretRef: "prod/orders",
		Settings:  map[string]string{"type": "postgresql"},
	}

	mock.ExpectExec(saveSQL).
		WithArgs("orders", "database", specArg{contains: []string{"db.internal", "prod/orders", "15s", "postgresql"}}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Save(context.Background(), spec))
	assert.Equal(t, "hunter2", spec.Password, "caller's spec is untouched")
}

func TestStoreGetAndList(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	doc := "backend: api\nhost: https://status.example.com\ntimeout: 5s\nsettings:\n  auth_method: none\n"

	mock.ExpectQuery(getSQL).WithArgs("status").
		WillReturnRows(sqlmock.NewRows([]string{"spec"}).AddRow(doc))
	spec, err := s.Get(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, "status", spec.Name)
	assert.Equal(t, "api", spec.Backend)
	require.NotNil(t, spec.Timeout)
	assert.Equal(t, 5*time.Second, *spec.Timeout)

	mock.ExpectQuery(getSQL).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"spec"}))
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(listSQL).
		WillReturnRows(sqlmock.NewRows([]string{"name", "spec"}).
			AddRow("a", "backend: ssh\nhost: 10.0.0.1\n").
			AddRow("b", doc))
	specs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "ssh", specs[0].Backend)
	assert.Equal(t, "b", specs[1].Name)
}

func TestStoreDelete(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(deleteSQL).WithArgs("orders").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "orders"))

	mock.ExpectExec(deleteSQL).WithArgs("orders").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(ctx, "orders"), ErrNotFound)

	mock.ExpectExec(deleteSQL).WithArgs("orders").WillReturnError(errors.New("connection reset"))
	assert.ErrorContains(t, s.Delete(ctx, "orders"), "connection reset")
}

func TestRegistryPersistsThroughStore(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	r := New(WithStore(s))

	mock.ExpectExec(saveSQL).
		WithArgs("status", "api", specArg{contains: []string{"status.example.com"}}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := r.RegisterSpec(ctx, &config.ConnectionSpec{
		Name: "status", Backend: "api", Host: "https://status.example.com",
	})
	require.NoError(t, err)

	mock.ExpectExec(deleteSQL).WithArgs("status").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, r.Unregister(ctx, "status"))

	// A fresh registry rebuilds from the stored rows, skipping names it has
	// and rows that no longer validate.
	fresh := New(WithStore(s))
	conn, _ := mockConn(t, "taken")
	require.NoError(t, fresh.Register(conn))

	mock.ExpectQuery(listSQL).
		WillReturnRows(sqlmock.NewRows([]string{"name", "spec"}).
			AddRow("status", "backend: api\nhost: https://status.example.com\n").
			AddRow("taken", "backend: api\nhost: https://other.example.com\n").
			AddRow("broken", "backend: ssh\n"))
	require.NoError(t, fresh.LoadStore(ctx))
	assert.Equal(t, []string{"status", "taken"}, fresh.List())

	h, err := fresh.Get("taken")
	require.NoError(t, err)
	assert.Equal(t, "mock", h.Backend())
}

// registeringResolver registers h while a stored spec is being built
type registeringResolver struct {
	reg *Registry
	h   sdk.Handle
}

func (r registeringResolver) Resolve(context.Context, string) (map[string]string, error) {
	if err := r.reg.Register(r.h); err != nil {
		return nil, err
	}
	return map[string]string{}, nil
}

func TestLoadStoreLogsNameTakenDuringBuild(t *testing.T) {
	s, mock := newMockStore(t)
	var buf bytes.Buffer
	log := logger.NewWithWriter("registry", &buf)

	factory := &Factory{Log: log}
	r := New(WithStore(s), WithLogger(log), WithFactory(factory))
	conn, _ := mockConn(t, "status")
	factory.Secrets = registeringResolver{reg: r, h: conn}

	mock.ExpectQuery(listSQL).
		WillReturnRows(sqlmock.NewRows([]string{"name", "spec"}).
			AddRow("status", "backend: api\nhost: https://status.example.com\nsecret_ref: status-creds\n"))
	require.NoError(t, r.LoadStore(context.Background()))

	h, err := r.Get("status")
	require.NoError(t, err)
	assert.Equal(t, "mock", h.Backend())
	assert.Contains(t, buf.String(), "Skipping stored connection")
	assert.Contains(t, buf.String(), ErrAlreadyRegistered.Error())
}
