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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/registry"
	"github.com/manish59/Pangolin/connections/sdk"
)

type fixture struct {
	srv    *httptest.Server
	driver *sdk.MockDriver
	conn   *sdk.Connection[*sdk.MockHandle, sdk.MockRequest, sdk.MockResult]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := base.NewConfigBuilder("orders", "mock://orders").
		WithMaxRetries(0).
		WithRetryInterval(time.Millisecond).
		MustBuild()
	conn, driver, _, err := sdk.NewMockConnection(cfg)
	require.NoError(t, err)

	collector := sdk.NewCollector("pangolin")
	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(collector))

	reg := registry.New(registry.WithCollector(collector))
	require.NoError(t, reg.Register(conn))

	srv := httptest.NewServer(New(reg, promReg, nil, opts...).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, driver: driver, conn: conn}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "GET", "/connections", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []sdk.Info
	require.NoError(t, json.Unmarshal(body, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "orders", infos[0].Name)
	assert.Equal(t, base.StatusInitialized, infos[0].Status)

	resp, body = f.do(t, "GET", "/connections/orders", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info sdk.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "mock", info.Backend)
	assert.NotContains(t, string(body), "password")

	resp, body = f.do(t, "GET", "/connections/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "connection not found")
}

func TestConnectExecuteDisconnect(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/connections/orders/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, f.conn.IsConnected())

	resp, body = f.do(t, "POST", "/connections/orders/execute", `{"op":"ping"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Name   string         `json:"name"`
		Result sdk.MockResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "orders", out.Name)
	assert.Equal(t, "ping", out.Result.Op)
	require.Len(t, f.driver.ExecuteCalls(), 1)

	resp, _ = f.do(t, "POST", "/connections/orders/disconnect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, base.StatusDisconnected, f.conn.Status())
	assert.Equal(t, 1, f.driver.DisconnectCalls())
}

func TestExecuteErrors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/connections/orders/execute", `{"op":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, base.KindValidation, er.Kind)

	f.driver.SetExecuteError(errors.New("upstream closed the stream"))
	resp, body = f.do(t, "POST", "/connections/orders/execute", `{"op":"ping"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "upstream closed the stream")
	assert.Equal(t, base.StatusError, f.conn.Status())

	resp, _ = f.do(t, "POST", "/connections/orders/execute", strings.Repeat("x", MaxRequestBody+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestExecuteRateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		resp, body := f.do(t, "POST", "/connections/orders/execute", `{"op":"ping"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	resp, body := f.do(t, "POST", "/connections/orders/execute", `{"op":"ping"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(body), "rate limit exceeded for orders")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Len(t, f.driver.ExecuteCalls(), 2)

	// connect is not limited
	resp, _ = f.do(t, "POST", "/connections/orders/connect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.SetConnectError(base.NewConnectionError("orders", "connect", base.KindTransport, "refused", nil))

	resp, body := f.do(t, "POST", "/connections/orders/connect", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, base.KindTransport, er.Kind)
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, "POST", "/connections/orders/connect", "")

	resp, body := f.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `pangolin_connection_connects_total{backend="mock",connection="orders"} 1`)
	assert.Contains(t, string(body), `pangolin_connection_status{backend="mock",connection="orders",status="connected"} 1`)

	resp, body = f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","connections":1}`, string(body))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest("OPTIONS", f.srv.URL+"/connections", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{base.NewExecutionError("c", "execute", base.KindValidation, "bad", nil), http.StatusBadRequest},
		{base.NewExecutionError("c", "execute", base.KindUnsupported, "no", nil), http.StatusBadRequest},
		{base.NewConnectionError("c", "connect", base.KindTimeout, "slow", nil), http.StatusGatewayTimeout},
		{base.NewConnectionError("c", "connect", base.KindAuthConfig, "denied", nil), http.StatusBadGateway},
		{base.NewExecutionError("c", "execute", base.KindQueryFailed, "syntax", nil), http.StatusBadGateway},
		{base.ErrInvalidConfig, http.StatusBadRequest},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
