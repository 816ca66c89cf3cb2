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

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

// BackendName identifies the API backend
const BackendName = "api"

// Client is the native handle of an API connection
type Client struct {
	HTTP    *http.Client
	Auth    AuthProvider
	Headers map[string]string
}

// Request describes one API call
type Request struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     interface{}       `json:"body,omitempty"`
}

// Response is the result of a successful API call
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	ElapsedMS  float64           `json:"elapsed_ms"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Data       interface{}       `json:"data"`
}

// Connection is the lifecycle-managed API connection
type Connection = sdk.Connection[*Client, Request, *Response]

// Driver implements the API primitives over net/http
type Driver struct {
	cfg        *Config
	httpClient *http.Client
	now        func() time.Time
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithHTTPClient uses client instead of building one from the config
func WithHTTPClient(client *http.Client) DriverOption {
	return func(d *Driver) { d.httpClient = client }
}

// WithNow replaces the time source used for HMAC timestamps
func WithNow(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// NewDriver creates the API driver for cfg
func NewDriver(cfg *Config, opts ...DriverOption) *Driver {
	d := &Driver{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New validates cfg and returns a lifecycle-managed API connection
func New(cfg *Config, driverOpts []DriverOption, opts ...sdk.Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sdk.New[*Client, Request, *Response](cfg.ConnectionConfig, NewDriver(cfg, driverOpts...), opts...)
}

// Backend implements base.Driver
func (d *Driver) Backend() string { return BackendName }

func (d *Driver) buildHTTPClient() *http.Client {
	if d.httpClient != nil {
		client := *d.httpClient
		if d.cfg.AuthMethod == AuthDigest {
			client.Transport = newDigestTransport(d.cfg.Username, d.cfg.Password, client.Transport)
		}
		return &client
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if !d.cfg.SSLVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	var transport http.RoundTripper = &http.Transport{
		TLSClientConfig: tlsConfig,
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if d.cfg.AuthMethod == AuthDigest {
		transport = newDigestTransport(d.cfg.Username, d.cfg.Password, transport)
	}

	return &http.Client{Timeout: d.cfg.Timeout, Transport: transport}
}

// ConnectImpl builds the client and probes the host with a HEAD request.
// 200, 201 and 204 count as reachable.
func (d *Driver) ConnectImpl(ctx context.Context) (*Client, error) {
	headers, err := d.cfg.ResolveHeaders()
	if err != nil {
		return nil, err
	}
	auth, err := NewAuthProvider(d.cfg, d.now)
	if err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindAuthConfig, "auth setup failed", err)
	}

	client := &Client{HTTP: d.buildHTTPClient(), Auth: auth, Headers: headers}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.cfg.Host, nil)
	if err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindValidation, "failed to create request", err)
	}
	applyHeaders(req, headers)
	if err := auth.Authenticate(ctx, req); err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindAuthConfig, "authentication failed", err).
			WithDetail("auth_method", auth.Type())
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", transportKind(err), "connection test failed", err).
			WithDetail("host", d.cfg.Host)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return client, nil
	}
	client.HTTP.CloseIdleConnections()
	return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindHTTPStatus,
		fmt.Sprintf("connection test failed with status %d", resp.StatusCode), nil).
		WithDetail("status_code", resp.StatusCode)
}

// ExecuteImpl sends one request. Any status of 400 or above is an ExecutionError.
func (d *Driver) ExecuteImpl(ctx context.Context, client *Client, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	reqURL, err := url.Parse(d.cfg.FullURL(r.Endpoint))
	if err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, "invalid endpoint", err)
	}
	if len(r.Params) > 0 {
		q := reqURL.Query()
		for k, v := range r.Params {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, "failed to encode body", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, "failed to create request", err)
	}
	applyHeaders(req, client.Headers)
	applyHeaders(req, r.Headers)
	if err := client.Auth.Authenticate(ctx, req); err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindAuthConfig, "authentication failed", err)
	}

	start := d.now()
	resp, err := client.HTTP.Do(req)
	if err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", transportKind(err), "request failed", err).
			WithDetail("method", method).
			WithDetail("url", reqURL.String())
	}
	defer func() { _ = resp.Body.Close() }()
	elapsed := d.now().Sub(start)

	limit := d.cfg.MaxResponseSize
	if limit <= 0 {
		limit = DefaultMaxResponseSize
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindTransport, "failed to read response", err)
	}
	if int64(len(raw)) > limit {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation,
			fmt.Sprintf("response size exceeds limit of %d bytes", limit), nil)
	}

	if resp.StatusCode >= 400 {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindHTTPStatus,
			fmt.Sprintf("API request failed with status %d", resp.StatusCode), nil).
			WithDetail("status_code", resp.StatusCode).
			WithDetail("method", method).
			WithDetail("url", reqURL.String()).
			WithDetail("body", snippet)
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		ElapsedMS:  float64(elapsed) / float64(time.Millisecond),
		URL:        resp.Request.URL.String(),
		Method:     method,
	}
	for k := range resp.Header {
		result.Headers[k] = resp.Header.Get(k)
	}

	var data interface{}
	if len(raw) > 0 && json.Unmarshal(raw, &data) == nil {
		result.Data = data
	} else {
		result.Data = string(raw)
	}
	return result, nil
}

// DisconnectImpl releases pooled connections
func (d *Driver) DisconnectImpl(ctx context.Context, client *Client) error {
	if client != nil && client.HTTP != nil {
		client.HTTP.CloseIdleConnections()
	}
	return nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func transportKind(err error) base.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return base.KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return base.KindTimeout
	}
	return base.KindTransport
}
