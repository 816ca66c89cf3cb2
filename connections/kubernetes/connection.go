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

package kubernetes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

// BackendName identifies the Kubernetes backend
const BackendName = "kubernetes"

// Client is the native handle of a Kubernetes connection
type Client struct {
	Clientset     kubernetes.Interface
	ServerVersion string
}

// Request is one action on one resource kind. Body is the object as a JSON
// map for create and update.
type Request struct {
	Kind          ResourceKind           `json:"kind"`
	Action        Action                 `json:"action"`
	Namespace     string                 `json:"namespace,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Body          map[string]interface{} `json:"body,omitempty"`
	LabelSelector string                 `json:"label_selector,omitempty"`
	FieldSelector string                 `json:"field_selector,omitempty"`
}

// Result holds a single object, a list of objects or a delete confirmation
type Result struct {
	Kind      ResourceKind             `json:"kind"`
	Action    Action                   `json:"action"`
	Namespace string                   `json:"namespace,omitempty"`
	Object    map[string]interface{}   `json:"object,omitempty"`
	Items     []map[string]interface{} `json:"items,omitempty"`
	Count     int                      `json:"count,omitempty"`
	Deleted   bool                     `json:"deleted,omitempty"`
}

// Connection is the lifecycle-managed Kubernetes connection
type Connection = sdk.Connection[*Client, Request, *Result]

type requestError struct {
	msg   string
	cause error
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return e.cause }

// ClientsetFactory builds a clientset from a rest config
type ClientsetFactory func(*rest.Config) (kubernetes.Interface, error)

// Driver implements the Kubernetes primitives over client-go
type Driver struct {
	cfg        *Config
	newClients ClientsetFactory
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithClientsetFactory replaces kubernetes.NewForConfig
func WithClientsetFactory(fn ClientsetFactory) DriverOption {
	return func(d *Driver) { d.newClients = fn }
}

// NewDriver creates the Kubernetes driver for cfg
func NewDriver(cfg *Config, opts ...DriverOption) *Driver {
	d := &Driver{
		cfg: cfg,
		newClients: func(rc *rest.Config) (kubernetes.Interface, error) {
			return kubernetes.NewForConfig(rc)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New validates cfg and returns a lifecycle-managed Kubernetes connection
func New(cfg *Config, driverOpts []DriverOption, opts ...sdk.Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sdk.New[*Client, Request, *Result](cfg.ConnectionConfig, NewDriver(cfg, driverOpts...), opts...)
}

// Backend implements base.Driver
func (d *Driver) Backend() string { return BackendName }

// ConnectImpl builds the clientset and probes the server version
func (d *Driver) ConnectImpl(ctx context.Context) (*Client, error) {
	rc, err := d.cfg.RestConfig()
	if err != nil {
		return nil, err
	}
	cs, err := d.newClients(rc)
	if err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindValidation, "failed to create clientset", err)
	}

	// ServerVersion takes no context; run it aside so cancellation still returns.
	type probe struct {
		version string
		err     error
	}
	done := make(chan probe, 1)
	go func() {
		info, err := cs.Discovery().ServerVersion()
		if err != nil {
			done <- probe{err: err}
			return
		}
		done <- probe{version: info.GitVersion}
	}()

	select {
	case p := <-done:
		if p.err != nil {
			return nil, base.NewConnectionError(d.cfg.Name, "connect", statusKind(p.err, true), "failed to reach API server", p.err).
				WithDetail("host", rc.Host)
		}
		return &Client{Clientset: cs, ServerVersion: p.version}, nil
	case <-ctx.Done():
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindOf(ctx.Err()), "server version probe interrupted", ctx.Err())
	}
}

// ExecuteImpl dispatches req through the (kind, action) table
func (d *Driver) ExecuteImpl(ctx context.Context, client *Client, req Request) (*Result, error) {
	req.Kind = ResourceKind(strings.ToLower(string(req.Kind)))
	req.Action = Action(strings.ToLower(string(req.Action)))

	h, ok := handlers[handlerKey{req.Kind, req.Action}]
	if !ok {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindUnsupported,
			"unsupported resource action "+string(req.Kind)+"/"+string(req.Action), nil).
			WithDetail("kind", string(req.Kind)).
			WithDetail("action", string(req.Action))
	}

	switch req.Action {
	case ActionGet, ActionDelete:
		if req.Name == "" {
			return nil, d.invalid(req, string(req.Action)+" requires a name")
		}
	}

	ns := ""
	if IsNamespaced(req.Kind) {
		ns = req.Namespace
		if ns == "" {
			ns = d.cfg.Namespace
		}
	}

	res, err := h(ctx, client.Clientset, call{namespace: ns, req: req})
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return nil, d.invalid(req, re.msg)
		}
		ee := base.NewExecutionError(d.cfg.Name, "execute", statusKind(err, false), "kubernetes request failed", err).
			WithDetail("kind", string(req.Kind)).
			WithDetail("action", string(req.Action)).
			WithDetail("namespace", ns).
			WithDetail("name", req.Name)
		var status apierrors.APIStatus
		if errors.As(err, &status) {
			ee.WithDetail("status_code", int(status.Status().Code)).
				WithDetail("reason", string(status.Status().Reason))
		}
		return nil, ee
	}

	res.Kind = req.Kind
	res.Action = req.Action
	res.Namespace = ns
	return res, nil
}

// DisconnectImpl drops the clientset. client-go keeps no session state.
func (d *Driver) DisconnectImpl(ctx context.Context, client *Client) error {
	return nil
}

func (d *Driver) invalid(req Request, msg string) error {
	return base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, msg, nil).
		WithDetail("kind", string(req.Kind)).
		WithDetail("action", string(req.Action))
}

func statusKind(err error, connecting bool) base.ErrorKind {
	switch k := base.KindOf(err); k {
	case base.KindTimeout, base.KindCanceled:
		return k
	}
	var status apierrors.APIStatus
	if !errors.As(err, &status) {
		return base.KindTransport
	}
	code := int(status.Status().Code)
	if connecting && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
		return base.KindAuthConfig
	}
	if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
		return base.KindTimeout
	}
	return base.KindHTTPStatus
}
