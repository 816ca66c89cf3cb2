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

package sdk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/manish59/Pangolin/connections/base"
)

// Handle is the backend-agnostic view of a Connection used by the registry,
// the metrics collector and the CLI.
type Handle interface {
	ID() string
	Name() string
	Backend() string
	Status() base.ConnectionStatus
	IsConnected() bool
	Metrics() base.ConnectionMetrics
	Errors() []error
	LastError() error
	Info() Info

	// Open connects and discards the native handle
	Open(ctx context.Context) error
	// Do executes a request whose dynamic type must match the backend's request type
	Do(ctx context.Context, req interface{}) (interface{}, error)
	// DoJSON decodes raw into the backend's request type and executes it
	DoJSON(ctx context.Context, raw json.RawMessage) (interface{}, error)
	Disconnect(ctx context.Context) error
}

var _ Handle = (*Connection[struct{}, struct{}, struct{}])(nil)

// Open connects without exposing the native handle
func (c *Connection[H, Req, Res]) Open(ctx context.Context) error {
	_, err := c.Connect(ctx)
	return err
}

// Do executes req after checking it has the backend's request type
func (c *Connection[H, Req, Res]) Do(ctx context.Context, req interface{}) (interface{}, error) {
	typed, ok := req.(Req)
	if !ok {
		var want Req
		return nil, base.NewExecutionError(c.cfg.Name, "execute", base.KindValidation,
			fmt.Sprintf("request type %T does not match %T", req, want), nil)
	}
	return c.do(ctx, typed)
}

// DoJSON decodes raw into the backend's request type and executes it
func (c *Connection[H, Req, Res]) DoJSON(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req Req
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, base.NewExecutionError(c.cfg.Name, "execute", base.KindValidation,
				"invalid request JSON", err)
		}
	}
	return c.do(ctx, req)
}

func (c *Connection[H, Req, Res]) do(ctx context.Context, req Req) (interface{}, error) {
	res, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return res, nil
}
