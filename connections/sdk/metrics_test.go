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
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish59/Pangolin/connections/base"
)

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestCollectorExportsConnectionMetrics(t *testing.T) {
	conn, driver, _ := newTestConnection(t, 1)
	driver.SetConnectScript(errors.New("refused"), nil)
	_, err := conn.Connect(context.Background())
	require.NoError(t, err)

	collector := NewCollector("pangolin")
	collector.Add(conn)

	// 7 scalar series plus one status series per lifecycle status
	assert.Equal(t, 7+len(base.AllStatuses()), testutil.CollectAndCount(collector))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	var activeStatus string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			assert.Equal(t, "test-conn", labelValue(m, "connection"))
			assert.Equal(t, "mock", labelValue(m, "backend"))
			switch mf.GetName() {
			case "pangolin_connection_status":
				if m.GetGauge().GetValue() == 1 {
					activeStatus = labelValue(m, "status")
				}
			default:
				if m.GetCounter() != nil {
					values[mf.GetName()] = m.GetCounter().GetValue()
				} else {
					values[mf.GetName()] = m.GetGauge().GetValue()
				}
			}
		}
	}

	assert.Equal(t, "connected", activeStatus)
	assert.Equal(t, 1.0, values["pangolin_connection_connects_total"])
	assert.Equal(t, 1.0, values["pangolin_connection_failed_connects_total"])
	assert.Equal(t, 1.0, values["pangolin_connection_retries_total"])
	assert.Equal(t, 1.0, values["pangolin_connection_errors_total"])
	assert.Greater(t, values["pangolin_connection_last_connected_timestamp_seconds"], 0.0)
}

func TestCollectorRemove(t *testing.T) {
	conn, _, _ := newTestConnection(t, 0)
	collector := NewCollector("pangolin")
	collector.Add(conn)
	collector.Remove(conn.Name())

	assert.Equal(t, 0, testutil.CollectAndCount(collector))
}
