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
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manish59/Pangolin/connections/base"
)

// Collector exports the metrics of every added connection to Prometheus.
// Values are read from Metrics() snapshots at scrape time.
type Collector struct {
	mu      sync.RWMutex
	handles map[string]Handle

	connections    *prometheus.Desc
	failed         *prometheus.Desc
	disconnections *prometheus.Desc
	errors         *prometheus.Desc
	retries        *prometheus.Desc
	avgConnect     *prometheus.Desc
	lastConnected  *prometheus.Desc
	status         *prometheus.Desc
}

// NewCollector creates a collector whose metric names start with namespace
func NewCollector(namespace string) *Collector {
	labels := []string{"connection", "backend"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "connection", name), help, append(labels, extra...), nil)
	}

	return &Collector{
		handles:        make(map[string]Handle),
		connections:    desc("connects_total", "Successful connects."),
		failed:         desc("failed_connects_total", "Failed connect attempts."),
		disconnections: desc("disconnects_total", "Native handle releases."),
		errors:         desc("errors_total", "Errors recorded in any phase."),
		retries:        desc("retries_total", "Connect retries after backoff."),
		avgConnect:     desc("avg_connect_seconds", "Running mean of successful connect durations."),
		lastConnected:  desc("last_connected_timestamp_seconds", "Unix time of the last successful connect."),
		status:         desc("status", "Current lifecycle status, one series per status set to 1 for the active one.", "status"),
	}
}

// Add registers a connection under its name, replacing any previous one
func (c *Collector) Add(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[h.Name()] = h
}

// Remove stops exporting the named connection
func (c *Collector) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, name)
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.failed
	ch <- c.disconnections
	ch <- c.errors
	ch <- c.retries
	ch <- c.avgConnect
	ch <- c.lastConnected
	ch <- c.status
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	names := make([]string, 0, len(c.handles))
	for name := range c.handles {
		names = append(names, name)
	}
	handles := make([]Handle, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		handles = append(handles, c.handles[name])
	}
	c.mu.RUnlock()

	for _, h := range handles {
		m := h.Metrics()
		name, backend := h.Name(), h.Backend()

		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.CounterValue, float64(m.TotalConnections), name, backend)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(m.FailedConnections), name, backend)
		ch <- prometheus.MustNewConstMetric(c.disconnections, prometheus.CounterValue, float64(m.TotalDisconnections), name, backend)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(m.TotalErrors), name, backend)
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(m.TotalRetries), name, backend)
		ch <- prometheus.MustNewConstMetric(c.avgConnect, prometheus.GaugeValue, m.AvgConnectionTime, name, backend)

		var last float64
		if !m.LastConnectedAt.IsZero() {
			last = float64(m.LastConnectedAt.UnixNano()) / 1e9
		}
		ch <- prometheus.MustNewConstMetric(c.lastConnected, prometheus.GaugeValue, last, name, backend)

		current := h.Status()
		for _, s := range base.AllStatuses() {
			v := 0.0
			if s == current {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, v, name, backend, string(s))
		}
	}
}
