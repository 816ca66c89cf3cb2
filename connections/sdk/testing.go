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
	"fmt"
	"sync"
	"time"

	"github.com/manish59/Pangolin/connections/base"
)

// MockHandle is the native handle produced by MockDriver
type MockHandle struct {
	Serial int
}

// MockRequest is the request type accepted by MockDriver
type MockRequest struct {
	Op      string                 `json:"op"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// MockResult is returned by MockDriver for each successful execute
type MockResult struct {
	Op     string `json:"op"`
	Serial int    `json:"serial"`
}

// MockDriver provides a scriptable driver for testing lifecycle behavior
type MockDriver struct {
	backend string

	// Connect script: one entry per attempt, nil means success.
	// Attempts beyond the script use connectError.
	connectScript   []error
	connectError    error
	clock           *FakeClock
	connectTimes    []time.Duration
	executeError    error
	disconnectError error

	onExecute func(context.Context, *MockHandle, MockRequest) (MockResult, error)

	// Call tracking
	connectCalls    int
	executeCalls    []MockRequest
	disconnectCalls int
	serial          int

	mu sync.Mutex
}

var _ base.Driver[*MockHandle, MockRequest, MockResult] = (*MockDriver)(nil)

// NewMockDriver creates a mock driver that always succeeds
func NewMockDriver(backend string) *MockDriver {
	return &MockDriver{backend: backend}
}

// SetConnectScript sets per-attempt connect outcomes; nil entries succeed
func (m *MockDriver) SetConnectScript(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectScript = errs
}

// SetConnectError makes every unscripted connect attempt fail with err
func (m *MockDriver) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

// SetConnectDurations advances clock on each connect attempt by the next
// duration in ds, cycling when the list is exhausted
func (m *MockDriver) SetConnectDurations(clock *FakeClock, ds ...time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	m.connectTimes = ds
}

// SetExecuteError makes every execute fail with err
func (m *MockDriver) SetExecuteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeError = err
}

// SetDisconnectError makes every disconnect fail with err
func (m *MockDriver) SetDisconnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectError = err
}

// OnExecute installs a custom execute implementation
func (m *MockDriver) OnExecute(fn func(context.Context, *MockHandle, MockRequest) (MockResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExecute = fn
}

// Backend implements base.Driver
func (m *MockDriver) Backend() string { return m.backend }

// ConnectImpl implements base.Driver
func (m *MockDriver) ConnectImpl(ctx context.Context) (*MockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt := m.connectCalls
	m.connectCalls++
	if m.clock != nil && len(m.connectTimes) > 0 {
		m.clock.Advance(m.connectTimes[attempt%len(m.connectTimes)])
	}

	var err error
	if attempt < len(m.connectScript) {
		err = m.connectScript[attempt]
	} else {
		err = m.connectError
	}
	if err != nil {
		return nil, err
	}

	m.serial++
	return &MockHandle{Serial: m.serial}, nil
}

// ExecuteImpl implements base.Driver
func (m *MockDriver) ExecuteImpl(ctx context.Context, h *MockHandle, req MockRequest) (MockResult, error) {
	m.mu.Lock()
	m.executeCalls = append(m.executeCalls, req)
	fn := m.onExecute
	execErr := m.executeError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, h, req)
	}
	if execErr != nil {
		return MockResult{}, execErr
	}
	if h == nil {
		return MockResult{}, fmt.Errorf("execute on nil handle")
	}
	return MockResult{Op: req.Op, Serial: h.Serial}, nil
}

// DisconnectImpl implements base.Driver
func (m *MockDriver) DisconnectImpl(ctx context.Context, h *MockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	return m.disconnectError
}

// ConnectCalls returns the number of connect attempts
func (m *MockDriver) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// ExecuteCalls returns the requests passed to execute
func (m *MockDriver) ExecuteCalls() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.executeCalls...)
}

// DisconnectCalls returns the number of disconnect calls
func (m *MockDriver) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

// RecordingSleeper records requested delays without sleeping
type RecordingSleeper struct {
	mu     sync.Mutex
	Delays []time.Duration
	// Err, when set, is returned instead of sleeping
	Err error
}

// Sleep implements Sleeper
func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Delays = append(r.Delays, d)
	return nil
}

// FakeClock is a manually advanced clock for WithClock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// NewMockConnection builds a Connection over a MockDriver with recording sleeper
func NewMockConnection(cfg base.ConnectionConfig, opts ...Option) (*Connection[*MockHandle, MockRequest, MockResult], *MockDriver, *RecordingSleeper, error) {
	driver := NewMockDriver("mock")
	sleeper := &RecordingSleeper{}
	all := append([]Option{WithSleeper(sleeper.Sleep)}, opts...)
	conn, err := New[*MockHandle, MockRequest, MockResult](cfg, driver, all...)
	return conn, driver, sleeper, err
}
