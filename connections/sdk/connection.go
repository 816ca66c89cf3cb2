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
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/shared/logger"
)

// Option configures a Connection
type Option func(*options)

type options struct {
	logger      *logger.Logger
	sleep       Sleeper
	now         func() time.Time
	rnd         func() float64
	resultLimit int
	id          string
}

// WithLogger injects the structured logger used for lifecycle events
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSleeper replaces the backoff sleep, mainly for tests
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithClock replaces the time source used for timestamps and durations
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(o *options) { o.rnd = fn }
}

// WithResultLimit caps the retained result history. Zero keeps everything.
func WithResultLimit(n int) Option {
	return func(o *options) { o.resultLimit = n }
}

// WithID sets the connection id instead of generating one
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// Connection drives one backend Driver through the connect, execute and
// disconnect lifecycle. It is meant for one logical caller at a time; the
// internal mutex only lets observers read state while the owner works and
// is never held across a primitive call or a backoff sleep.
type Connection[H any, Req any, Res any] struct {
	id     string
	cfg    base.ConnectionConfig
	driver base.Driver[H, Req, Res]

	log         *logger.Logger
	sleep       Sleeper
	now         func() time.Time
	rnd         func() float64
	resultLimit int

	mu         sync.RWMutex
	status     base.ConnectionStatus
	metrics    base.ConnectionMetrics
	errs       []error
	results    []Res
	lastResult Res
	hasResult  bool
	handle     H
	hasHandle  bool
}

// New validates cfg and returns a connection in the initialized status
func New[H any, Req any, Res any](cfg base.ConnectionConfig, driver base.Driver[H, Req, Res], opts ...Option) (*Connection[H, Req, Res], error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: driver is required", base.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		sleep: ContextSleep,
		now:   time.Now,
		rnd:   rand.Float64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Nop()
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}

	return &Connection[H, Req, Res]{
		id:          o.id,
		cfg:         cfg,
		driver:      driver,
		log:         o.logger,
		sleep:       o.sleep,
		now:         o.now,
		rnd:         o.rnd,
		resultLimit: o.resultLimit,
		status:      base.StatusInitialized,
	}, nil
}

// Connect opens the native handle, retrying up to MaxRetries times with
// backoff. It is a no-op returning the current handle when already connected,
// and fails without touching the driver while another transition is running.
// On exhaustion the status is error and the returned *ConnectionError wraps
// the last attempt's error.
func (c *Connection[H, Req, Res]) Connect(ctx context.Context) (H, error) {
	var zero H

	c.mu.Lock()
	if c.status == base.StatusConnected && c.hasHandle {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	if !c.status.CanConnect() {
		status := c.status
		c.mu.Unlock()
		return zero, base.NewConnectionError(c.cfg.Name, "connect", base.KindValidation,
			fmt.Sprintf("cannot connect while %s", status), nil).WithDetail("status", string(status))
	}
	c.status = base.StatusConnecting
	c.mu.Unlock()

	attempts := c.cfg.MaxRetries + 1
	c.log.Info(c.id, "Connecting", map[string]interface{}{
		"name":        c.cfg.Name,
		"backend":     c.driver.Backend(),
		"host":        c.cfg.Host,
		"max_retries": c.cfg.MaxRetries,
	})

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		start := c.now()
		h, err := c.driver.ConnectImpl(ctx)
		if err == nil {
			elapsed := c.now().Sub(start)
			c.mu.Lock()
			c.handle = h
			c.hasHandle = true
			c.status = base.StatusConnected
			c.metrics.RecordConnect(elapsed, c.now())
			c.mu.Unlock()

			c.log.InfoWithDuration(c.id, "Connected", elapsed, map[string]interface{}{
				"name":    c.cfg.Name,
				"attempt": attempt + 1,
			})
			return h, nil
		}

		lastErr = c.asConnectionError("connect", err).WithDetail("attempt", attempt+1)
		c.mu.Lock()
		c.metrics.RecordFailedAttempt(c.now())
		c.errs = append(c.errs, lastErr)
		c.mu.Unlock()

		if attempt == attempts-1 {
			break
		}

		delay := RetryDelay(c.cfg, attempt, c.rnd)
		c.log.Warn(c.id, "Connect attempt failed, retrying", map[string]interface{}{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if serr := c.sleep(ctx, delay); serr != nil {
			return zero, c.abortConnect(serr, attempt+1, lastErr)
		}
		c.mu.Lock()
		c.metrics.RecordRetry()
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.status = base.StatusError
	c.mu.Unlock()

	c.log.ErrorWithErr(c.id, "Connection failed after retries", lastErr, map[string]interface{}{
		"attempts": attempts,
	})

	exhausted := base.NewConnectionError(c.cfg.Name, "connect", base.KindOf(lastErr),
		fmt.Sprintf("failed after %d attempts", attempts), lastErr)
	exhausted.WithDetail("attempts", attempts)
	return zero, exhausted
}

// abortConnect finalizes a connect cut short by context cancellation during backoff
func (c *Connection[H, Req, Res]) abortConnect(cause error, attempts int, lastErr error) error {
	ctxErr := base.NewConnectionError(c.cfg.Name, "connect", base.KindOf(cause), "retry aborted", cause)
	ctxErr.WithDetail("attempts", attempts)
	if lastErr != nil {
		ctxErr.WithDetail("last_error", lastErr.Error())
	}

	c.mu.Lock()
	c.status = base.StatusError
	c.metrics.RecordError(c.now())
	c.errs = append(c.errs, ctxErr)
	c.mu.Unlock()

	c.log.ErrorWithErr(c.id, "Connect aborted", cause, nil)
	return ctxErr
}

// Execute runs req on the native handle, connecting once first if needed.
// A primitive failure moves the connection to error, records the failure,
// releases the handle and returns the *ExecutionError. A later Execute
// reconnects implicitly.
func (c *Connection[H, Req, Res]) Execute(ctx context.Context, req Req) (Res, error) {
	var zero Res

	c.mu.RLock()
	h, connected := c.handle, c.status == base.StatusConnected && c.hasHandle
	c.mu.RUnlock()

	if !connected {
		var err error
		if h, err = c.Connect(ctx); err != nil {
			return zero, err
		}
	}

	start := c.now()
	res, err := c.driver.ExecuteImpl(ctx, h, req)
	if err != nil {
		execErr := c.asExecutionError(err)
		c.mu.Lock()
		c.status = base.StatusError
		c.metrics.RecordError(c.now())
		c.errs = append(c.errs, execErr)
		c.mu.Unlock()

		c.log.ErrorWithErr(c.id, "Execution failed", execErr, map[string]interface{}{
			"kind": string(execErr.Kind),
		})

		// An execution failure invalidates the handle.
		_, _ = c.release(ctx)
		return zero, execErr
	}

	c.mu.Lock()
	c.results = append(c.results, res)
	if c.resultLimit > 0 && len(c.results) > c.resultLimit {
		c.results = append([]Res(nil), c.results[len(c.results)-c.resultLimit:]...)
	}
	c.lastResult = res
	c.hasResult = true
	c.mu.Unlock()

	c.log.Debug(c.id, "Executed", map[string]interface{}{
		"duration_ms": float64(c.now().Sub(start)) / float64(time.Millisecond),
	})
	return res, nil
}

// Disconnect releases the native handle. It is a no-op when already
// disconnected and never leaves the connection in the disconnecting status.
// A failing primitive is recorded and returned but the status still
// finalizes, to error only when the failure wraps base.ErrUnrecoverable.
func (c *Connection[H, Req, Res]) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == base.StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.status = base.StatusDisconnecting
	c.mu.Unlock()

	held, err := c.release(ctx)

	final := base.StatusDisconnected
	if err != nil && errors.Is(err, base.ErrUnrecoverable) {
		final = base.StatusError
	}

	c.mu.Lock()
	c.status = final
	if !held {
		c.metrics.LastDisconnectedAt = c.now()
	}
	c.mu.Unlock()

	if err != nil {
		c.log.ErrorWithErr(c.id, "Disconnect failed", err, map[string]interface{}{"status": string(final)})
		return err
	}
	c.log.Info(c.id, "Disconnected", map[string]interface{}{"name": c.cfg.Name})
	return nil
}

// release clears the handle and calls the disconnect primitive if one was
// held. The handle reference is dropped even when the primitive fails or panics.
func (c *Connection[H, Req, Res]) release(ctx context.Context) (held bool, err error) {
	var zeroH H

	c.mu.Lock()
	h, held := c.handle, c.hasHandle
	c.handle = zeroH
	c.hasHandle = false
	c.mu.Unlock()

	if !held {
		return false, nil
	}

	if perr := c.callDisconnect(ctx, h); perr != nil {
		err = c.asConnectionError("disconnect", perr)
	}

	c.mu.Lock()
	c.metrics.RecordDisconnect(c.now())
	if err != nil {
		c.metrics.RecordError(c.now())
		c.errs = append(c.errs, err)
	}
	c.mu.Unlock()

	return true, err
}

func (c *Connection[H, Req, Res]) callDisconnect(ctx context.Context, h H) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("disconnect panicked: %v", r)
		}
	}()
	return c.driver.DisconnectImpl(ctx, h)
}

func (c *Connection[H, Req, Res]) asConnectionError(op string, err error) *base.ConnectionError {
	if ce, ok := base.AsConnectionError(err); ok {
		if ce.Connection == "" {
			ce.Connection = c.cfg.Name
		}
		if ce.Operation == "" {
			ce.Operation = op
		}
		return ce
	}
	return base.NewConnectionError(c.cfg.Name, op, base.KindOf(err), err.Error(), err)
}

func (c *Connection[H, Req, Res]) asExecutionError(err error) *base.ExecutionError {
	if ee, ok := base.AsExecutionError(err); ok {
		if ee.Connection == "" {
			ee.Connection = c.cfg.Name
		}
		if ee.Operation == "" {
			ee.Operation = "execute"
		}
		return ee
	}
	return base.NewExecutionError(c.cfg.Name, "execute", base.KindOf(err), err.Error(), err)
}

// ID returns the connection's unique id
func (c *Connection[H, Req, Res]) ID() string { return c.id }

// Name returns the configured connection name
func (c *Connection[H, Req, Res]) Name() string { return c.cfg.Name }

// Backend returns the driver's backend type
func (c *Connection[H, Req, Res]) Backend() string { return c.driver.Backend() }

// Config returns a copy of the connection config
func (c *Connection[H, Req, Res]) Config() base.ConnectionConfig {
	cfg := c.cfg
	cfg.Options = make(map[string]string, len(c.cfg.Options))
	for k, v := range c.cfg.Options {
		cfg.Options[k] = v
	}
	return cfg
}

// Status returns the current lifecycle status
func (c *Connection[H, Req, Res]) Status() base.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected reports whether a native handle is currently open
func (c *Connection[H, Req, Res]) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status == base.StatusConnected && c.hasHandle
}

// Metrics returns a snapshot of the connection metrics
func (c *Connection[H, Req, Res]) Metrics() base.ConnectionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// Errors returns the recorded errors in the order they occurred
func (c *Connection[H, Req, Res]) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]error(nil), c.errs...)
}

// LastError returns the most recent recorded error, or nil
func (c *Connection[H, Req, Res]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[len(c.errs)-1]
}

// Results returns the retained results in execution order
func (c *Connection[H, Req, Res]) Results() []Res {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Res(nil), c.results...)
}

// LastResult returns the result of the most recent successful Execute
func (c *Connection[H, Req, Res]) LastResult() (Res, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResult, c.hasResult
}

// NativeHandle returns the open handle, if any
func (c *Connection[H, Req, Res]) NativeHandle() (H, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle, c.hasHandle
}

// Info is the aggregate debug record of a connection. It never carries
// credentials.
type Info struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Backend     string                 `json:"backend"`
	Status      base.ConnectionStatus  `json:"status"`
	Connected   bool                   `json:"connected"`
	Metrics     base.ConnectionMetrics `json:"metrics"`
	ErrorCount  int                    `json:"error_count"`
	LastError   string                 `json:"last_error,omitempty"`
	ResultCount int                    `json:"result_count"`
	Config      map[string]interface{} `json:"config"`
}

// Info returns the aggregate debug record
func (c *Connection[H, Req, Res]) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{
		ID:          c.id,
		Name:        c.cfg.Name,
		Backend:     c.driver.Backend(),
		Status:      c.status,
		Connected:   c.status == base.StatusConnected && c.hasHandle,
		Metrics:     c.metrics,
		ErrorCount:  len(c.errs),
		ResultCount: len(c.results),
		Config:      c.cfg.Summary(),
	}
	if len(c.errs) > 0 {
		info.LastError = c.errs[len(c.errs)-1].Error()
	}
	return info
}
