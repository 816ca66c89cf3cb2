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

package base

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the backend-specific subkind carried by both error types
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindValidation    ErrorKind = "validation"
	KindAuthConfig    ErrorKind = "auth_config"
	KindTimeout       ErrorKind = "timeout"
	KindUnsupported   ErrorKind = "unsupported"
	KindHTTPStatus    ErrorKind = "http_status"
	KindCommandFailed ErrorKind = "command_failed"
	KindQueryFailed   ErrorKind = "query_failed"
	KindTransport     ErrorKind = "transport"
	KindCanceled      ErrorKind = "canceled"
)

// ErrUnrecoverable marks a disconnect failure after which the connection
// must finish in the error status instead of disconnected.
var ErrUnrecoverable = errors.New("unrecoverable disconnect failure")

// ErrInvalidConfig is wrapped by every configuration validation failure
var ErrInvalidConfig = errors.New("invalid connection config")

// ConnectionError is returned for connect and disconnect failures
type ConnectionError struct {
	Connection string
	Operation  string
	Kind       ErrorKind
	Message    string
	Details    map[string]interface{}
	Timestamp  time.Time
	Cause      error
}

func (e *ConnectionError) Error() string {
	return formatError(e.Connection, e.Operation, e.Kind, e.Message, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a context value and returns the error for chaining
func (e *ConnectionError) WithDetail(key string, value interface{}) *ConnectionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewConnectionError creates a new ConnectionError stamped with the current time
func NewConnectionError(connection, operation string, kind ErrorKind, message string, cause error) *ConnectionError {
	return &ConnectionError{
		Connection: connection,
		Operation:  operation,
		Kind:       kind,
		Message:    message,
		Details:    make(map[string]interface{}),
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// ExecutionError is returned for execute failures
type ExecutionError struct {
	Connection string
	Operation  string
	Kind       ErrorKind
	Message    string
	Details    map[string]interface{}
	Timestamp  time.Time
	Cause      error
}

func (e *ExecutionError) Error() string {
	return formatError(e.Connection, e.Operation, e.Kind, e.Message, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a context value and returns the error for chaining
func (e *ExecutionError) WithDetail(key string, value interface{}) *ExecutionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewExecutionError creates a new ExecutionError stamped with the current time
func NewExecutionError(connection, operation string, kind ErrorKind, message string, cause error) *ExecutionError {
	return &ExecutionError{
		Connection: connection,
		Operation:  operation,
		Kind:       kind,
		Message:    message,
		Details:    make(map[string]interface{}),
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func formatError(connection, operation string, kind ErrorKind, message string, cause error) string {
	msg := fmt.Sprintf("%s.%s [%s]: %s", connection, operation, kind, message)
	if cause != nil {
		msg += " (cause: " + cause.Error() + ")"
	}
	return msg
}

// IsConnectionError reports whether err has a ConnectionError in its chain
func IsConnectionError(err error) bool {
	_, ok := AsConnectionError(err)
	return ok
}

// IsExecutionError reports whether err has an ExecutionError in its chain
func IsExecutionError(err error) bool {
	_, ok := AsExecutionError(err)
	return ok
}

// AsConnectionError extracts the first ConnectionError in err's chain
func AsConnectionError(err error) (*ConnectionError, bool) {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsExecutionError extracts the first ExecutionError in err's chain
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// KindOf returns the subkind of a typed error, or classifies context errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ce, ok := AsConnectionError(err); ok {
		return ce.Kind
	}
	if ee, ok := AsExecutionError(err); ok {
		return ee.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}

// DetailsOf returns the structured details of a typed error, or nil
func DetailsOf(err error) map[string]interface{} {
	if ce, ok := AsConnectionError(err); ok {
		return ce.Details
	}
	if ee, ok := AsExecutionError(err); ok {
		return ee.Details
	}
	return nil
}
