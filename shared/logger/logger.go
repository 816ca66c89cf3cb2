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

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = WARN
	}
	if _, ok := levelRank[level]; !ok {
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger writes one JSON object per line. A Logger is handed to each
// connection at construction; there is no package-level instance.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	minLevel LogLevel
	out      io.Writer
	mu       sync.Mutex
}

// LogEntry is the structured record written for every log call
type LogEntry struct {
	Timestamp    string                 `json:"timestamp"`
	Level        LogLevel               `json:"level"`
	Component    string                 `json:"component"`
	InstanceID   string                 `json:"instance_id"`
	Container    string                 `json:"container"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	Message      string                 `json:"message"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the specified component writing to stdout
func New(component string) *Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter creates a Logger that writes to w
func NewWithWriter(component string, w io.Writer) *Logger {
	// Get instance ID from environment (set during deployment)
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		minLevel:   INFO,
		out:        w,
	}
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return &Logger{Component: "nop", minLevel: ERROR, out: io.Discard}
}

// SetLevel sets the minimum level that is written
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// Enabled reports whether entries at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return levelRank[level] >= levelRank[l.minLevel]
}

// Log creates a structured log entry and writes it to the configured writer
func (l *Logger) Log(level LogLevel, connectionID, message string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:        level,
		Component:    l.Component,
		InstanceID:   l.InstanceID,
		Container:    l.Container,
		ConnectionID: connectionID,
		Message:      message,
		Fields:       fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(connectionID, message string, fields map[string]interface{}) {
	l.Log(INFO, connectionID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(connectionID, message string, fields map[string]interface{}) {
	l.Log(ERROR, connectionID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(connectionID, message string, fields map[string]interface{}) {
	l.Log(WARN, connectionID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(connectionID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, connectionID, message, fields)
}

// InfoWithDuration logs an info message with duration field
func (l *Logger) InfoWithDuration(connectionID, message string, duration time.Duration, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = float64(duration) / float64(time.Millisecond)
	l.Info(connectionID, message, fields)
}

// ErrorWithErr logs an error message with the error text attached
func (l *Logger) ErrorWithErr(connectionID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(connectionID, message, fields)
}
