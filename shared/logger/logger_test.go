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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogWritesStructuredEntry(t *testing.T) {
	t.Setenv("INSTANCE_ID", "i-123")
	var buf bytes.Buffer
	l := NewWithWriter("connections", &buf)

	l.Info("conn-1", "connected", map[string]interface{}{"host": "db.local"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != INFO {
		t.Errorf("expected level INFO, got %s", e.Level)
	}
	if e.Component != "connections" {
		t.Errorf("expected component connections, got %s", e.Component)
	}
	if e.InstanceID != "i-123" {
		t.Errorf("expected instance id i-123, got %s", e.InstanceID)
	}
	if e.ConnectionID != "conn-1" {
		t.Errorf("expected connection id conn-1, got %s", e.ConnectionID)
	}
	if e.Fields["host"] != "db.local" {
		t.Errorf("expected host field, got %v", e.Fields)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

func TestMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	l.Debug("", "hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at INFO, got %q", buf.String())
	}

	l.SetLevel(DEBUG)
	l.Debug("", "shown", nil)
	if len(decodeLines(t, &buf)) != 1 {
		t.Fatalf("expected debug entry after SetLevel")
	}

	buf.Reset()
	l.SetLevel(ERROR)
	l.Warn("", "hidden", nil)
	l.Error("", "shown", nil)
	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Level != ERROR {
		t.Fatalf("expected single ERROR entry, got %+v", entries)
	}
}

func TestHelpersAddFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf)

	l.InfoWithDuration("c", "done", 1500*time.Microsecond, nil)
	l.ErrorWithErr("c", "failed", errors.New("boom"), map[string]interface{}{"attempt": 2})

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Fields["duration_ms"] != 1.5 {
		t.Errorf("expected duration_ms 1.5, got %v", entries[0].Fields["duration_ms"])
	}
	if entries[1].Fields["error"] != "boom" {
		t.Errorf("expected error field boom, got %v", entries[1].Fields["error"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{" Info ", INFO, false},
		{"warning", WARN, false},
		{"ERROR", ERROR, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNilAndNopLoggersAreSafe(t *testing.T) {
	var l *Logger
	l.Info("", "ignored", nil)
	l.SetLevel(DEBUG)

	Nop().Error("", "ignored", nil)
}
