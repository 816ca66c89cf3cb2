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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/sdk"
)

// BackendName identifies the database backend
const BackendName = "database"

// Execution modes for a Query
const (
	ModeAuto  = "auto"
	ModeQuery = "query"
	ModeExec  = "exec"
)

// Query is one SQL statement with positional and named arguments
type Query struct {
	Statement string                 `json:"statement"`
	Args      []interface{}          `json:"args,omitempty"`
	Named     map[string]interface{} `json:"named,omitempty"`
	Mode      string                 `json:"mode,omitempty"`
}

// Result holds the rows of a query or the outcome of a statement
type Result struct {
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowCount     int                      `json:"row_count"`
	RowsAffected int64                    `json:"rows_affected"`
	DurationMS   float64                  `json:"duration_ms"`
}

// Connection is the lifecycle-managed SQL connection
type Connection = sdk.Connection[*sql.DB, Query, *Result]

// Opener opens a database handle. sql.Open satisfies it.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Driver implements the SQL primitives over database/sql
type Driver struct {
	cfg  *Config
	open Opener
	now  func() time.Time
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithOpener replaces sql.Open
func WithOpener(open Opener) DriverOption {
	return func(d *Driver) { d.open = open }
}

// NewDriver creates the SQL driver for cfg
func NewDriver(cfg *Config, opts ...DriverOption) *Driver {
	d := &Driver{cfg: cfg, open: sql.Open, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New validates cfg and returns a lifecycle-managed SQL connection
func New(cfg *Config, driverOpts []DriverOption, opts ...sdk.Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return sdk.New[*sql.DB, Query, *Result](cfg.ConnectionConfig, NewDriver(cfg, driverOpts...), opts...)
}

// Backend implements base.Driver
func (d *Driver) Backend() string { return BackendName }

// ConnectImpl opens the pool and pings the server
func (d *Driver) ConnectImpl(ctx context.Context) (*sql.DB, error) {
	if !d.cfg.Supported() {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindUnsupported,
			fmt.Sprintf("no driver available for database type %s", d.cfg.Type), nil).
			WithDetail("database_type", string(d.cfg.Type))
	}

	db, err := d.open(d.cfg.DriverName(), d.cfg.DSN())
	if err != nil {
		return nil, base.NewConnectionError(d.cfg.Name, "connect", base.KindValidation, "failed to open database", err).
			WithDetail("database_type", string(d.cfg.Type))
	}

	db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	db.SetMaxIdleConns(d.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)

	pingCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, base.NewConnectionError(d.cfg.Name, "connect", errorKind(err, base.KindTransport), "failed to ping database", err).
			WithDetail("database_type", string(d.cfg.Type))
	}
	return db, nil
}

// ExecuteImpl runs q. Row-returning statements go through QueryContext,
// everything else through ExecContext.
func (d *Driver) ExecuteImpl(ctx context.Context, db *sql.DB, q Query) (*Result, error) {
	if strings.TrimSpace(q.Statement) == "" {
		return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation, "empty statement", nil)
	}
	mode := q.Mode
	if mode == "" || mode == ModeAuto {
		mode = ModeExec
		if ReturnsRows(q.Statement) {
			mode = ModeQuery
		}
	}

	execCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	args := q.args()
	start := d.now()

	switch mode {
	case ModeQuery:
		rows, err := db.QueryContext(execCtx, q.Statement, args...)
		if err != nil {
			return nil, d.queryError("query failed", q, err)
		}
		defer func() { _ = rows.Close() }()

		result, err := scanRows(rows)
		if err != nil {
			return nil, d.queryError("failed to read rows", q, err)
		}
		result.DurationMS = msSince(start, d.now())
		return result, nil

	case ModeExec:
		res, err := db.ExecContext(execCtx, q.Statement, args...)
		if err != nil {
			return nil, d.queryError("statement failed", q, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &Result{RowsAffected: affected, DurationMS: msSince(start, d.now())}, nil
	}

	return nil, base.NewExecutionError(d.cfg.Name, "execute", base.KindValidation,
		fmt.Sprintf("unknown mode %q", q.Mode), nil)
}

// DisconnectImpl closes the pool
func (d *Driver) DisconnectImpl(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func (d *Driver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, d.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (d *Driver) queryError(msg string, q Query, err error) error {
	stmt := q.Statement
	if len(stmt) > 200 {
		stmt = stmt[:200] + "..."
	}
	return base.NewExecutionError(d.cfg.Name, "execute", errorKind(err, base.KindQueryFailed), msg, err).
		WithDetail("statement", stmt)
}

// args appends named arguments in key order after the positional ones
func (q Query) args() []interface{} {
	args := make([]interface{}, 0, len(q.Args)+len(q.Named))
	args = append(args, q.Args...)
	if len(q.Named) == 0 {
		return args
	}
	names := make([]string, 0, len(q.Named))
	for name := range q.Named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, sql.Named(name, q.Named[name]))
	}
	return args
}

var rowKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"PRAGMA":   true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"VALUES":   true,
}

// ReturnsRows reports whether stmt starts with a row-returning keyword.
// Leading whitespace, line comments and block comments are skipped.
func ReturnsRows(stmt string) bool {
	s := stmt
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return false
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return false
			}
			s = s[idx+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				end = len(s)
			}
			return rowKeywords[strings.ToUpper(s[:end])]
		}
	}
}

func scanRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns, Rows: make([]map[string]interface{}, 0)}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func errorKind(err error, fallback base.ErrorKind) base.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return base.KindTimeout
	case errors.Is(err, context.Canceled):
		return base.KindCanceled
	}
	return fallback
}

func msSince(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}
