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
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/manish59/Pangolin/connections/base"
)

// DatabaseType selects the SQL engine
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
	Oracle     DatabaseType = "oracle"
	MSSQL      DatabaseType = "mssql"
)

// DefaultPort returns the conventional port of a network database, or 0
func DefaultPort(t DatabaseType) int {
	switch t {
	case PostgreSQL:
		return 5432
	case MySQL:
		return 3306
	case Oracle:
		return 1521
	case MSSQL:
		return 1433
	}
	return 0
}

// Pool defaults
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Config extends the base connection config for SQL databases
type Config struct {
	base.ConnectionConfig

	Type             DatabaseType
	ConnectionString string
	Port             int
	Database         string
	ServiceName      string
	SID              string
	TNSName          string
	Schema           string
	SSLMode          string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewConfig wraps a base config with database defaults
func NewConfig(cfg base.ConnectionConfig, t DatabaseType) *Config {
	return &Config{
		ConnectionConfig: cfg,
		Type:             t,
		MaxOpenConns:     DefaultMaxOpenConns,
		MaxIdleConns:     DefaultMaxIdleConns,
		ConnMaxLifetime:  DefaultConnMaxLifetime,
	}
}

// Validate checks the base config and the fields required by the database type
func (c *Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}

	invalid := func(msg string) error {
		return base.NewConnectionError(c.Name, "validate", base.KindValidation, msg, nil).
			WithDetail("database_type", string(c.Type))
	}

	switch c.Type {
	case PostgreSQL, MySQL, SQLite, Oracle, MSSQL:
	default:
		return invalid(fmt.Sprintf("unsupported database type %q", c.Type))
	}
	if c.ConnectionString != "" {
		return nil
	}

	switch c.Type {
	case SQLite:
		if c.Database == "" {
			return invalid("sqlite connection requires a database path")
		}
	case Oracle:
		if c.TNSName == "" && (c.Host == "" || c.port() == 0 || (c.ServiceName == "" && c.SID == "" && c.Database == "")) {
			return invalid("oracle connection requires either connection_string, tns_name, or host/port/service_name (or SID)")
		}
	default:
		if c.Host == "" || c.port() == 0 || c.Database == "" || c.Username == "" || c.Password == "" {
			return invalid("database connection requires host, port, database, username, and password")
		}
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetime < 0 {
		return invalid("pool settings must not be negative")
	}
	return nil
}

func (c *Config) port() int {
	if c.Port > 0 {
		return c.Port
	}
	return DefaultPort(c.Type)
}

// DriverName returns the database/sql driver registered for the type
func (c *Config) DriverName() string {
	switch c.Type {
	case PostgreSQL:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	}
	return string(c.Type)
}

// Supported reports whether a Go driver is linked for the type
func (c *Config) Supported() bool {
	switch c.Type {
	case PostgreSQL, MySQL, SQLite:
		return true
	}
	return false
}

// DSN builds the driver connection string. An explicit ConnectionString wins.
func (c *Config) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}

	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(c.port()))
	switch c.Type {
	case PostgreSQL:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Username, c.Password),
			Host:   hostPort,
			Path:   "/" + c.Database,
		}
		q := url.Values{}
		q.Set("sslmode", c.postgresSSLMode())
		if c.Timeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(c.Timeout.Seconds())))
		}
		if c.Schema != "" {
			q.Set("search_path", c.Schema)
		}
		u.RawQuery = q.Encode()
		return u.String()

	case MySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = hostPort
		mc.DBName = c.Database
		mc.Timeout = c.Timeout
		mc.ParseTime = true
		switch {
		case !c.SSLEnabled:
			mc.TLSConfig = "false"
		case !c.SSLVerify:
			mc.TLSConfig = "skip-verify"
		default:
			mc.TLSConfig = "preferred"
		}
		return mc.FormatDSN()

	case SQLite:
		if c.Timeout > 0 && !strings.Contains(c.Database, "?") {
			return fmt.Sprintf("%s?_busy_timeout=%d", c.Database, c.Timeout.Milliseconds())
		}
		return c.Database

	case Oracle:
		if c.TNSName != "" {
			return c.TNSName
		}
		service := c.ServiceName
		if service == "" {
			service = c.Database
		}
		if service == "" {
			service = c.SID
		}
		return hostPort + "/" + service

	case MSSQL:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     hostPort,
			RawQuery: url.Values{"database": {c.Database}}.Encode(),
		}
		return u.String()
	}
	return ""
}

func (c *Config) postgresSSLMode() string {
	if c.SSLMode != "" {
		return c.SSLMode
	}
	switch {
	case !c.SSLEnabled:
		return "disable"
	case !c.SSLVerify:
		return "require"
	}
	return "verify-full"
}

// FromSettings builds a Config from flat string settings
func FromSettings(b base.ConnectionConfig, settings map[string]string) (*Config, error) {
	c := NewConfig(b, DatabaseType(strings.ToLower(settings["type"])))
	if c.Type == "" {
		c.Type = PostgreSQL
	}
	if c.Type == "postgres" {
		c.Type = PostgreSQL
	}

	for key, value := range settings {
		var err error
		switch key {
		case "connection_string":
			c.ConnectionString = value
		case "port":
			c.Port, err = strconv.Atoi(value)
		case "database":
			c.Database = value
		case "service_name":
			c.ServiceName = value
		case "sid":
			c.SID = value
		case "tns_name":
			c.TNSName = value
		case "schema":
			c.Schema = value
		case "sslmode":
			c.SSLMode = value
		case "max_open_conns":
			c.MaxOpenConns, err = strconv.Atoi(value)
		case "max_idle_conns":
			c.MaxIdleConns, err = strconv.Atoi(value)
		case "conn_max_lifetime":
			c.ConnMaxLifetime, err = time.ParseDuration(value)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: setting %s: %v", base.ErrInvalidConfig, key, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
