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

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/shared/logger"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS pangolin_connections (
	name VARCHAR(255) PRIMARY KEY,
	backend VARCHAR(50) NOT NULL,
	spec TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
)`
	saveSQL = `INSERT INTO pangolin_connections (name, backend, spec, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (name) DO UPDATE SET backend = EXCLUDED.backend, spec = EXCLUDED.spec, updated_at = NOW()`
	getSQL    = `SELECT spec FROM pangolin_connections WHERE name = $1`
	listSQL   = `SELECT name, spec FROM pangolin_connections ORDER BY name`
	deleteSQL = `DELETE FROM pangolin_connections WHERE name = $1`
)

// Store persists connection specs in PostgreSQL so a registry can be
// rebuilt on restart. Passwords are never written; credentials belong in
// the secret store referenced by secret_ref.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore wraps an open database. The schema is not created.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log}
}

// OpenStore connects to dsn with the postgres driver and creates the schema
func OpenStore(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}
	s := NewStore(db, log)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the connections table if it does not exist
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces spec
func (s *Store) Save(ctx context.Context, spec *config.ConnectionSpec) error {
	stored := spec.Clone()
	stored.Password = ""
	data, err := yaml.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, saveSQL, spec.Name, spec.Backend, string(data)); err != nil {
		return fmt.Errorf("failed to save connection %s: %w", spec.Name, err)
	}
	s.log.Debug("", "Saved connection spec", map[string]interface{}{"name": spec.Name})
	return nil
}

// Get loads one spec
func (s *Store) Get(ctx context.Context, name string) (*config.ConnectionSpec, error) {
	var data string
	err := s.db.QueryRowContext(ctx, getSQL, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection %s: %w", name, err)
	}
	return decodeSpec(name, data)
}

// List loads every stored spec in name order
func (s *Store) List(ctx context.Context) ([]*config.ConnectionSpec, error) {
	rows, err := s.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var specs []*config.ConnectionSpec
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		spec, err := decodeSpec(name, data)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return specs, nil
}

// Delete removes one spec
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, deleteSQL, name)
	if err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeSpec(name, data string) (*config.ConnectionSpec, error) {
	var spec config.ConnectionSpec
	if err := yaml.Unmarshal([]byte(data), &spec); err != nil {
		return nil, fmt.Errorf("failed to decode connection %s: %w", name, err)
	}
	spec.Name = name
	return &spec, nil
}
