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

// Package registry keeps a named set of connections, builds them from
// connection specs and exports their metrics.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/sdk"
	"github.com/manish59/Pangolin/shared/logger"
)

var (
	ErrNotFound          = errors.New("connection not found")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// Registry manages named connections. Safe for concurrent use; the
// connections themselves are not.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]sdk.Handle
	specs   map[string]*config.ConnectionSpec

	factory   *Factory
	collector *sdk.Collector
	store     *Store
	log       *logger.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger for registry events
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithCollector adds every registered connection to c
func WithCollector(c *sdk.Collector) Option {
	return func(r *Registry) { r.collector = c }
}

// WithFactory replaces the default factory used by RegisterSpec and LoadFile
func WithFactory(f *Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithStore persists specs registered through RegisterSpec
func WithStore(s *Store) Option {
	return func(r *Registry) { r.store = s }
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		handles: make(map[string]sdk.Handle),
		specs:   make(map[string]*config.ConnectionSpec),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.factory == nil {
		r.factory = &Factory{Log: r.log}
	}
	return r
}

// Register adds h under its name. The connection is not opened.
func (r *Registry) Register(h sdk.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(h, nil)
}

func (r *Registry) registerLocked(h sdk.Handle, spec *config.ConnectionSpec) error {
	name := h.Name()
	if _, exists := r.handles[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.handles[name] = h
	if spec != nil {
		r.specs[name] = spec
	}
	if r.collector != nil {
		r.collector.Add(h)
	}
	r.log.Info(h.ID(), "Registered connection", map[string]interface{}{
		"name":    name,
		"backend": h.Backend(),
	})
	return nil
}

// RegisterSpec builds a connection from spec and registers it. Disabled
// specs are skipped and return a nil handle.
func (r *Registry) RegisterSpec(ctx context.Context, spec *config.ConnectionSpec) (sdk.Handle, error) {
	if !spec.IsEnabled() {
		r.log.Debug("", "Skipping disabled connection", map[string]interface{}{"name": spec.Name})
		return nil, nil
	}

	r.mu.RLock()
	_, exists := r.handles[spec.Name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, spec.Name)
	}

	h, err := r.factory.Build(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	err = r.registerLocked(h, spec)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		if err := r.store.Save(ctx, spec); err != nil {
			r.log.Warn(h.ID(), "Failed to persist connection spec", map[string]interface{}{
				"name":  spec.Name,
				"error": err.Error(),
			})
		}
	}
	return h, nil
}

// LoadFile registers every enabled connection of a YAML file. It stops at
// the first connection that fails to build.
func (r *Registry) LoadFile(ctx context.Context, path string) error {
	f, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	for _, spec := range f.Enabled() {
		if _, err := r.RegisterSpec(ctx, spec); err != nil {
			return err
		}
	}
	r.log.Info("", "Loaded connections file", map[string]interface{}{
		"path":        path,
		"connections": len(f.Connections),
	})
	return nil
}

// LoadStore registers every stored spec whose name is not yet taken
func (r *Registry) LoadStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	specs, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if _, err := r.Get(spec.Name); err == nil {
			continue
		}
		h, err := r.factory.Build(ctx, spec)
		if err != nil {
			r.log.Warn("", "Failed to build stored connection", map[string]interface{}{
				"name":  spec.Name,
				"error": err.Error(),
			})
			continue
		}
		r.mu.Lock()
		// A concurrent Register may have taken the name since the check.
		err = r.registerLocked(h, spec)
		r.mu.Unlock()
		if err != nil {
			r.log.Warn(h.ID(), "Skipping stored connection", map[string]interface{}{
				"name":  spec.Name,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Get returns the named connection
func (r *Registry) Get(name string) (sdk.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h, nil
}

// Spec returns the ConnectionSpec a connection was built from, if any
func (r *Registry) Spec(name string) (*config.ConnectionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// List returns the registered names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Infos returns a snapshot of every connection, in name order
func (r *Registry) Infos() []sdk.Info {
	names := r.List()
	infos := make([]sdk.Info, 0, len(names))
	for _, name := range names {
		if h, err := r.Get(name); err == nil {
			infos = append(infos, h.Info())
		}
	}
	return infos
}

// Unregister disconnects and removes the named connection. The connection
// is removed even when its disconnect fails; that error is returned.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.handles, name)
	_, stored := r.specs[name]
	delete(r.specs, name)
	if r.collector != nil {
		r.collector.Remove(name)
	}
	r.mu.Unlock()

	err := h.Disconnect(ctx)
	if err != nil {
		r.log.ErrorWithErr(h.ID(), "Error disconnecting connection", err, map[string]interface{}{"name": name})
	}

	if stored && r.store != nil {
		if derr := r.store.Delete(ctx, name); derr != nil {
			r.log.Warn(h.ID(), "Failed to delete stored connection spec", map[string]interface{}{
				"name":  name,
				"error": derr.Error(),
			})
		}
	}

	r.log.Info(h.ID(), "Unregistered connection", map[string]interface{}{"name": name})
	return err
}

// DisconnectAll disconnects every connection and keeps them registered.
// Errors from individual connections are joined.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.List() {
		h, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := h.Disconnect(ctx); err != nil {
			r.log.ErrorWithErr(h.ID(), "Error disconnecting connection", err, map[string]interface{}{"name": name})
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
