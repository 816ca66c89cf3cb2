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

// Package server exposes a registry over HTTP: connection status, metrics
// and connect / execute / disconnect calls.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/manish59/Pangolin/connections/base"
	"github.com/manish59/Pangolin/connections/registry"
	"github.com/manish59/Pangolin/connections/sdk"
	"github.com/manish59/Pangolin/shared/logger"
)

// MaxRequestBody caps execute request bodies
const MaxRequestBody = 1 << 20

// Server routes HTTP calls to registered connections. Calls on the same
// connection are serialized; different connections run in parallel.
type Server struct {
	reg      *registry.Registry
	gatherer prometheus.Gatherer
	log      *logger.Logger

	locks sync.Map // name -> *sync.Mutex

	// Per-connection token bucket on execute; a zero limit disables it
	limit    rate.Limit
	burst    int
	limiters sync.Map // name -> *rate.Limiter
}

// Option configures a Server
type Option func(*Server)

// WithRateLimit caps execute calls per connection at rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limit = rate.Limit(rps)
		s.burst = burst
		if s.burst < 1 {
			s.burst = 1
		}
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Kind    base.ErrorKind         `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ExecuteResponse wraps a backend result
type ExecuteResponse struct {
	Name   string      `json:"name"`
	Result interface{} `json:"result"`
}

// New creates a server. gatherer backs /metrics.
func New(reg *registry.Registry, gatherer prometheus.Gatherer, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{reg: reg, gatherer: gatherer, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in CORS
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/connections", s.list).Methods("GET")
	r.HandleFunc("/connections/{name}", s.get).Methods("GET")
	r.HandleFunc("/connections/{name}/connect", s.connect).Methods("POST")
	r.HandleFunc("/connections/{name}/execute", s.execute).Methods("POST")
	r.HandleFunc("/connections/{name}/disconnect", s.disconnect).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.reg.Count(),
	})
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Infos())
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	unlock := s.lock(h.Name())
	err := h.Open(r.Context())
	unlock()
	if err != nil {
		s.writeError(w, h, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if wait, ok := s.allow(h.Name()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded for " + h.Name()})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > MaxRequestBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return
	}

	unlock := s.lock(h.Name())
	res, err := h.DoJSON(r.Context(), json.RawMessage(body))
	unlock()
	if err != nil {
		s.writeError(w, h, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Name: h.Name(), Result: res})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	unlock := s.lock(h.Name())
	err := h.Disconnect(r.Context())
	unlock()
	if err != nil {
		s.writeError(w, h, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (sdk.Handle, bool) {
	name := mux.Vars(r)["name"]
	h, err := s.reg.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return h, true
}

func (s *Server) lock(name string) func() {
	m, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// allow takes a token for name, or reports how long until one is available
func (s *Server) allow(name string) (time.Duration, bool) {
	if s.limit <= 0 {
		return 0, true
	}
	l, _ := s.limiters.LoadOrStore(name, rate.NewLimiter(s.limit, s.burst))
	res := l.(*rate.Limiter).Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay, false
	}
	return 0, true
}

func (s *Server) writeError(w http.ResponseWriter, h sdk.Handle, err error) {
	kind := base.KindOf(err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorWithErr(h.ID(), "Request failed", err, map[string]interface{}{
			"name": h.Name(),
			"kind": string(kind),
		})
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Kind:    kind,
		Details: base.DetailsOf(err),
	})
}

// StatusFor maps a connection error onto an HTTP status
func StatusFor(err error) int {
	if errors.Is(err, base.ErrInvalidConfig) {
		return http.StatusBadRequest
	}
	switch base.KindOf(err) {
	case base.KindValidation, base.KindUnsupported:
		return http.StatusBadRequest
	case base.KindTimeout:
		return http.StatusGatewayTimeout
	case base.KindCanceled:
		return http.StatusRequestTimeout
	case base.KindAuthConfig, base.KindTransport, base.KindHTTPStatus,
		base.KindCommandFailed, base.KindQueryFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
