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

package api

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AuthProvider applies authentication to outgoing requests
type AuthProvider interface {
	// Authenticate applies authentication to the given request
	Authenticate(ctx context.Context, req *http.Request) error

	// Type returns the authentication type name
	Type() string
}

// ErrTokenUnavailable is returned by OAuth2 auth when no token has been obtained
var ErrTokenUnavailable = errors.New("OAuth2 token not available, authentication flow required")

var hmacHashes = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// NewAuthProvider returns the provider for cfg.AuthMethod
func NewAuthProvider(cfg *Config, now func() time.Time) (AuthProvider, error) {
	if now == nil {
		now = time.Now
	}
	switch cfg.AuthMethod {
	case AuthNone, "":
		return noAuth{}, nil
	case AuthBasic:
		return &BasicAuth{username: cfg.Username, password: cfg.Password}, nil
	case AuthBearer, AuthJWT:
		return &BearerTokenAuth{token: cfg.AuthToken, kind: string(cfg.AuthMethod)}, nil
	case AuthAPIKey:
		return &APIKeyAuth{apiKey: cfg.APIKey, keyName: cfg.APIKeyName, inQuery: cfg.APIKeyLocation == "query"}, nil
	case AuthOAuth2:
		return &OAuth2Auth{token: cfg.AuthToken}, nil
	case AuthHMAC:
		newHash, ok := hmacHashes[strings.ToLower(cfg.HMACAlgorithm)]
		if !ok {
			return nil, fmt.Errorf("unsupported HMAC algorithm %q", cfg.HMACAlgorithm)
		}
		return &HMACAuth{key: cfg.HMACKey, secret: []byte(cfg.HMACSecret), newHash: newHash, now: now}, nil
	case AuthDigest:
		// Digest is negotiated per request by digestTransport.
		return noAuth{kind: "digest"}, nil
	}
	return nil, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
}

type noAuth struct{ kind string }

func (noAuth) Authenticate(ctx context.Context, req *http.Request) error { return nil }

func (n noAuth) Type() string {
	if n.kind != "" {
		return n.kind
	}
	return string(AuthNone)
}

// BasicAuth provides HTTP Basic authentication
type BasicAuth struct {
	username string
	password string
}

// Authenticate applies Basic auth to the request
func (b *BasicAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if b.username == "" {
		return fmt.Errorf("username is not set")
	}
	req.SetBasicAuth(b.username, b.password)
	return nil
}

// Type returns the authentication type
func (b *BasicAuth) Type() string { return string(AuthBasic) }

// BearerTokenAuth sends a bearer token. JWT auth uses it after the token
// format has been checked at validation.
type BearerTokenAuth struct {
	token string
	kind  string
}

// Authenticate applies the Bearer token to the request
func (b *BearerTokenAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if b.token == "" {
		return fmt.Errorf("bearer token is not set")
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

// Type returns the authentication type
func (b *BearerTokenAuth) Type() string { return b.kind }

// APIKeyAuth sends an API key in a header or query parameter
type APIKeyAuth struct {
	apiKey  string
	keyName string
	inQuery bool
}

// Authenticate applies the API key to the request
func (a *APIKeyAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is not set")
	}
	if a.inQuery {
		q := req.URL.Query()
		q.Set(a.keyName, a.apiKey)
		req.URL.RawQuery = q.Encode()
		return nil
	}
	req.Header.Set(a.keyName, a.apiKey)
	return nil
}

// Type returns the authentication type
func (a *APIKeyAuth) Type() string { return string(AuthAPIKey) }

// OAuth2Auth sends a previously obtained access token
type OAuth2Auth struct {
	token string
	mu    sync.RWMutex
}

// Authenticate applies the access token or fails when none is set
func (o *OAuth2Auth) Authenticate(ctx context.Context, req *http.Request) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.token == "" {
		return ErrTokenUnavailable
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	return nil
}

// SetToken stores an access token obtained out of band
func (o *OAuth2Auth) SetToken(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token = token
}

// Type returns the authentication type
func (o *OAuth2Auth) Type() string { return string(AuthOAuth2) }

// HMACAuth signs "timestamp:key:METHOD:path" with the shared secret
type HMACAuth struct {
	key     string
	secret  []byte
	newHash func() hash.Hash
	now     func() time.Time
}

// Authenticate sets X-Timestamp, X-API-Key and X-Signature
func (h *HMACAuth) Authenticate(ctx context.Context, req *http.Request) error {
	ts := strconv.FormatInt(h.now().Unix(), 10)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-API-Key", h.key)
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	req.Header.Set("X-Signature", h.Sign(ts, req.Method, path))
	return nil
}

// Sign returns the hex signature for the given request parts
func (h *HMACAuth) Sign(timestamp, method, path string) string {
	mac := hmac.New(h.newHash, h.secret)
	mac.Write([]byte(timestamp + ":" + h.key + ":" + strings.ToUpper(method) + ":" + path))
	return hex.EncodeToString(mac.Sum(nil))
}

// Type returns the authentication type
func (h *HMACAuth) Type() string { return string(AuthHMAC) }

// digestTransport answers RFC 2617 Digest challenges (MD5, qop=auth)
type digestTransport struct {
	username string
	password string
	next     http.RoundTripper

	mu        sync.Mutex
	challenge map[string]string
	nc        int
}

func newDigestTransport(username, password string, next http.RoundTripper) *digestTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &digestTransport{username: username, password: password, next: next}
}

func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	known := t.challenge
	t.mu.Unlock()

	if known != nil {
		authed, err := t.authorize(req, known)
		if err != nil {
			return nil, err
		}
		resp, err := t.next.RoundTrip(authed)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		// Stale nonce; fall through with the fresh challenge.
		return t.retryWithChallenge(req, resp)
	}

	first := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		first.Body = body
	}
	resp, err := t.next.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	return t.retryWithChallenge(req, resp)
}

func (t *digestTransport) retryWithChallenge(req *http.Request, resp *http.Response) (*http.Response, error) {
	challenge, ok := parseDigestChallenge(resp.Header.Get("WWW-Authenticate"))
	if !ok {
		return resp, nil
	}
	resp.Body.Close()

	t.mu.Lock()
	t.challenge = challenge
	t.nc = 0
	t.mu.Unlock()

	authed, err := t.authorize(req, challenge)
	if err != nil {
		return nil, err
	}
	return t.next.RoundTrip(authed)
}

func (t *digestTransport) authorize(req *http.Request, challenge map[string]string) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("digest auth cannot replay request body")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}

	t.mu.Lock()
	t.nc++
	nc := fmt.Sprintf("%08x", t.nc)
	t.mu.Unlock()

	cnonce, err := randomHex(8)
	if err != nil {
		return nil, err
	}
	out.Header.Set("Authorization", digestAuthorization(t.username, t.password, req.Method, req.URL.RequestURI(), nc, cnonce, challenge))
	return out, nil
}

func digestAuthorization(username, password, method, uri, nc, cnonce string, ch map[string]string) string {
	realm, nonce := ch["realm"], ch["nonce"]
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)

	qop := ""
	for _, q := range strings.Split(ch["qop"], ",") {
		if strings.TrimSpace(q) == "auth" {
			qop = "auth"
		}
	}

	var response string
	if qop != "" {
		response = md5Hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	} else {
		response = md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}

	parts := []string{
		fmt.Sprintf(`username="%s"`, username),
		fmt.Sprintf(`realm="%s"`, realm),
		fmt.Sprintf(`nonce="%s"`, nonce),
		fmt.Sprintf(`uri="%s"`, uri),
		fmt.Sprintf(`response="%s"`, response),
		"algorithm=MD5",
	}
	if qop != "" {
		parts = append(parts, "qop="+qop, "nc="+nc, fmt.Sprintf(`cnonce="%s"`, cnonce))
	}
	if opaque, ok := ch["opaque"]; ok {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, opaque))
	}
	return "Digest " + strings.Join(parts, ", ")
}

// parseDigestChallenge parses a WWW-Authenticate Digest header into its parameters
func parseDigestChallenge(header string) (map[string]string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Digest ")
	if !ok {
		return nil, false
	}
	params := make(map[string]string)
	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " ,")
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, false
			}
			value = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			value = strings.TrimSpace(rest[:end])
			rest = rest[end:]
		}
		params[key] = value
	}
	if params["nonce"] == "" {
		return nil, false
	}
	if alg, ok := params["algorithm"]; ok && !strings.EqualFold(alg, "MD5") {
		return nil, false
	}
	return params, true
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
