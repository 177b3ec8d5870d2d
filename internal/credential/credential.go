// Package credential manages the lifecycle of upstream credentials for the
// three shapes of spec §4.1: OAuth2 client-credentials, password-login, and
// static long-lived bearer tokens. Refresh is serialized per service so
// concurrent callers never fire duplicate token requests.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// Client fetches or refreshes a Token for one service. Implementations must
// not share mutable state across goroutines; the Store wraps each with its
// own serialization.
type Client interface {
	Fetch(ctx context.Context) (*Token, error)
	Name() string
}

// Token is an opaque, expiry-tracked credential.
type Token struct {
	Value        string
	TokenType    string
	ExpiresAt    *time.Time
	RefreshToken string
	AdditionalHeaders map[string]string
}

// Refresher is implemented by credential clients that can exchange a
// refresh_token for a new access token (spec §4.1 point 4). The Store tries
// this before falling back to a full Fetch.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// Expired reports whether t is within skew of expiry or already past it.
func (t *Token) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.ExpiresAt == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// ClientCredentialsClient implements the OAuth2 client-credentials grant.
type ClientCredentialsClient struct {
	ServiceName string
	TokenURL    string
	ClientID    string
	ClientSecret string
	Scope       string
	HTTPClient  *http.Client
	Clock       clockconfig.Clock
}

func (c *ClientCredentialsClient) Name() string { return c.ServiceName }

func (c *ClientCredentialsClient) Fetch(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	if c.Scope != "" {
		form.Set("scope", c.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, svcerrors.AuthUnavailable(c.ServiceName, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doTokenRequest(ctx, c.HTTPClient, c.Clock, c.ServiceName, req)
}

// Refresh exchanges refreshToken for a new access token via the
// refresh_token grant against the same token endpoint, per spec §4.1 point
// 4. The Store falls back to Fetch if this fails.
func (c *ClientCredentialsClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return refreshViaGrant(ctx, c.HTTPClient, c.Clock, c.ServiceName, c.TokenURL, refreshToken)
}

// PasswordBearerClient logs in with a username/password and exchanges the
// response for a bearer token.
type PasswordBearerClient struct {
	ServiceName string
	LoginURL    string
	Username    string
	Password    string
	HTTPClient  *http.Client
	Clock       clockconfig.Clock
}

func (c *PasswordBearerClient) Name() string { return c.ServiceName }

func (c *PasswordBearerClient) Fetch(ctx context.Context) (*Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.Password,
	})
	if err != nil {
		return nil, svcerrors.Internal("marshal login payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.LoginURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, svcerrors.AuthUnavailable(c.ServiceName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doTokenRequest(ctx, c.HTTPClient, c.Clock, c.ServiceName, req)
}

// Refresh exchanges refreshToken for a new bearer token via the
// refresh_token grant against the login endpoint, per spec §4.1 point 4.
// The Store falls back to a full Fetch (re-login) if this fails.
func (c *PasswordBearerClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return refreshViaGrant(ctx, c.HTTPClient, c.Clock, c.ServiceName, c.LoginURL, refreshToken)
}

// StaticBearerClient wraps a pre-issued long-lived bearer token that never
// needs a network round trip; it still goes through the Store so its expiry
// (default 6 months, spec §4.1) is tracked uniformly.
type StaticBearerClient struct {
	ServiceName string
	Bearer      string
	ValidFor    time.Duration
	Clock       clockconfig.Clock
}

func (c *StaticBearerClient) Name() string { return c.ServiceName }

func (c *StaticBearerClient) Fetch(ctx context.Context) (*Token, error) {
	validFor := c.ValidFor
	if validFor <= 0 {
		validFor = 6 * 30 * 24 * time.Hour
	}
	clock := c.Clock
	if clock == nil {
		clock = clockconfig.RealClock{}
	}
	expiry := clock.Now().Add(validFor)
	return &Token{Value: c.Bearer, TokenType: "Bearer", ExpiresAt: &expiry}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// refreshViaGrant exchanges refreshToken for a new token using the
// refresh_token grant (spec §4.1 point 4), shared by the client-credentials
// and password-bearer shapes since both sit behind a token endpoint.
func refreshViaGrant(ctx context.Context, httpClient *http.Client, clock clockconfig.Clock, service, tokenURL, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, svcerrors.AuthUnavailable(service, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doTokenRequest(ctx, httpClient, clock, service, req)
}

func doTokenRequest(ctx context.Context, httpClient *http.Client, clock clockconfig.Clock, service string, req *http.Request) (*Token, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = clockconfig.RealClock{}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.AuthUnavailable(service, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, svcerrors.AuthUnavailable(service, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		return nil, svcerrors.AuthConfig(service, fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, rawBody))
	default:
		return nil, svcerrors.AuthUnavailable(service, fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, rawBody))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, svcerrors.AuthUnavailable(service, err)
	}
	if parsed.AccessToken == "" {
		return nil, svcerrors.AuthUnavailable(service, fmt.Errorf("token response missing access_token"))
	}

	tokenType := parsed.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	token := &Token{Value: parsed.AccessToken, TokenType: tokenType, RefreshToken: parsed.RefreshToken}
	if parsed.ExpiresIn > 0 {
		expiry := clock.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiry
	}
	return token, nil
}

// entry tracks one service's cached token plus its dedicated refresh mutex,
// so N concurrent callers for the same service block on one network call
// rather than firing N token requests (spec §4.1 point 5).
type entry struct {
	mu     sync.Mutex
	client Client
	token  *Token
}

// Store is the Credential Store of spec C2: one entry per service, refreshed
// lazily and proactively within the skew window.
type Store struct {
	skew    time.Duration
	clock   clockconfig.Clock
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore builds a Store with the given proactive-refresh skew (spec §4.1:
// default 300s).
func NewStore(skew time.Duration, clock clockconfig.Clock) *Store {
	if clock == nil {
		clock = clockconfig.RealClock{}
	}
	return &Store{skew: skew, clock: clock, entries: make(map[string]*entry)}
}

// Register wires a Client into the store under its own Name().
func (s *Store) Register(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.Name()] = &entry{client: c}
}

func (s *Store) entryFor(service string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[service]
	return e, ok
}

// Get returns a valid token for service, fetching or refreshing as needed.
// Concurrent callers for the same service serialize on that service's
// mutex; callers for different services never block each other.
func (s *Store) Get(ctx context.Context, service string) (*Token, error) {
	e, ok := s.entryFor(service)
	if !ok {
		return nil, svcerrors.AuthConfig(service, fmt.Errorf("no credential client registered"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != nil && !e.token.Expired(s.clock.Now(), s.skew) {
		return e.token, nil
	}

	if e.token != nil && e.token.RefreshToken != "" {
		if refresher, ok := e.client.(Refresher); ok {
			if token, err := refresher.Refresh(ctx, e.token.RefreshToken); err == nil {
				e.token = token
				return token, nil
			}
		}
	}

	token, err := e.client.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	e.token = token
	return token, nil
}

// Invalidate drops the cached token for service, forcing the next Get to
// fetch a fresh one. Called by the HTTP Caller on a 401 (spec §4.5).
func (s *Store) Invalidate(service string) {
	e, ok := s.entryFor(service)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = nil
}

// Status reports whether service currently holds a live token, without
// triggering a fetch; reported by /readyz (SPEC_FULL.md §2).
type Status struct {
	Service   string
	Cached    bool
	ExpiresAt *time.Time
}

// Status returns the current cache state for every registered service.
func (s *Store) Status() []Status {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for name, e := range s.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for i, name := range names {
		e := entries[i]
		e.mu.Lock()
		st := Status{Service: name}
		if e.token != nil {
			st.Cached = true
			st.ExpiresAt = e.token.ExpiresAt
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// PreAuthenticate eagerly fetches a token for every registered service,
// surfacing the first hard failure. Static-bearer services never touch the
// network here, matching boot-time pre-authentication in SPEC_FULL.md §2.
func (s *Store) PreAuthenticate(ctx context.Context) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if _, err := s.Get(ctx, name); err != nil {
			return fmt.Errorf("pre-authenticate %s: %w", name, err)
		}
	}
	return nil
}
