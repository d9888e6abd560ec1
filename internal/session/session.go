// Package session keeps a client-side token pair alive across requests. The
// Coordinator wraps an http.RoundTripper and, when a request comes back 401,
// exchanges the refresh token for a rotated pair and replays the request once.
// Concurrent 401s share a single refresh call.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"vaultdesk.io/internal/authz"
)

// ErrSessionExpired is returned once the refresh token itself is rejected.
// The caller must send the user back through login; the coordinator will not
// retry on its own.
var ErrSessionExpired = errors.New("session: expired")

// State tracks the credential session.
type State int32

const (
	StateAuthenticated State = iota
	StateRefreshing
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

const defaultRefreshTimeout = 10 * time.Second

// Coordinator implements http.RoundTripper.
type Coordinator struct {
	base       http.RoundTripper
	store      CredentialStore
	refreshURL string
	logoutURL  string

	client         *http.Client
	refreshTimeout time.Duration
	onExpired      func()

	group singleflight.Group
	state atomic.Int32

	mu    sync.Mutex
	perms *authz.UserPermissions
}

var _ http.RoundTripper = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogoutURL sets the endpoint Logout notifies before clearing state.
func WithLogoutURL(url string) Option {
	return func(c *Coordinator) { c.logoutURL = url }
}

// WithHTTPClient overrides the client used for refresh and logout calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRefreshTimeout bounds the shared refresh call. The refresh runs
// detached from any single caller's context so one cancelled caller cannot
// abort the exchange for everyone awaiting it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithOnExpired registers a hook invoked when the session becomes terminal.
func WithOnExpired(fn func()) Option {
	return func(c *Coordinator) { c.onExpired = fn }
}

// NewCoordinator wraps base with transparent refresh-and-retry. A nil base
// falls back to http.DefaultTransport.
func NewCoordinator(base http.RoundTripper, store CredentialStore, refreshURL string, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("session: credential store is required")
	}
	if refreshURL == "" {
		return nil, errors.New("session: refresh URL is required")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	c := &Coordinator{
		base:           base,
		store:          store,
		refreshURL:     refreshURL,
		client:         &http.Client{Timeout: defaultRefreshTimeout},
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State reports the current session state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// SetCredentials stores a freshly-issued pair and marks the session
// authenticated, recovering from a previous expiry. An empty pair is
// rejected; forgetting credentials is Logout's job.
func (c *Coordinator) SetCredentials(ctx context.Context, creds Credentials) error {
	if creds.empty() {
		return errors.New("session: credentials are required")
	}
	if err := c.store.Save(ctx, creds); err != nil {
		return err
	}
	c.setState(StateAuthenticated)
	return nil
}

// CachePermissions stores the aggregated permission set for UI gating. It is
// never consulted for enforcement and is dropped on logout or expiry.
func (c *Coordinator) CachePermissions(p *authz.UserPermissions) {
	c.mu.Lock()
	c.perms = p
	c.mu.Unlock()
}

// CachedPermissions returns the last cached permission set, or nil.
func (c *Coordinator) CachedPermissions() *authz.UserPermissions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perms
}

// RoundTrip attaches the access token, and on a 401 refreshes the pair and
// replays the request exactly once. A second 401 passes through untouched.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.State() == StateUnauthenticated {
		return nil, ErrSessionExpired
	}
	creds, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: load credentials: %w", err)
	}

	attempt := req.Clone(ctx)
	setBearer(attempt, creds.AccessToken)
	resp, err := c.base.RoundTrip(attempt)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if creds.RefreshToken == "" {
		return resp, nil
	}
	// A consumed body cannot be replayed; hand the 401 back rather than
	// retry with a truncated request.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	rotated, err := c.refresh(ctx, creds)
	if err != nil {
		drainAndClose(resp.Body)
		return nil, err
	}
	drainAndClose(resp.Body)

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("session: replay request body: %w", err)
		}
		retry.Body = body
	}
	setBearer(retry, rotated.AccessToken)
	return c.base.RoundTrip(retry)
}

// refresh funnels all concurrent 401s into one token exchange. Callers that
// arrive after another goroutine already rotated the pair get the stored
// pair back without a second server call.
func (c *Coordinator) refresh(ctx context.Context, used Credentials) (Credentials, error) {
	c.setState(StateRefreshing)
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		current, err := c.store.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("session: load credentials: %w", err)
		}
		if current.AccessToken != "" && current.AccessToken != used.AccessToken {
			c.setState(StateAuthenticated)
			return current, nil
		}
		rotated, err := c.exchange(current.RefreshToken)
		if err != nil {
			c.expire()
			return nil, ErrSessionExpired
		}
		if err := c.store.Save(context.Background(), rotated); err != nil {
			return nil, fmt.Errorf("session: save credentials: %w", err)
		}
		c.setState(StateAuthenticated)
		return rotated, nil
	})
	select {
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Coordinator) exchange(refreshToken string) (Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Credentials{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Credentials{}, err
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("session: refresh rejected with status %d", resp.StatusCode)
	}
	var out refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Credentials{}, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return Credentials{}, errors.New("session: refresh response missing tokens")
	}
	return Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// expire is the terminal transition: credentials are gone and every future
// RoundTrip fails fast until SetCredentials is called again.
func (c *Coordinator) expire() {
	c.setState(StateUnauthenticated)
	_ = c.store.Clear(context.Background())
	c.CachePermissions(nil)
	if c.onExpired != nil {
		c.onExpired()
	}
}

// Logout notifies the server, then clears local state. A failed server call
// never blocks the local transition.
func (c *Coordinator) Logout(ctx context.Context) error {
	creds, err := c.store.Load(ctx)
	if err == nil && c.logoutURL != "" && creds.AccessToken != "" {
		if req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, nil); reqErr == nil {
			setBearer(req, creds.AccessToken)
			if resp, doErr := c.client.Do(req); doErr == nil {
				drainAndClose(resp.Body)
			}
		}
	}
	c.setState(StateUnauthenticated)
	c.CachePermissions(nil)
	return c.store.Clear(ctx)
}

func setBearer(req *http.Request, accessToken string) {
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
