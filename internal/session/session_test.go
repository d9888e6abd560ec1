package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// authServer simulates the API: /protected serves 200 only for the current
// access token, /auth/refresh rotates the pair and counts calls.
type authServer struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshCalls atomic.Int64
	rejectAll    bool

	*httptest.Server
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{accessToken: "access-1", refreshToken: "refresh-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		current := s.accessToken
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+current {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		var in struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rejectAll || in.RefreshToken != s.refreshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.accessToken += "r"
		s.refreshToken += "r"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  s.accessToken,
			"refresh_token": s.refreshToken,
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newCoordinator(t *testing.T, srv *authServer, opts ...Option) (*Coordinator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), Credentials{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}))
	c, err := NewCoordinator(nil, store, srv.URL+"/auth/refresh",
		append([]Option{WithLogoutURL(srv.URL + "/auth/logout")}, opts...)...)
	require.NoError(t, err)
	return c, store
}

func TestRoundTripPassesThroughOn200(t *testing.T) {
	srv := newAuthServer(t)
	c, _ := newCoordinator(t, srv)
	client := &http.Client{Transport: c}

	resp, err := client.Get(srv.URL + "/protected")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, srv.refreshCalls.Load())
	require.Equal(t, StateAuthenticated, c.State())
}

func TestRoundTripRefreshesAndRetriesOnce(t *testing.T) {
	srv := newAuthServer(t)
	c, store := newCoordinator(t, srv)
	client := &http.Client{Transport: c}

	// Server rotated out from under the client, so the stored access token
	// draws a 401.
	srv.mu.Lock()
	srv.accessToken = "access-2"
	srv.refreshToken = "refresh-1"
	srv.mu.Unlock()

	resp, err := client.Post(srv.URL+"/protected", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "payload", string(body), "retried request must carry the original body")
	require.EqualValues(t, 1, srv.refreshCalls.Load())

	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2r", creds.AccessToken)
	require.Equal(t, "refresh-1r", creds.RefreshToken)
	require.Equal(t, StateAuthenticated, c.State())
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	srv := newAuthServer(t)
	c, _ := newCoordinator(t, srv)
	client := &http.Client{Transport: c}

	srv.mu.Lock()
	srv.accessToken = "access-2"
	srv.mu.Unlock()

	const callers = 12
	var wg sync.WaitGroup
	errs := make([]error, callers)
	codes := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/protected")
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, codes[i])
	}
	require.EqualValues(t, 1, srv.refreshCalls.Load(), "concurrent 401s must share one refresh call")
}

func TestRefreshFailureIsTerminal(t *testing.T) {
	srv := newAuthServer(t)
	var expired atomic.Bool
	c, store := newCoordinator(t, srv, WithOnExpired(func() { expired.Store(true) }))
	client := &http.Client{Transport: c}

	srv.mu.Lock()
	srv.accessToken = "access-2"
	srv.rejectAll = true
	srv.mu.Unlock()

	_, err := client.Get(srv.URL + "/protected")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, StateUnauthenticated, c.State())
	require.True(t, expired.Load())

	creds, loadErr := store.Load(context.Background())
	require.NoError(t, loadErr)
	require.Empty(t, creds.AccessToken)
	require.Empty(t, creds.RefreshToken)

	// Terminal: subsequent requests fail fast without touching the server.
	before := srv.refreshCalls.Load()
	_, err = client.Get(srv.URL + "/protected")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, before, srv.refreshCalls.Load())
}

func TestSetCredentialsRecoversExpiredSession(t *testing.T) {
	srv := newAuthServer(t)
	c, _ := newCoordinator(t, srv)
	client := &http.Client{Transport: c}

	srv.mu.Lock()
	srv.accessToken = "access-2"
	srv.rejectAll = true
	srv.mu.Unlock()
	_, err := client.Get(srv.URL + "/protected")
	require.ErrorIs(t, err, ErrSessionExpired)

	srv.mu.Lock()
	srv.rejectAll = false
	srv.mu.Unlock()
	require.NoError(t, c.SetCredentials(context.Background(), Credentials{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	}))

	resp, err := client.Get(srv.URL + "/protected")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetCredentialsRejectsEmptyPair(t *testing.T) {
	srv := newAuthServer(t)
	c, store := newCoordinator(t, srv)

	require.Error(t, c.SetCredentials(context.Background(), Credentials{}))

	// The stored pair survives the rejected call.
	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, Credentials{}, creds)
}

func TestNonReplayableBodyIsNotRetried(t *testing.T) {
	srv := newAuthServer(t)
	c, _ := newCoordinator(t, srv)

	srv.mu.Lock()
	srv.accessToken = "access-2"
	srv.mu.Unlock()

	// Wrapping the reader hides its type from http.NewRequest, so GetBody
	// stays nil and the body cannot be replayed.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/protected", struct{ io.Reader }{strings.NewReader("x")})
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := c.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 0, srv.refreshCalls.Load())
}

func TestLogoutClearsLocalStateEvenWhenServerIsDown(t *testing.T) {
	srv := newAuthServer(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), Credentials{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}))
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c, err := NewCoordinator(nil, store, srv.URL+"/auth/refresh", WithLogoutURL(deadURL+"/auth/logout"))
	require.NoError(t, err)
	c.CachePermissions(nil)

	require.NoError(t, c.Logout(context.Background()))
	require.Equal(t, StateUnauthenticated, c.State())
	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Credentials{}, creds)
	require.Nil(t, c.CachedPermissions())
}
