// Package testutil provides a fake SirixDB server for package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// Default credentials accepted by the fake server
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin"
)

var signingKey = []byte("sirix-test-signing-key")

// SirixServer emulates the SirixDB token endpoint and a protected resource.
// Only the most recently issued access token is accepted on protected routes.
type SirixServer struct {
	*httptest.Server
	Router *mux.Router

	mu            sync.Mutex
	username      string
	password      string
	expiresIn     int64
	issued        int
	accessToken   string
	refreshToken  string
	failAuth      bool
	failRefresh   bool
	refreshDelay  time.Duration
	authTimes     []time.Time
	refreshTimes  []time.Time
	refreshBodies []map[string]string
}

// ServerOption configures a SirixServer
type ServerOption func(*SirixServer)

// WithServerCredentials sets the username and password the server accepts
func WithServerCredentials(username, password string) ServerOption {
	return func(s *SirixServer) {
		s.username = username
		s.password = password
	}
}

// WithExpiresIn sets the expires_in value of issued tokens
func WithExpiresIn(expiresIn int64) ServerOption {
	return func(s *SirixServer) {
		s.expiresIn = expiresIn
	}
}

// NewSirixServer starts a fake server that is closed when the test ends
func NewSirixServer(t testing.TB, opts ...ServerOption) *SirixServer {
	t.Helper()

	s := &SirixServer{
		username:  DefaultUsername,
		password:  DefaultPassword,
		expiresIn: 300,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Router = mux.NewRouter()
	s.Router.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	s.Router.PathPrefix("/").HandlerFunc(s.handleProtected)

	s.Server = httptest.NewServer(s.Router)
	t.Cleanup(s.Server.Close)

	return s
}

// TokenURL returns the token endpoint URL
func (s *SirixServer) TokenURL() string {
	return s.URL + "/token"
}

// SetFailAuth makes password grants fail with 500
func (s *SirixServer) SetFailAuth(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuth = fail
}

// SetFailRefresh makes refresh grants fail with 503
func (s *SirixServer) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRefreshDelay delays refresh responses
func (s *SirixServer) SetRefreshDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = delay
}

// AccessToken returns the token the protected routes currently accept
func (s *SirixServer) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// AuthTimes returns when password grants were received
func (s *SirixServer) AuthTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.authTimes...)
}

// RefreshTimes returns when refresh grants were received
func (s *SirixServer) RefreshTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.refreshTimes...)
}

// RefreshBodies returns the decoded bodies of refresh requests
func (s *SirixServer) RefreshBodies() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.refreshBodies...)
}

func (s *SirixServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content type must be application/json"})
		return
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if body["grant_type"] == "password" {
		s.handlePasswordGrant(w, body)
		return
	}
	if _, ok := body["refresh_token"]; ok {
		s.handleRefreshGrant(w, body)
		return
	}

	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
}

func (s *SirixServer) handlePasswordGrant(w http.ResponseWriter, body map[string]string) {
	s.mu.Lock()
	s.authTimes = append(s.authTimes, time.Now())

	if s.failAuth {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	if body["username"] != s.username || body["password"] != s.password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
		return
	}

	resp := s.issueLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *SirixServer) handleRefreshGrant(w http.ResponseWriter, body map[string]string) {
	s.mu.Lock()
	s.refreshTimes = append(s.refreshTimes, time.Now())
	s.refreshBodies = append(s.refreshBodies, body)
	delay := s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	if s.failRefresh {
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		return
	}
	if body["refresh_token"] != s.refreshToken {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	resp := s.issueLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *SirixServer) issueLocked() map[string]interface{} {
	s.issued++
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": s.username,
		"jti": fmt.Sprintf("token-%d", s.issued),
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(s.expiresIn) * time.Second).Unix(),
		"typ": "Bearer",
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}

	s.accessToken = accessToken
	s.refreshToken = fmt.Sprintf("refresh-%d", s.issued)

	return map[string]interface{}{
		"access_token":       s.accessToken,
		"expires_in":         s.expiresIn,
		"refresh_expires_in": 1800,
		"refresh_token":      s.refreshToken,
		"token_type":         "bearer",
		"not-before-policy":  0,
		"session_state":      "7ee770dd-5dba-475d-b236-70ef8893f215",
		"scope":              "profile email",
		"acr":                "1",
	}
}

func (s *SirixServer) handleProtected(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	want := "bearer " + s.accessToken
	valid := s.accessToken != ""
	s.mu.Unlock()

	if !valid || r.Header.Get("Authorization") != want {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases": []map[string]string{
			{"name": "shop", "type": "json"},
			{"name": "catalog", "type": "xml"},
		},
		"path":   r.URL.Path,
		"method": r.Method,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
