// Package githubtest provides an in-process fake of the GitHub endpoints used
// by the device login flow.
package githubtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
)

// Membership is the organization membership returned for a login.
type Membership struct {
	State string `json:"state"`
	Role  string `json:"role"`
}

// Server fakes github.com and api.github.com. Configure the exported fields
// before the first request; use Fail to force a status on a path.
type Server struct {
	*httptest.Server

	ClientID    string
	DeviceCode  string
	UserCode    string
	AccessToken string
	// TokenError makes the token endpoint answer 200 with this error code and
	// no access token, like GitHub does while authorization is pending.
	TokenError string
	// Login is the account the access token belongs to.
	Login string
	// Memberships is keyed by "org/login".
	Memberships map[string]Membership
	// Teams is keyed by "org/team" and lists member logins.
	Teams map[string][]string
	// Keys is keyed by login.
	Keys map[string]string

	mu       sync.Mutex
	forced   map[string]int
	requests []string
}

// New starts a fake that issues a device code, redeems it for a token
// belonging to login and reports an active membership in org.
func New(login, org string) *Server {
	s := &Server{
		ClientID:    "test-client",
		DeviceCode:  "device-123",
		UserCode:    "ABCD-1234",
		AccessToken: "gho_test",
		Login:       login,
		Memberships: map[string]Membership{
			org + "/" + login: {State: "active", Role: "member"},
		},
		Teams:  map[string][]string{},
		Keys:   map[string]string{},
		forced: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/device/code", s.deviceCode)
	mux.HandleFunc("POST /login/oauth/access_token", s.accessToken)
	mux.HandleFunc("GET /api/user", s.user)
	mux.HandleFunc("GET /api/orgs/{org}/memberships/{user}", s.orgMembership)
	mux.HandleFunc("GET /api/orgs/{org}/teams/{team}/memberships/{user}", s.teamMembership)
	mux.HandleFunc("GET /{file}", s.keys)
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// Config returns a provider configuration pointing at the fake.
func (s *Server) Config() github.Config {
	return github.Config{WebURL: s.URL, APIURL: s.URL + "/api"}
}

// Fail makes every request to path answer with status.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[path] = status
}

// Requests returns "METHOD /path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Requested reports whether any request was made to path.
func (s *Server) Requested(path string) bool {
	for _, r := range s.Requests() {
		if strings.HasSuffix(r, " "+path) {
			return true
		}
	}
	return false
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		status, forced := s.forced[r.URL.Path]
		s.mu.Unlock()
		if forced {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.AccessToken
}

func (s *Server) deviceCode(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("client_id") != s.ClientID {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]interface{}{
		"device_code":      s.DeviceCode,
		"user_code":        s.UserCode,
		"verification_uri": s.URL + "/login/device",
		"expires_in":       900,
		"interval":         5,
	})
}

func (s *Server) accessToken(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("grant_type") != "urn:ietf:params:oauth:grant-type:device_code" ||
		r.PostFormValue("client_id") != s.ClientID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.TokenError != "" {
		writeJSON(w, map[string]string{"error": s.TokenError})
		return
	}
	if r.PostFormValue("device_code") != s.DeviceCode {
		writeJSON(w, map[string]string{"error": "incorrect_device_code"})
		return
	}
	writeJSON(w, map[string]string{
		"access_token": s.AccessToken,
		"token_type":   "bearer",
		"scope":        "read:org",
	})
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"login": s.Login})
}

func (s *Server) orgMembership(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	membership, ok := s.Memberships[r.PathValue("org")+"/"+r.PathValue("user")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, membership)
}

func (s *Server) teamMembership(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	for _, member := range s.Teams[r.PathValue("org")+"/"+r.PathValue("team")] {
		if strings.EqualFold(member, r.PathValue("user")) {
			writeJSON(w, Membership{State: "active", Role: "member"})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) keys(w http.ResponseWriter, r *http.Request) {
	login, ok := strings.CutSuffix(r.PathValue("file"), ".keys")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	keys, ok := s.Keys[login]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(keys))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
