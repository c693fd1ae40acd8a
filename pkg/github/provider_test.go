package github_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github/githubtest"
)

func newProvider(t *testing.T, srv *githubtest.Server) *github.Provider {
	t.Helper()
	p, err := github.NewProvider(srv.Config())
	require.NoError(t, err)
	return p
}

func authenticate(t *testing.T, srv *githubtest.Server, p *github.Provider, username, org string) (*github.Identity, error) {
	t.Helper()
	return p.Authenticate(context.Background(), srv.DeviceCode, srv.ClientID, username, org)
}

func TestRequestDeviceCode(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()

	code, err := newProvider(t, srv).RequestDeviceCode(context.Background(), srv.ClientID)
	require.NoError(t, err)
	require.Equal(t, "device-123", code.DeviceCode)
	require.Equal(t, "ABCD-1234", code.UserCode)
	require.Equal(t, srv.URL+"/login/device", code.VerificationURI)
	require.Equal(t, 5*time.Second, code.Interval)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), code.Expiry, time.Minute)
}

func TestRequestDeviceCodeStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, github.ErrUnauthorized},
		{http.StatusForbidden, github.ErrForbidden},
		{http.StatusInternalServerError, github.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := githubtest.New("alice", "acme")
			defer srv.Close()
			srv.Fail("/login/device/code", tc.status)

			_, err := newProvider(t, srv).RequestDeviceCode(context.Background(), srv.ClientID)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRequestDeviceCodeMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_code":"ABCD-1234"}`))
	}))
	defer server.Close()

	p, err := github.NewProvider(github.Config{WebURL: server.URL, APIURL: server.URL})
	require.NoError(t, err)
	_, err = p.RequestDeviceCode(context.Background(), "client")
	require.ErrorIs(t, err, github.ErrProtocol)
}

func TestRequestDeviceCodeConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p, err := github.NewProvider(github.Config{WebURL: url, APIURL: url})
	require.NoError(t, err)
	_, err = p.RequestDeviceCode(context.Background(), "client")
	require.ErrorIs(t, err, github.ErrTransport)
	require.Equal(t, github.KindTransport, github.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	srv := githubtest.New("Alice", "acme")
	defer srv.Close()
	srv.Memberships["acme/Alice"] = githubtest.Membership{State: "active", Role: "admin"}

	id, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
	require.NoError(t, err)
	require.Equal(t, "Alice", id.Username())
	require.Equal(t, "acme", id.Organization())
	require.Equal(t, github.StateActive, id.State())
	require.Equal(t, github.RoleAdmin, id.Role())
	require.True(t, id.Active())
	require.NotContains(t, id.String(), srv.AccessToken)
}

func TestAuthenticateUsernameMismatch(t *testing.T) {
	srv := githubtest.New("mallory", "acme")
	defer srv.Close()

	id, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
	require.Nil(t, id)
	require.ErrorIs(t, err, github.ErrInvalidUser)
	require.False(t, srv.Requested("/api/orgs/acme/memberships/mallory"))
}

func TestAuthenticatePendingGrant(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.TokenError = "authorization_pending"

	_, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
	require.ErrorIs(t, err, github.ErrUnauthorized)
	require.Contains(t, err.Error(), "authorization_pending")
	require.False(t, srv.Requested("/api/user"))
}

func TestAuthenticateStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		status int
		want   error
	}{
		{"token unauthorized", "/login/oauth/access_token", http.StatusUnauthorized, github.ErrUnauthorized},
		{"token forbidden", "/login/oauth/access_token", http.StatusForbidden, github.ErrForbidden},
		{"token not found", "/login/oauth/access_token", http.StatusNotFound, github.ErrNotFound},
		{"token server error", "/login/oauth/access_token", http.StatusBadGateway, github.ErrTransport},
		{"user forbidden", "/api/user", http.StatusForbidden, github.ErrForbidden},
		{"membership not found", "/api/orgs/acme/memberships/alice", http.StatusNotFound, github.ErrNotFound},
		{"membership unauthorized", "/api/orgs/acme/memberships/alice", http.StatusUnauthorized, github.ErrUnauthorized},
		{"membership server error", "/api/orgs/acme/memberships/alice", http.StatusServiceUnavailable, github.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := githubtest.New("alice", "acme")
			defer srv.Close()
			srv.Fail(tc.path, tc.status)

			id, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
			require.Nil(t, id)
			require.ErrorIs(t, err, tc.want)

			var perr *github.Error
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tc.status, perr.StatusCode)
		})
	}
}

func TestAuthenticateNotInOrganization(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()

	_, err := authenticate(t, srv, newProvider(t, srv), "alice", "other-org")
	require.ErrorIs(t, err, github.ErrNotFound)
}

func TestAuthenticateRejectsUnknownMembershipValues(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.Memberships["acme/alice"] = githubtest.Membership{State: "suspended", Role: "member"}

	_, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
	require.ErrorIs(t, err, github.ErrProtocol)
}

func TestAuthenticatePendingMembershipIsReported(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.Memberships["acme/alice"] = githubtest.Membership{State: "pending", Role: "member"}

	id, err := authenticate(t, srv, newProvider(t, srv), "alice", "acme")
	require.NoError(t, err)
	require.Equal(t, github.StatePending, id.State())
	require.False(t, id.Active())
}

func TestIsTeamMember(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.Teams["acme/platform"] = []string{"alice"}
	p := newProvider(t, srv)

	id, err := authenticate(t, srv, p, "alice", "acme")
	require.NoError(t, err)

	member, err := p.IsTeamMember(context.Background(), id, "platform")
	require.NoError(t, err)
	require.True(t, member)

	member, err = p.IsTeamMember(context.Background(), id, "security")
	require.NoError(t, err)
	require.False(t, member)
}

func TestIsTeamMemberNonSuccessIsNotMember(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.Teams["acme/platform"] = []string{"alice"}

	core, logs := observer.New(zap.WarnLevel)
	cfg := srv.Config()
	cfg.Logger = zap.New(core).Sugar()
	p, err := github.NewProvider(cfg)
	require.NoError(t, err)

	id, err := authenticate(t, srv, p, "alice", "acme")
	require.NoError(t, err)

	srv.Fail("/api/orgs/acme/teams/platform/memberships/alice", http.StatusInternalServerError)
	member, err := p.IsTeamMember(context.Background(), id, "platform")
	require.NoError(t, err)
	require.False(t, member)
	require.Equal(t, 1, logs.FilterField(zap.Int("status", http.StatusInternalServerError)).Len())
}

func TestIsTeamMemberConnectionFailure(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	p := newProvider(t, srv)
	id, err := authenticate(t, srv, p, "alice", "acme")
	require.NoError(t, err)
	srv.Close()

	_, err = p.IsTeamMember(context.Background(), id, "platform")
	require.ErrorIs(t, err, github.ErrTransport)
}

func TestFetchPublicKeys(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	srv.Keys["alice"] = "ssh-ed25519 AAAA1\nssh-rsa AAAA2\n"
	p := newProvider(t, srv)

	id, err := authenticate(t, srv, p, "alice", "acme")
	require.NoError(t, err)

	keys, err := p.FetchPublicKeys(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "ssh-ed25519 AAAA1\nssh-rsa AAAA2\n", keys)
}

func TestFetchPublicKeysStatusMapping(t *testing.T) {
	srv := githubtest.New("alice", "acme")
	defer srv.Close()
	p := newProvider(t, srv)

	id, err := authenticate(t, srv, p, "alice", "acme")
	require.NoError(t, err)

	_, err = p.FetchPublicKeys(context.Background(), id)
	require.ErrorIs(t, err, github.ErrNotFound)

	srv.Fail("/alice.keys", http.StatusForbidden)
	_, err = p.FetchPublicKeys(context.Background(), id)
	require.ErrorIs(t, err, github.ErrForbidden)
}

func TestRequestsCarryUserAgent(t *testing.T) {
	var agents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	p, err := github.NewProvider(github.Config{WebURL: server.URL, APIURL: server.URL, UserAgent: "ssh-with-gh/test"})
	require.NoError(t, err)
	_, _ = p.RequestDeviceCode(context.Background(), "client")
	require.Equal(t, []string{"ssh-with-gh/test"}, agents)
}

func TestNewProviderRejectsBadCAFile(t *testing.T) {
	_, err := github.NewProvider(github.Config{CAFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
}

func TestErrorFormatting(t *testing.T) {
	err := &github.Error{Kind: github.KindNotFound, Op: "fetch public keys", StatusCode: 404, Detail: "Not Found"}
	require.Equal(t, "fetch public keys: not found (status 404): Not Found", err.Error())
	require.False(t, errors.Is(err, github.ErrForbidden))
	require.True(t, errors.Is(err, github.ErrNotFound))
}
