package login_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paulkm2006/ssh-github-auth/pkg/audit"
	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github/githubtest"
	"github.com/Paulkm2006/ssh-github-auth/pkg/login"
	"github.com/Paulkm2006/ssh-github-auth/pkg/metrics"
)

type ensureCall struct {
	username   string
	grantAdmin bool
}

type fakeAccounts struct {
	existing  map[string]bool
	ensured   []ensureCall
	imported  map[string]string
	ensureErr error
	importErr error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{existing: map[string]bool{}, imported: map[string]string{}}
}

func (f *fakeAccounts) EnsureAccount(_ context.Context, username string, grantAdmin bool) (bool, error) {
	f.ensured = append(f.ensured, ensureCall{username, grantAdmin})
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	existed := f.existing[username]
	f.existing[username] = true
	return existed, nil
}

func (f *fakeAccounts) ImportKeys(_ context.Context, username, keys string) error {
	if f.importErr != nil {
		return f.importErr
	}
	f.imported[username] += keys
	return nil
}

type memorySink struct {
	events []*audit.Event
	err    error
}

func (s *memorySink) Write(_ context.Context, e *audit.Event) error {
	s.events = append(s.events, e)
	return s.err
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) types() []audit.EventType {
	var types []audit.EventType
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

// teamFailure makes the team lookup fail at the transport level.
type teamFailure struct {
	*github.Provider
}

func (teamFailure) IsTeamMember(context.Context, *github.Identity, string) (bool, error) {
	return false, &github.Error{Kind: github.KindTransport, Op: "check team membership", Err: errors.New("connection reset")}
}

type harness struct {
	srv      *githubtest.Server
	provider login.Provider
	accounts *fakeAccounts
	logs     *observer.ObservedLogs
	sink     *memorySink
	metrics  *metrics.Recorder
	spans    *tracetest.SpanRecorder
}

func newHarness(t *testing.T, githubLogin, org string) *harness {
	t.Helper()
	srv := githubtest.New(githubLogin, org)
	t.Cleanup(srv.Close)
	p, err := github.NewProvider(srv.Config())
	require.NoError(t, err)
	return &harness{
		srv:      srv,
		provider: p,
		accounts: newFakeAccounts(),
		sink:     &memorySink{},
		metrics:  metrics.NewRecorder(),
		spans:    tracetest.NewSpanRecorder(),
	}
}

func (h *harness) run(t *testing.T, prompter conversation.Prompter, username string, policy config.Policy) login.Result {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h.logs = logs
	a := login.New(h.provider, h.accounts,
		login.WithLogger(zap.New(core).Sugar()),
		login.WithAudit(audit.NewRecorder(h.sink, nil)),
		login.WithMetrics(h.metrics),
		login.WithTracer(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans)).Tracer("test")),
	)
	return a.Authenticate(context.Background(), prompter, login.Request{
		Username:   username,
		Policy:     policy,
		Service:    "sshd",
		RemoteHost: "192.0.2.10",
	})
}

func (h *harness) policy() config.Policy {
	return config.Policy{Organization: "acme", ClientID: h.srv.ClientID}
}

func texts(p *conversation.Scripted) string {
	var b strings.Builder
	for _, m := range p.Transcript() {
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func TestResultString(t *testing.T) {
	require.Equal(t, "success", login.Success.String())
	require.Equal(t, "user-unknown", login.UserUnknown.String())
	require.Equal(t, "service-error", login.ServiceError.String())
}

func TestMemberWithoutTeamSucceeds(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	p := conversation.NewScripted("")

	result := h.run(t, p, "alice", h.policy())

	require.Equal(t, login.Success, result)
	require.Equal(t, []conversation.Style{conversation.PromptEchoOff, conversation.TextInfo}, p.Styles())
	transcript := p.Transcript()
	require.Contains(t, transcript[0].Text, "ABCD-1234")
	require.Contains(t, transcript[0].Text, h.srv.URL+"/login/device")
	require.Contains(t, transcript[0].Text, "15 minutes")
	require.Equal(t, "Authenticated as alice.", transcript[1].Text)
	require.Empty(t, h.accounts.ensured)

	require.Equal(t, []audit.EventType{audit.EventLoginStarted, audit.EventDeviceCodeIssued, audit.EventLoginSucceeded}, h.sink.types())
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LastAttemptResult.WithLabelValues("success")))
	require.Equal(t, 1, h.logs.FilterMessage("Authentication successful").Len())
}

func TestTeamNonMemberIsUserUnknown(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Teams["acme/platform"] = []string{"bob"}
	p := conversation.NewScripted("")
	policy := h.policy()
	policy.Team = "platform"
	policy.AutoCreateUser = true

	result := h.run(t, p, "alice", policy)

	require.Equal(t, login.UserUnknown, result)
	require.Equal(t, []conversation.Style{conversation.PromptEchoOff, conversation.ErrorMsg}, p.Styles())
	require.NotContains(t, texts(p), "platform", "the operator must not learn why")
	require.Empty(t, h.accounts.ensured)

	denied := h.logs.FilterMessage("Authentication denied").All()
	require.Len(t, denied, 1)
	require.Contains(t, denied[0].ContextMap()["reason"], "team platform")
}

func TestTeamMemberSucceeds(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Teams["acme/platform"] = []string{"alice"}
	policy := h.policy()
	policy.Team = "platform"

	require.Equal(t, login.Success, h.run(t, conversation.NewScripted(""), "alice", policy))
}

func TestSudoerAccountIsCreated(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	policy := h.policy()
	policy.AutoCreateUser = true
	policy.Sudoer = true

	result := h.run(t, conversation.NewScripted(""), "alice", policy)

	require.Equal(t, login.Success, result)
	require.Equal(t, []ensureCall{{"alice", true}}, h.accounts.ensured)
	require.Contains(t, h.sink.types(), audit.EventAccountCreated)
	require.Contains(t, h.sink.types(), audit.EventAdminGranted)
}

func TestExistingAccountIsNotReported(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.accounts.existing["alice"] = true
	policy := h.policy()
	policy.AutoCreateUser = true

	require.Equal(t, login.Success, h.run(t, conversation.NewScripted(""), "alice", policy))
	require.NotContains(t, h.sink.types(), audit.EventAccountCreated)
}

func TestDeclinedKeyImport(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Keys["alice"] = "ssh-ed25519 AAAA\n"
	p := conversation.NewScripted("", "n")
	policy := h.policy()
	policy.AllowImportKeys = true

	result := h.run(t, p, "alice", policy)

	require.Equal(t, login.Success, result)
	require.Equal(t, conversation.PromptEchoOn, p.Styles()[2])
	require.Empty(t, h.accounts.imported)
	require.False(t, h.srv.Requested("/alice.keys"))
}

func TestAcceptedKeyImport(t *testing.T) {
	for _, answer := range []string{"y", "Y", " y \n"} {
		h := newHarness(t, "alice", "acme")
		h.srv.Keys["alice"] = "ssh-ed25519 AAAA1\nssh-rsa AAAA2\n"
		policy := h.policy()
		policy.AllowImportKeys = true

		require.Equal(t, login.Success, h.run(t, conversation.NewScripted("", answer), "alice", policy), answer)
		require.Equal(t, "ssh-ed25519 AAAA1\nssh-rsa AAAA2\n", h.accounts.imported["alice"])
		require.Contains(t, h.sink.types(), audit.EventKeysImported)
	}
}

func TestKeyImportFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		policy := h.policy()
		policy.AllowImportKeys = true
		require.Equal(t, login.ServiceError, h.run(t, conversation.NewScripted("", "y"), "alice", policy))
	})
	t.Run("import", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		h.srv.Keys["alice"] = "ssh-rsa AAAA\n"
		h.accounts.importErr = errors.New("read-only file system")
		policy := h.policy()
		policy.AllowImportKeys = true
		require.Equal(t, login.ServiceError, h.run(t, conversation.NewScripted("", "y"), "alice", policy))
	})
	t.Run("prompt", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		policy := h.policy()
		policy.AllowImportKeys = true
		p := conversation.NewScripted("").FailOn(conversation.PromptEchoOn, conversation.ErrFailed)
		require.Equal(t, login.ServiceError, h.run(t, p, "alice", policy))
	})
}

func TestProvisioningFailureIsServiceError(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.accounts.ensureErr = errors.New("useradd: cannot lock /etc/passwd")
	policy := h.policy()
	policy.AutoCreateUser = true
	policy.AllowImportKeys = true

	result := h.run(t, conversation.NewScripted("", "y"), "alice", policy)

	require.Equal(t, login.ServiceError, result)
	require.Empty(t, h.accounts.imported)
}

func TestMissingParametersFailBeforeNetwork(t *testing.T) {
	cases := map[string]func(*config.Policy){
		"organization": func(p *config.Policy) { p.Organization = "" },
		"client id":    func(p *config.Policy) { p.ClientID = "" },
		"empty team":   func(p *config.Policy) { p.Team, p.TeamSet = "", true },
		"blank team":   func(p *config.Policy) { p.Team, p.TeamSet = "  ", true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, "alice", "acme")
			policy := h.policy()
			mutate(&policy)
			p := conversation.NewScripted("")

			require.Equal(t, login.ServiceError, h.run(t, p, "alice", policy))
			require.Empty(t, h.srv.Requests())
			require.Empty(t, p.Transcript())
		})
	}

	h := newHarness(t, "alice", "acme")
	require.Equal(t, login.ServiceError, h.run(t, conversation.NewScripted(""), "", h.policy()))
	require.Empty(t, h.srv.Requests())
}

func TestProvisioningWithoutAccountManager(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	policy := h.policy()
	policy.AutoCreateUser = true
	a := login.New(h.provider, nil)

	require.Equal(t, login.ServiceError, a.Authenticate(context.Background(), conversation.NewScripted(""), login.Request{Username: "alice", Policy: policy}))
	require.Empty(t, h.srv.Requests())
}

func TestRedeemOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*githubtest.Server)
		username  string
		want      login.Result
		wantError bool
	}{
		{
			name:     "not in organization",
			setup:    func(s *githubtest.Server) { delete(s.Memberships, "acme/alice") },
			username: "alice",
			want:     login.UserUnknown,
		},
		{
			name:     "username mismatch",
			setup:    func(*githubtest.Server) {},
			username: "mallory",
			want:     login.UserUnknown,
		},
		{
			name:      "authorization pending",
			setup:     func(s *githubtest.Server) { s.TokenError = "authorization_pending" },
			username:  "alice",
			want:      login.UserUnknown,
			wantError: true,
		},
		{
			name:      "token endpoint unauthorized",
			setup:     func(s *githubtest.Server) { s.Fail("/login/oauth/access_token", http.StatusUnauthorized) },
			username:  "alice",
			want:      login.UserUnknown,
			wantError: true,
		},
		{
			name:     "token endpoint forbidden",
			setup:    func(s *githubtest.Server) { s.Fail("/login/oauth/access_token", http.StatusForbidden) },
			username: "alice",
			want:     login.ServiceError,
		},
		{
			name:     "token endpoint down",
			setup:    func(s *githubtest.Server) { s.Fail("/login/oauth/access_token", http.StatusBadGateway) },
			username: "alice",
			want:     login.ServiceError,
		},
		{
			name:     "membership lookup broken",
			setup:    func(s *githubtest.Server) { s.Fail("/api/orgs/acme/memberships/alice", http.StatusInternalServerError) },
			username: "alice",
			want:     login.ServiceError,
		},
		{
			name: "membership unknown state",
			setup: func(s *githubtest.Server) {
				s.Memberships["acme/alice"] = githubtest.Membership{State: "suspended", Role: "member"}
			},
			username: "alice",
			want:     login.ServiceError,
		},
		{
			name: "membership pending",
			setup: func(s *githubtest.Server) {
				s.Memberships["acme/alice"] = githubtest.Membership{State: "pending", Role: "member"}
			},
			username:  "alice",
			want:      login.UserUnknown,
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", "acme")
			tt.setup(h.srv)
			p := conversation.NewScripted("")
			policy := h.policy()
			policy.AutoCreateUser = true

			require.Equal(t, tt.want, h.run(t, p, tt.username, policy))
			require.Empty(t, h.accounts.ensured)
			require.NotContains(t, p.Styles(), conversation.TextInfo)
			if tt.wantError {
				require.Contains(t, p.Styles(), conversation.ErrorMsg)
			}
		})
	}
}

func TestDeviceCodeFailureIsServiceError(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Fail("/login/device/code", http.StatusNotFound)
	p := conversation.NewScripted("")

	require.Equal(t, login.ServiceError, h.run(t, p, "alice", h.policy()))
	require.Empty(t, p.Transcript())
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues("device_code", "not_found")))
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	return names
}

func TestAttemptIsTraced(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Teams["acme/platform"] = []string{"alice"}
	policy := h.policy()
	policy.Team = "platform"

	require.Equal(t, login.Success, h.run(t, conversation.NewScripted(""), "alice", policy))

	spans := h.spans.Ended()
	require.Equal(t, []string{
		"login.device_code", "login.prompt", "login.redeem", "login.team", "login.notify", "login.authenticate",
	}, spanNames(spans))

	root := spans[len(spans)-1]
	require.Contains(t, root.Attributes(), attribute.String("login.result", "success"))
	require.Contains(t, root.Attributes(), attribute.String("login.organization", "acme"))
	for _, child := range spans[:len(spans)-1] {
		require.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
	}
}

func TestFailedStageMarksSpan(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.srv.Fail("/login/device/code", http.StatusNotFound)

	require.Equal(t, login.ServiceError, h.run(t, conversation.NewScripted(""), "alice", h.policy()))

	spans := h.spans.Ended()
	require.Equal(t, []string{"login.device_code", "login.authenticate"}, spanNames(spans))
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "not_found", spans[0].Status().Description)
	require.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTeamLookupFailureIsServiceError(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.provider = teamFailure{h.provider.(*github.Provider)}
	policy := h.policy()
	policy.Team = "platform"

	require.Equal(t, login.ServiceError, h.run(t, conversation.NewScripted(""), "alice", policy))
}

func TestConversationFailures(t *testing.T) {
	t.Run("device prompt", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		p := conversation.NewScripted("").FailAt(0, conversation.ErrUnavailable)

		require.Equal(t, login.ServiceError, h.run(t, p, "alice", h.policy()))
		require.False(t, h.srv.Requested("/login/oauth/access_token"))
	})
	t.Run("success message", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		policy := h.policy()
		policy.AutoCreateUser = true
		p := conversation.NewScripted("").FailOn(conversation.TextInfo, conversation.ErrFailed)

		require.Equal(t, login.ServiceError, h.run(t, p, "alice", policy))
		require.Empty(t, h.accounts.ensured)
	})
	t.Run("denial message", func(t *testing.T) {
		h := newHarness(t, "alice", "acme")
		h.srv.TokenError = "access_denied"
		p := conversation.NewScripted("").FailOn(conversation.ErrorMsg, conversation.ErrFailed)

		require.Equal(t, login.UserUnknown, h.run(t, p, "alice", h.policy()))
		require.Equal(t, 1, h.logs.FilterMessage("Failed to display error message").Len())
	})
}

func TestAuditFailureDoesNotChangeResult(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	h.sink.err = errors.New("broker unavailable")

	require.Equal(t, login.Success, h.run(t, conversation.NewScripted(""), "alice", h.policy()))
	require.NotEmpty(t, h.sink.events)
}

func TestCustomMessages(t *testing.T) {
	h := newHarness(t, "alice", "acme")
	msgs, err := login.NewMessages(config.Messages{
		DevicePrompt: "Code {{ .UserCode | lower }} for {{ .Username | upper }}",
		Success:      "Welcome {{ .Login }} ({{ .Organization }})",
	})
	require.NoError(t, err)
	a := login.New(h.provider, nil, login.WithMessages(msgs))
	p := conversation.NewScripted("")

	require.Equal(t, login.Success, a.Authenticate(context.Background(), p, login.Request{Username: "alice", Policy: h.policy()}))
	require.Equal(t, "Code abcd-1234 for ALICE", p.Transcript()[0].Text)
	require.Equal(t, "Welcome alice (acme)", p.Transcript()[1].Text)
}

func TestInvalidMessageTemplate(t *testing.T) {
	_, err := login.NewMessages(config.Messages{Denied: "{{ .Nope "})
	require.ErrorContains(t, err, "denied")
}
