// Package login turns one login attempt into a single decision: it runs the
// GitHub device flow with the operator, checks organization and team
// membership, and optionally provisions the local account and its keys.
package login

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/Paulkm2006/ssh-github-auth/pkg/accounts"
	"github.com/Paulkm2006/ssh-github-auth/pkg/audit"
	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
	"github.com/Paulkm2006/ssh-github-auth/pkg/metrics"
)

// Result is the outcome reported to the host.
type Result int

const (
	Success Result = iota
	UserUnknown
	ServiceError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case UserUnknown:
		return "user-unknown"
	default:
		return "service-error"
	}
}

// Provider is the GitHub side of the device flow. *github.Provider implements
// it.
type Provider interface {
	RequestDeviceCode(ctx context.Context, clientID string) (*github.DeviceCode, error)
	Authenticate(ctx context.Context, deviceCode, clientID, username, org string) (*github.Identity, error)
	IsTeamMember(ctx context.Context, id *github.Identity, team string) (bool, error)
	FetchPublicKeys(ctx context.Context, id *github.Identity) (string, error)
}

// Request describes one attempt.
type Request struct {
	// Username is the local account name claimed at login.
	Username string
	Policy   config.Policy
	// Service and RemoteHost are informational.
	Service    string
	RemoteHost string
}

// Authenticator runs login attempts. It keeps no state between attempts.
type Authenticator struct {
	provider Provider
	accounts accounts.Manager
	log      *zap.SugaredLogger
	audit    *audit.Recorder
	metrics  *metrics.Recorder
	messages *Messages
	tracer   trace.Tracer
}

type Option func(*Authenticator)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *Authenticator) { a.log = log }
}

func WithAudit(rec *audit.Recorder) Option {
	return func(a *Authenticator) { a.audit = rec }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(a *Authenticator) { a.metrics = rec }
}

func WithMessages(m *Messages) Option {
	return func(a *Authenticator) { a.messages = m }
}

// WithTracer traces each attempt as a span with one child span per stage.
func WithTracer(t trace.Tracer) Option {
	return func(a *Authenticator) { a.tracer = t }
}

// New returns an Authenticator. accounts may be nil when the policy never
// asks for provisioning or key import.
func New(provider Provider, accounts accounts.Manager, opts ...Option) *Authenticator {
	a := &Authenticator{
		provider: provider,
		accounts: accounts,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.messages == nil {
		a.messages = DefaultMessages()
	}
	if a.tracer == nil {
		a.tracer = noop.NewTracerProvider().Tracer("")
	}
	return a
}
