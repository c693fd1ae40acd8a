// Package app wires settings, logging, audit sinks, the GitHub provider and
// the account manager into a single login attempt. Both the PAM module and
// the CLI enter through Authenticate.
package app

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/Paulkm2006/ssh-github-auth/pkg/accounts"
	"github.com/Paulkm2006/ssh-github-auth/pkg/audit"
	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
	"github.com/Paulkm2006/ssh-github-auth/pkg/logging"
	"github.com/Paulkm2006/ssh-github-auth/pkg/login"
	"github.com/Paulkm2006/ssh-github-auth/pkg/metrics"
	"github.com/Paulkm2006/ssh-github-auth/pkg/telemetry"
	"github.com/Paulkm2006/ssh-github-auth/pkg/version"
)

// Options describes one invocation.
type Options struct {
	Username string
	// Args are the raw module arguments ("key=value" or bare flags).
	Args     []string
	Prompter conversation.Prompter
	// Service and RemoteHost identify the caller, when known.
	Service    string
	RemoteHost string

	// Accounts replaces the system account manager.
	Accounts accounts.Manager
	// Logger replaces the logger built from the settings.
	Logger *zap.Logger
}

// Authenticate runs one login attempt end to end. Configuration problems are
// reported as login.ServiceError; they never panic.
func Authenticate(ctx context.Context, opts Options) login.Result {
	args := config.ParseArgs(opts.Args)

	cfg, unknown, cfgErr := config.Resolve(args)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewOrNop(loggingOptions(cfg, args))
		defer func() { _ = logger.Sync() }()
	}
	log := logger.Sugar().With("version", version.Version)

	if cfgErr != nil {
		log.Errorw("Failed to load settings", "error", cfgErr)
		return login.ServiceError
	}
	if len(unknown) > 0 {
		log.Warnw("Ignoring unknown module arguments", "keys", unknown)
	}
	log.Debugw("Settings resolved", "github", cfg.GitHub.WebURL, "api", cfg.GitHub.APIURL)

	provider, err := github.NewProvider(github.Config{
		WebURL:          cfg.GitHub.WebURL,
		APIURL:          cfg.GitHub.APIURL,
		Scopes:          cfg.GitHub.Scopes,
		CAFile:          cfg.GitHub.CAFile,
		InsecureSkipTLS: cfg.GitHub.InsecureSkipTLS,
		Timeout:         cfg.GitHub.Timeout,
		UserAgent:       version.UserAgent(),
		Logger:          log,
	})
	if err != nil {
		log.Errorw("Failed to set up GitHub client", "error", err)
		return login.ServiceError
	}

	messages, err := login.NewMessages(cfg.Messages)
	if err != nil {
		log.Errorw("Invalid message template", "error", err)
		return login.ServiceError
	}

	manager := opts.Accounts
	if manager == nil {
		manager = accounts.NewSystem(accounts.Config{
			HomeBase:   cfg.Accounts.HomeBase,
			Shell:      cfg.Accounts.Shell,
			SudoersDir: cfg.Accounts.SudoersDir,
		}, accounts.ExecRunner{Sudo: cfg.Accounts.UseSudo}, log)
	}

	recorder := audit.NewRecorder(buildSinks(cfg.Audit, logger), log)
	defer recorder.Close()

	attemptMetrics := metrics.NewRecorder()
	defer func() {
		if err := attemptMetrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warnw("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}()

	tracerProvider, shutdownTracing := tracing(ctx, cfg.Tracing, log)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	authenticator := login.New(provider, manager,
		login.WithLogger(log),
		login.WithAudit(recorder),
		login.WithMetrics(attemptMetrics),
		login.WithMessages(messages),
		login.WithTracer(tracerProvider.Tracer(telemetry.TracerName)),
	)
	return authenticator.Authenticate(ctx, opts.Prompter, login.Request{
		Username:   opts.Username,
		Policy:     cfg.Policy,
		Service:    opts.Service,
		RemoteHost: opts.RemoteHost,
	})
}

// tracing builds the attempt's tracer provider. Tracing problems never block
// a login.
func tracing(ctx context.Context, cfg config.Tracing, log *zap.SugaredLogger) (trace.TracerProvider, telemetry.ShutdownFunc) {
	tp, shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Enabled,
		ServiceVersion: version.Version,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SamplingRate:   cfg.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		log.Warnw("Tracing disabled", "error", err)
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}
	return tp, shutdown
}

// loggingOptions falls back to the module arguments when the settings file
// could not be loaded, so the failure itself still gets logged.
func loggingOptions(cfg *config.Config, args config.Args) logging.Options {
	if cfg == nil {
		d := config.DefaultConfig()
		cfg = &d
		cfg.ApplyArgs(args)
	}
	return logging.Options{
		Debug:     cfg.Logging.Debug,
		File:      strings.TrimSpace(cfg.Logging.File),
		Syslog:    !cfg.Logging.DisableSyslog,
		SyslogTag: cfg.Logging.SyslogTag,
	}
}
