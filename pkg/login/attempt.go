package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Paulkm2006/ssh-github-auth/pkg/audit"
	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
	"github.com/Paulkm2006/ssh-github-auth/pkg/github"
)

// Stage names used in logs and metrics.
const (
	stageValidate   = "validate"
	stageDeviceCode = "device_code"
	stagePrompt     = "prompt"
	stageRedeem     = "redeem"
	stageTeam       = "team"
	stageNotify     = "notify"
	stageProvision  = "provision"
	stageImport     = "import_keys"
)

var errNoAccounts = errors.New("account management is not configured")

// attempt carries the per-attempt state through the stages.
type attempt struct {
	*Authenticator
	ctx      context.Context
	prompter conversation.Prompter
	req      Request
	rec      *audit.Recorder
	log      *zap.SugaredLogger
	data     MessageData
}

// outcome ends an attempt. reason is for the log and audit trail only.
type outcome struct {
	result Result
	reason string
}

func deny(format string, args ...interface{}) *outcome {
	return &outcome{result: UserUnknown, reason: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...interface{}) *outcome {
	return &outcome{result: ServiceError, reason: fmt.Sprintf(format, args...)}
}

// Authenticate runs one attempt and returns exactly one Result. Side effects
// only happen after membership has been confirmed; once started they run to
// completion before the attempt returns.
func (a *Authenticator) Authenticate(ctx context.Context, prompter conversation.Prompter, req Request) Result {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "login.authenticate")
	defer span.End()
	rec := a.audit.Begin(audit.Actor{User: req.Username, Service: req.Service, RemoteHost: req.RemoteHost},
		req.Policy.Organization, req.Policy.Team)
	at := &attempt{
		Authenticator: a,
		ctx:           ctx,
		prompter:      prompter,
		req:           req,
		rec:           rec,
		log: a.log.With("user", req.Username, "organization", req.Policy.Organization,
			"service", req.Service, "rhost", req.RemoteHost, "attempt", rec.AttemptID()),
		data: MessageData{
			Username:     req.Username,
			Organization: req.Policy.Organization,
			Team:         req.Policy.Team,
		},
	}

	at.log.Infow("Authentication request", "team", req.Policy.Team,
		"autoCreateUser", req.Policy.AutoCreateUser, "sudoer", req.Policy.Sudoer,
		"allowImportKeys", req.Policy.AllowImportKeys)
	rec.Record(ctx, audit.EventLoginStarted, "", nil)
	span.SetAttributes(
		attribute.String("login.user", req.Username),
		attribute.String("login.organization", req.Policy.Organization),
		attribute.String("login.team", req.Policy.Team),
		attribute.String("login.service", req.Service),
		attribute.String("login.attempt_id", rec.AttemptID()),
	)

	out := at.run()
	span.SetAttributes(attribute.String("login.result", out.result.String()))
	if out.result == ServiceError {
		span.SetStatus(codes.Error, out.reason)
	}

	switch out.result {
	case Success:
		at.log.Infow("Authentication successful", "login", at.data.Login, "detail", out.reason)
		rec.Finish(ctx, audit.EventLoginSucceeded, out.result.String(), out.reason)
	case UserUnknown:
		at.log.Warnw("Authentication denied", "reason", out.reason)
		rec.Finish(ctx, audit.EventLoginDenied, out.result.String(), out.reason)
	default:
		at.log.Errorw("Authentication failed", "reason", out.reason)
		rec.Finish(ctx, audit.EventLoginFailed, out.result.String(), out.reason)
	}
	a.metrics.ObserveAttempt(out.result.String(), start)
	return out.result
}

func (at *attempt) run() *outcome {
	if out := at.validate(); out != nil {
		return out
	}

	code, out := at.requestCode()
	if out != nil {
		return out
	}
	if out := at.displayCode(code); out != nil {
		return out
	}

	id, out := at.redeem(code)
	if out != nil {
		return out
	}
	if !id.Active() {
		at.showDenied()
		return deny("organization membership in %s is %s", id.Organization(), id.State())
	}

	if at.req.Policy.Team != "" {
		if out := at.checkTeam(id); out != nil {
			return out
		}
	}

	if out := at.notifySuccess(); out != nil {
		return out
	}

	if at.req.Policy.AutoCreateUser {
		if out := at.provision(); out != nil {
			return out
		}
	}
	if at.req.Policy.AllowImportKeys {
		return at.importKeys(id)
	}
	return &outcome{result: Success}
}

func (at *attempt) validate() *outcome {
	if strings.TrimSpace(at.req.Username) == "" {
		at.metrics.StageFailed(stageValidate, "missing_username")
		return fail("no username supplied")
	}
	if err := at.req.Policy.Validate(); err != nil {
		at.metrics.StageFailed(stageValidate, "missing_parameter")
		return fail("invalid module parameters: %v", err)
	}
	if (at.req.Policy.AutoCreateUser || at.req.Policy.AllowImportKeys) && at.accounts == nil {
		at.metrics.StageFailed(stageValidate, "no_accounts")
		return fail("%v", errNoAccounts)
	}
	return nil
}

// timed runs fn in a child span and records its duration under stage.
func (at *attempt) timed(stage string, fn func(ctx context.Context) error) error {
	ctx, span := at.tracer.Start(at.ctx, "login."+stage)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	at.metrics.ObserveStage(stage, time.Since(start))
	if err != nil {
		at.metrics.StageFailed(stage, kindLabel(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, kindLabel(err))
	}
	return err
}

func kindLabel(err error) string {
	var perr *github.Error
	if errors.As(err, &perr) {
		return strings.ReplaceAll(perr.Kind.String(), " ", "_")
	}
	switch {
	case errors.Is(err, conversation.ErrUnavailable):
		return "conversation_unavailable"
	case errors.Is(err, conversation.ErrFailed):
		return "conversation_failed"
	default:
		return "other"
	}
}

func (at *attempt) requestCode() (*github.DeviceCode, *outcome) {
	var code *github.DeviceCode
	err := at.timed(stageDeviceCode, func(ctx context.Context) (err error) {
		code, err = at.provider.RequestDeviceCode(ctx, at.req.Policy.ClientID)
		return err
	})
	if err != nil {
		return nil, fail("failed to request device code: %v", err)
	}
	at.data.UserCode = code.UserCode
	at.data.VerificationURI = code.VerificationURI
	at.data.ExpiresAt = code.Expiry
	at.data.ExpiresInMinutes = expiresInMinutes(code.Expiry, time.Now())
	at.log.Debugw("Device code issued", "expiry", code.Expiry, "interval", code.Interval)
	at.rec.Record(at.ctx, audit.EventDeviceCodeIssued, "", map[string]interface{}{
		"expiresAt": code.Expiry,
	})
	return code, nil
}

// displayCode shows the instructions as a masked prompt and waits for the
// operator to press Enter. The answer is discarded.
func (at *attempt) displayCode(code *github.DeviceCode) *outcome {
	text, err := render(at.messages.devicePrompt, at.data)
	if err != nil {
		return fail("%v", err)
	}
	err = at.timed(stagePrompt, func(context.Context) error {
		_, err := at.prompter.Prompt(text, conversation.PromptEchoOff)
		return err
	})
	if err != nil {
		return fail("failed to display device code: %v", err)
	}
	return nil
}

func (at *attempt) redeem(code *github.DeviceCode) (*github.Identity, *outcome) {
	var id *github.Identity
	err := at.timed(stageRedeem, func(ctx context.Context) (err error) {
		id, err = at.provider.Authenticate(ctx, code.DeviceCode, at.req.Policy.ClientID,
			at.req.Username, at.req.Policy.Organization)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, github.ErrNotFound):
		return nil, deny("not a member of organization %s: %v", at.req.Policy.Organization, err)
	case errors.Is(err, github.ErrInvalidUser):
		return nil, deny("%v", err)
	case errors.Is(err, github.ErrUnauthorized):
		at.showError(at.messages.unauthorized)
		return nil, deny("device authorization not granted: %v", err)
	default:
		return nil, fail("failed to redeem device code: %v", err)
	}

	at.data.Login = id.Username()
	at.rec.SetRemoteLogin(id.Username())
	at.log.Infow("GitHub identity verified", "login", id.Username(), "state", id.State(), "role", id.Role())
	return id, nil
}

func (at *attempt) checkTeam(id *github.Identity) *outcome {
	var member bool
	err := at.timed(stageTeam, func(ctx context.Context) (err error) {
		member, err = at.provider.IsTeamMember(ctx, id, at.req.Policy.Team)
		return err
	})
	if err != nil {
		return fail("failed to check team membership: %v", err)
	}
	if !member {
		at.showDenied()
		return deny("not a member of team %s", at.req.Policy.Team)
	}
	return nil
}

// notifySuccess tells the operator they are authenticated. A broken
// conversation here is fatal.
func (at *attempt) notifySuccess() *outcome {
	text, err := render(at.messages.success, at.data)
	if err != nil {
		return fail("%v", err)
	}
	err = at.timed(stageNotify, func(context.Context) error {
		return conversation.Info(at.prompter, text)
	})
	if err != nil {
		return fail("failed to display success message: %v", err)
	}
	return nil
}

// showError displays a denial. The attempt is already lost, so failures are
// only logged.
func (at *attempt) showError(tmpl *template.Template) {
	text, err := render(tmpl, at.data)
	if err == nil {
		err = conversation.Error(at.prompter, text)
	}
	if err != nil {
		at.log.Warnw("Failed to display error message", "error", err)
	}
}

func (at *attempt) showDenied() {
	at.showError(at.messages.denied)
}

func (at *attempt) provision() *outcome {
	var existed bool
	err := at.timed(stageProvision, func(ctx context.Context) (err error) {
		existed, err = at.accounts.EnsureAccount(ctx, at.req.Username, at.req.Policy.Sudoer)
		return err
	})
	if err != nil {
		return fail("failed to provision account: %v", err)
	}
	if existed {
		at.log.Debugw("Local account already exists")
		return nil
	}
	at.log.Infow("Local account created", "admin", at.req.Policy.Sudoer)
	at.rec.Record(at.ctx, audit.EventAccountCreated, "", map[string]interface{}{"admin": at.req.Policy.Sudoer})
	if at.req.Policy.Sudoer {
		at.rec.Record(at.ctx, audit.EventAdminGranted, "passwordless sudo granted", nil)
	}
	return nil
}

// importKeys asks the operator whether to import their GitHub keys. Anything
// but "y" ends the attempt successfully without importing.
func (at *attempt) importKeys(id *github.Identity) *outcome {
	text, err := render(at.messages.importPrompt, at.data)
	if err != nil {
		return fail("%v", err)
	}
	answer, err := at.prompter.Prompt(text, conversation.PromptEchoOn)
	if err != nil {
		at.metrics.StageFailed(stageImport, kindLabel(err))
		return fail("failed to ask about key import: %v", err)
	}
	if !strings.EqualFold(strings.TrimSpace(answer), "y") {
		return &outcome{result: Success, reason: "key import declined"}
	}

	var keys string
	err = at.timed(stageImport, func(ctx context.Context) (err error) {
		keys, err = at.provider.FetchPublicKeys(ctx, id)
		if err != nil {
			return err
		}
		return at.accounts.ImportKeys(ctx, at.req.Username, keys)
	})
	if err != nil {
		return fail("failed to import public keys: %v", err)
	}
	at.rec.Record(at.ctx, audit.EventKeysImported, "", map[string]interface{}{"keys": countKeys(keys)})
	return &outcome{result: Success, reason: "public keys imported"}
}

func countKeys(keys string) int {
	n := 0
	for _, line := range strings.Split(keys, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}
