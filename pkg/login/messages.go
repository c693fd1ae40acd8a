package login

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
)

const (
	defaultDevicePrompt = `Please visit {{ .VerificationURI }} and enter the following code: {{ .UserCode }}
You have {{ .ExpiresInMinutes }} minutes to complete this step.

After a successful login, press Enter to continue...`
	defaultUnauthorized = "GitHub did not authorize this login. Access denied."
	defaultDenied       = "Access denied."
	defaultSuccess      = "Authenticated as {{ .Login }}."
	defaultImportPrompt = "Import your GitHub public keys into ~/.ssh/authorized_keys? [y/N] "

	fallbackExpiryMinutes = 10
)

// MessageData is available to every message template.
type MessageData struct {
	Username         string
	Login            string
	Organization     string
	Team             string
	UserCode         string
	VerificationURI  string
	ExpiresAt        time.Time
	ExpiresInMinutes int
}

// Messages renders the operator-facing texts. Denial texts never carry the
// reason; that only goes to the log.
type Messages struct {
	devicePrompt *template.Template
	unauthorized *template.Template
	denied       *template.Template
	success      *template.Template
	importPrompt *template.Template
}

// DefaultMessages returns the built-in texts.
func DefaultMessages() *Messages {
	m, err := NewMessages(config.Messages{})
	if err != nil {
		panic(fmt.Sprintf("built-in message templates are invalid: %v", err))
	}
	return m
}

// NewMessages parses overrides; empty fields keep the built-in text.
func NewMessages(cfg config.Messages) (*Messages, error) {
	m := &Messages{}
	for _, t := range []struct {
		name     string
		text     string
		fallback string
		dst      **template.Template
	}{
		{"device-prompt", cfg.DevicePrompt, defaultDevicePrompt, &m.devicePrompt},
		{"unauthorized", cfg.Unauthorized, defaultUnauthorized, &m.unauthorized},
		{"denied", cfg.Denied, defaultDenied, &m.denied},
		{"success", cfg.Success, defaultSuccess, &m.success},
		{"import-prompt", cfg.ImportPrompt, defaultImportPrompt, &m.importPrompt},
	} {
		text := t.text
		if text == "" {
			text = t.fallback
		}
		tmpl, err := template.New(t.name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s message: %w", t.name, err)
		}
		*t.dst = tmpl
	}
	return m, nil
}

func render(tmpl *template.Template, data MessageData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func expiresInMinutes(expiry, now time.Time) int {
	if expiry.IsZero() || !expiry.After(now) {
		return fallbackExpiryMinutes
	}
	return int(expiry.Sub(now).Round(time.Minute) / time.Minute)
}
