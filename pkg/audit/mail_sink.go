package audit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"gopkg.in/gomail.v2"
)

// DefaultMailEvents are the event types mailed when MailSinkConfig.Events is
// empty: changes made to local accounts.
var DefaultMailEvents = []EventType{EventAccountCreated, EventAdminGranted}

// MailSinkConfig configures a MailSink.
type MailSinkConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool

	From     string
	FromName string
	To       []string

	// Events limits which event types are mailed.
	Events []EventType
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailSink notifies administrators by mail about selected events.
type MailSink struct {
	dialer   mailDialer
	from     string
	fromName string
	to       []string
	events   []EventType
	logger   *zap.Logger
}

// NewMailSink creates a new MailSink.
func NewMailSink(cfg MailSinkConfig, logger *zap.Logger) (*MailSink, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail host is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one mail recipient is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	d := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}

	from := cfg.From
	if from == "" {
		from = "ssh-with-gh@localhost"
	}
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "ssh-with-gh"
	}
	events := cfg.Events
	if len(events) == 0 {
		events = DefaultMailEvents
	}

	return &MailSink{
		dialer:   d,
		from:     from,
		fromName: fromName,
		to:       cfg.To,
		events:   events,
		logger:   logger.Named("mail-sink"),
	}, nil
}

// Write mails the event if its type is selected; other events are ignored.
func (s *MailSink) Write(_ context.Context, event *Event) error {
	if !slices.Contains(s.events, event.Type) {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.from, s.fromName)
	msg.SetHeader("Bcc", s.to...)
	msg.SetHeader("Subject", mailSubject(event))
	msg.SetBody("text/plain", mailBody(event))

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send audit mail: %w", err)
	}
	s.logger.Debug("audit mail sent",
		zap.String("event_id", event.ID),
		zap.Int("recipients", len(s.to)))
	return nil
}

// Close is a no-op; every mail uses its own connection.
func (s *MailSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *MailSink) Name() string {
	return "mail"
}

func mailSubject(event *Event) string {
	host := event.Actor.RemoteHost
	if host == "" {
		host = "unknown host"
	}
	return fmt.Sprintf("[ssh-with-gh] %s: %s from %s", event.Type, event.Actor.User, host)
}

func mailBody(event *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:        %s (%s)\n", event.Type, event.Severity)
	fmt.Fprintf(&b, "Time:         %s\n", event.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Local user:   %s\n", event.Actor.User)
	if event.Actor.RemoteLogin != "" {
		fmt.Fprintf(&b, "GitHub login: %s\n", event.Actor.RemoteLogin)
	}
	if event.Organization != "" {
		fmt.Fprintf(&b, "Organization: %s\n", event.Organization)
	}
	if event.Team != "" {
		fmt.Fprintf(&b, "Team:         %s\n", event.Team)
	}
	if event.Actor.Service != "" {
		fmt.Fprintf(&b, "Service:      %s\n", event.Actor.Service)
	}
	if event.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", event.Message)
	}
	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, event.Details[k])
		}
	}
	fmt.Fprintf(&b, "\nAttempt %s, event %s\n", event.AttemptID, event.ID)
	return b.String()
}
