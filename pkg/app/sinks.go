package app

import (
	"go.uber.org/zap"

	"github.com/Paulkm2006/ssh-github-auth/pkg/audit"
	"github.com/Paulkm2006/ssh-github-auth/pkg/config"
)

// buildSinks creates the configured audit sinks. A sink that cannot be set
// up is skipped with a warning; auditing never blocks a login. It returns
// nil when nothing is configured.
func buildSinks(cfg config.Audit, logger *zap.Logger) audit.Sink {
	var sinks []audit.Sink

	if cfg.Log {
		sinks = append(sinks, audit.NewLogSink(logger))
	}

	if w := cfg.Webhook; w != nil {
		sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{
			URL:     w.URL,
			Headers: w.Headers,
			Timeout: w.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("Skipping webhook audit sink", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if k := cfg.Kafka; k != nil {
		if sink, err := kafkaSink(k, logger); err != nil {
			logger.Warn("Skipping Kafka audit sink", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if m := cfg.Mail; m != nil {
		if sink, err := mailSink(m, logger); err != nil {
			logger.Warn("Skipping mail audit sink", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		return nil
	}
	return audit.NewMultiSink(sinks, logger)
}

func kafkaSink(k *config.AuditKafka, logger *zap.Logger) (*audit.KafkaSink, error) {
	cfg := audit.KafkaSinkConfig{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: k.RequiredAcks,
		Compression:  k.Compression,
	}
	if k.TLS != nil {
		cfg.TLS = &audit.KafkaTLSConfig{
			Enabled:            true,
			CAFile:             k.TLS.CAFile,
			CertFile:           k.TLS.CertFile,
			KeyFile:            k.TLS.KeyFile,
			InsecureSkipVerify: k.TLS.InsecureSkipTLS,
		}
	}
	if k.SASL != nil {
		password, err := config.ReadSecret(k.SASL.Password, k.SASL.PasswordFile)
		if err != nil {
			return nil, err
		}
		cfg.SASL = &audit.KafkaSASLConfig{
			Mechanism: k.SASL.Mechanism,
			Username:  k.SASL.Username,
			Password:  password,
		}
	}
	return audit.NewKafkaSink(cfg, logger)
}

func mailSink(m *config.AuditMail, logger *zap.Logger) (*audit.MailSink, error) {
	password, err := config.ReadSecret(m.Password, m.PasswordFile)
	if err != nil {
		return nil, err
	}
	events := make([]audit.EventType, 0, len(m.Events))
	for _, e := range m.Events {
		events = append(events, audit.EventType(e))
	}
	return audit.NewMailSink(audit.MailSinkConfig{
		Host:               m.Host,
		Port:               m.Port,
		Username:           m.Username,
		Password:           password,
		InsecureSkipVerify: m.InsecureSkipTLS,
		From:               m.From,
		FromName:           m.FromName,
		To:                 m.To,
		Events:             events,
	}, logger)
}
