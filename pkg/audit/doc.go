// Package audit records structured events for each login attempt and forwards
// them to configurable sinks (log, webhook, Kafka, mail). Sink failures never
// influence the outcome of an attempt.
package audit
